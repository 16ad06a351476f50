package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactoryTextRoundTrip(t *testing.T) {
	f := NewFactory("exec-1")
	e := f.Text("node-a", "hello")

	assert.Equal(t, ContentRawText, e.ContentType())
	assert.Equal(t, "node-a", e.ProducedBy())
	assert.Equal(t, "exec-1", e.TraceID())

	text, err := e.AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	_, err = e.AsBytes()
	assert.Error(t, err, "raw_text must not coerce to bytes")
}

func TestAsTextCoercesObjectToJSONString(t *testing.T) {
	f := NewFactory("exec-1")
	e := f.JSON("node-a", map[string]any{"greeting": "hi"})

	text, err := e.AsText()
	require.NoError(t, err)
	assert.JSONEq(t, `{"greeting":"hi"}`, text)
}

func TestAsJSONParsesRawTextWhenUnambiguous(t *testing.T) {
	f := NewFactory("exec-1")
	e := f.Text("node-a", `{"x":1}`)

	v, err := e.AsJSON()
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), m["x"])
}

func TestAsJSONRejectsUnparsableRawText(t *testing.T) {
	f := NewFactory("exec-1")
	e := f.Text("node-a", "not json")

	_, err := e.AsJSON()
	assert.Error(t, err)
	var coerceErr *CoercionError
	assert.ErrorAs(t, err, &coerceErr)
}

func TestWithMetaIsImmutable(t *testing.T) {
	f := NewFactory("exec-1")
	base := f.Text("node-a", "x")
	tagged := base.WithIteration(3).WithBranch("condtrue")

	_, baseHasIter := base.Iteration()
	assert.False(t, baseHasIter)

	iter, ok := tagged.Iteration()
	require.True(t, ok)
	assert.Equal(t, 3, iter)

	branch, ok := tagged.BranchID()
	require.True(t, ok)
	assert.Equal(t, "condtrue", branch)
}

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	f := NewFactory("exec-1")
	orig := f.JSON("node-a", map[string]any{"a": float64(1), "b": "two"}).WithIteration(2)

	data, err := orig.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, orig.ID(), got.ID())
	assert.Equal(t, orig.TraceID(), got.TraceID())
	assert.Equal(t, orig.ProducedBy(), got.ProducedBy())
	assert.Equal(t, orig.ContentType(), got.ContentType())
	assert.Equal(t, orig.Body(), got.Body())
	iter, ok := got.Iteration()
	require.True(t, ok)
	assert.Equal(t, 2, iter)
}

func TestDeserializeRejectsMissingDiscriminator(t *testing.T) {
	_, err := Deserialize([]byte(`{"id":"x","content_type":"raw_text","body":"\"hi\""}`))
	assert.Error(t, err)
}

func TestAsMatrixValidatesShape(t *testing.T) {
	f := NewFactory("exec-1")
	e := f.NumpyArray("node-a", []float64{1, 2, 3, 4}, []int{2, 2}, "float64")

	vals, err := e.AsMatrix([]int{2, 2}, "float64")
	require.NoError(t, err)
	assert.Len(t, vals, 4)

	_, err = e.AsMatrix([]int{3, 3}, "float64")
	assert.Error(t, err, "mismatched shape must fail loudly")
}
