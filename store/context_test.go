package store

import (
	"testing"

	"github.com/dipeo/engine/envelope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRunningIncrementsExecutionCount(t *testing.T) {
	ctx := New("exec-1", "", []string{"n1"}, nil)

	count, err := ctx.ToRunning("n1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, ctx.GetExecutionCount("n1"))

	state, ok := ctx.GetState("n1")
	require.True(t, ok)
	assert.Equal(t, NodeStatusRunning, state.Status)
}

func TestToRunningRejectsFromRunning(t *testing.T) {
	ctx := New("exec-1", "", []string{"n1"}, nil)
	_, err := ctx.ToRunning("n1")
	require.NoError(t, err)

	_, err = ctx.ToRunning("n1")
	assert.Error(t, err, "a node must never be running twice simultaneously")
}

func TestToCompletedRecordsOutputOncePerExecutionCount(t *testing.T) {
	ctx := New("exec-1", "", []string{"n1"}, nil)
	_, err := ctx.ToRunning("n1")
	require.NoError(t, err)

	f := envelope.NewFactory("exec-1")
	env := f.Text("n1", "hello")
	require.NoError(t, ctx.ToCompleted("n1", env, nil))

	out, ok := ctx.GetOutput("n1")
	require.True(t, ok)
	assert.Equal(t, "n1", out.ProducedBy())

	assert.Error(t, ctx.ToCompleted("n1", env, nil), "completing twice without a re-run must fail")
}

func TestLoopResetAndReRun(t *testing.T) {
	ctx := New("exec-1", "", []string{"loopnode"}, nil)
	_, err := ctx.ToRunning("loopnode")
	require.NoError(t, err)

	f := envelope.NewFactory("exec-1")
	require.NoError(t, ctx.ToCompleted("loopnode", f.Text("loopnode", "1"), nil))
	require.NoError(t, ctx.Reset("loopnode"))

	count, err := ctx.ToRunning("loopnode")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "execution_count increments again on the second pending->running transition")
}

func TestBranchDecisionRecording(t *testing.T) {
	ctx := New("exec-1", "", []string{"cond"}, nil)
	_, ok := ctx.GetBranchTaken("cond")
	assert.False(t, ok)

	ctx.MarkBranchTaken("cond", "condtrue")
	branch, ok := ctx.GetBranchTaken("cond")
	require.True(t, ok)
	assert.Equal(t, "condtrue", branch)
}

func TestVariablesReadYourWrites(t *testing.T) {
	ctx := New("exec-1", "", nil, map[string]any{"seed": 1})
	v, ok := ctx.GetVariable("seed")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	ctx.SetVariable("i", 3)
	v, ok = ctx.GetVariable("i")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestGetStateIsTotalForUnknownNode(t *testing.T) {
	ctx := New("exec-1", "", nil, nil)
	_, ok := ctx.GetState("missing")
	assert.False(t, ok, "unknown node query returns a sentinel, not a panic")
	assert.Equal(t, 0, ctx.GetExecutionCount("missing"))
}
