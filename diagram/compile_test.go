package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linearDiagram() *Diagram {
	return &Diagram{
		ID: "d1",
		Nodes: []DeclNode{
			{ID: "start", Type: NodeTypeStart, Config: map[string]any{"custom_data": map[string]any{"greeting": "hi"}}},
			{ID: "code", Type: NodeTypeCodeJob, Config: map[string]any{"language": "python", "code": "result = inputs['default']"}},
			{ID: "end", Type: NodeTypeEnd, Config: map[string]any{"save_to_file": "out.txt"}},
		},
		Arrows: []DeclArrow{
			{ID: "a1", Source: "start", Target: "code"},
			{ID: "a2", Source: "code", Target: "end"},
		},
	}
}

func TestCompileLinearDiagram(t *testing.T) {
	res := Compile(linearDiagram())
	require.True(t, res.OK(), "errors: %v", res.Errors)
	require.Empty(t, res.Warnings)

	d := res.Diagram
	start, ok := d.NodeByID("start")
	require.True(t, ok)
	assert.False(t, start.IsTerminal)

	end, ok := d.NodeByID("end")
	require.True(t, ok)
	assert.True(t, end.IsTerminal)

	assert.Len(t, d.IncomingEdges("code"), 1)
	assert.Len(t, d.OutgoingEdges("start"), 1)
}

func TestCompileEmptyDiagramErrors(t *testing.T) {
	res := Compile(&Diagram{})
	assert.False(t, res.OK())
	assert.Contains(t, res.Errors, "diagram has no nodes")
}

func TestCompileMissingStartIsError(t *testing.T) {
	d := &Diagram{
		Nodes: []DeclNode{{ID: "end", Type: NodeTypeEnd}},
	}
	res := Compile(d)
	assert.False(t, res.OK())
	assert.Contains(t, res.Errors, "diagram has no start node")
}

func TestCompileMissingEndIsWarningOnly(t *testing.T) {
	d := &Diagram{
		Nodes: []DeclNode{{ID: "start", Type: NodeTypeStart}},
	}
	res := Compile(d)
	require.True(t, res.OK())
	assert.Contains(t, res.Warnings, "diagram has no end node")
}

func TestCompileDuplicateNodeIDIsError(t *testing.T) {
	d := &Diagram{
		Nodes: []DeclNode{
			{ID: "start", Type: NodeTypeStart},
			{ID: "start", Type: NodeTypeEnd},
		},
	}
	res := Compile(d)
	assert.False(t, res.OK())
	assert.Contains(t, res.Errors, "duplicate node id: start")
}

func TestCompileDanglingArrowIsError(t *testing.T) {
	d := &Diagram{
		Nodes:  []DeclNode{{ID: "start", Type: NodeTypeStart}},
		Arrows: []DeclArrow{{ID: "a1", Source: "start", Target: "missing"}},
	}
	res := Compile(d)
	assert.False(t, res.OK())
}

func TestCompileConditionMissingBranchWarns(t *testing.T) {
	d := &Diagram{
		Nodes: []DeclNode{
			{ID: "start", Type: NodeTypeStart},
			{ID: "cond", Type: NodeTypeCondition, Config: map[string]any{"evaluator": "custom_expression", "expression": "x > 1"}},
			{ID: "end", Type: NodeTypeEnd},
		},
		Arrows: []DeclArrow{
			{ID: "a1", Source: "start", Target: "cond"},
			{ID: "a2", Source: "cond:condtrue", Target: "end"},
		},
	}
	res := Compile(d)
	require.True(t, res.OK())
	found := false
	for _, w := range res.Warnings {
		if w == "condition node cond does not route both condtrue and condfalse" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCompileIsIdempotent(t *testing.T) {
	d := linearDiagram()
	r1 := Compile(d)
	r2 := Compile(d)
	require.True(t, r1.OK())
	require.True(t, r2.OK())
	assert.Equal(t, len(r1.Diagram.Nodes), len(r2.Diagram.Nodes))
	assert.Equal(t, len(r1.Diagram.Edges), len(r2.Diagram.Edges))
}

func TestCompileCycleIsWarningNotError(t *testing.T) {
	d := &Diagram{
		Nodes: []DeclNode{
			{ID: "start", Type: NodeTypeStart},
			{ID: "job", Type: NodeTypeCodeJob, Config: map[string]any{"language": "python", "code": "x"}},
			{ID: "cond", Type: NodeTypeCondition, Config: map[string]any{"evaluator": "max_iterations"}},
			{ID: "end", Type: NodeTypeEnd},
		},
		Arrows: []DeclArrow{
			{ID: "a1", Source: "start", Target: "job"},
			{ID: "a2", Source: "job", Target: "cond"},
			{ID: "a3", Source: "cond:condfalse", Target: "job"},
			{ID: "a4", Source: "cond:condtrue", Target: "end"},
		},
	}
	res := Compile(d)
	require.True(t, res.OK())
	hasCycleWarning := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "contains a cycle") {
			hasCycleWarning = true
		}
	}
	assert.True(t, hasCycleWarning)
}
