package condition

import (
	"context"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/store"
)

// MaxIterationsEvaluator reports whether every person_job node that
// has executed at least once has reached its MaxIterReached status.
type MaxIterationsEvaluator struct{}

// NewMaxIterationsEvaluator constructs the evaluator.
func NewMaxIterationsEvaluator() *MaxIterationsEvaluator {
	return &MaxIterationsEvaluator{}
}

func (e *MaxIterationsEvaluator) Evaluate(_ context.Context, _ *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any) (EvaluationResult, error) {
	var personJobNodes []*diagram.Node
	for _, n := range diag.Nodes {
		if n.Type == diagram.NodeTypePersonJob {
			personJobNodes = append(personJobNodes, n)
		}
	}

	if len(personJobNodes) == 0 {
		return EvaluationResult{
			Result:   false,
			Metadata: map[string]any{"reason": "no person_job nodes found"},
		}, nil
	}

	foundExecuted := false
	allReachedMax := true
	for _, n := range personJobNodes {
		count := execCtx.GetExecutionCount(n.ID)
		if count == 0 {
			continue
		}
		foundExecuted = true
		state, ok := execCtx.GetState(n.ID)
		if !ok || state.Status != store.NodeStatusMaxIterReached {
			allReachedMax = false
			break
		}
	}

	result := foundExecuted && allReachedMax
	var output map[string]any
	if result {
		output = map[string]any{"condtrue": passthrough(inputs)}
	} else {
		output = map[string]any{"condfalse": passthrough(inputs)}
	}

	return EvaluationResult{
		Result: result,
		Metadata: map[string]any{
			"found_executed":   foundExecuted,
			"all_reached_max":  allReachedMax,
			"person_job_count": len(personJobNodes),
		},
		OutputData: output,
	}, nil
}
