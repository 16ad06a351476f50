package condition

import (
	"context"
	"fmt"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/store"
)

// EvaluateCondition implements handlers.ConditionEvaluator: it looks
// up the evaluator named by the node's configured kind and runs it,
// flattening the (EvaluationResult, error) shape into the four
// return values the handler package expects.
func (r *Registry) EvaluateCondition(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any) (bool, map[string]any, map[string]any, error) {
	if node.Condition == nil {
		return false, nil, nil, fmt.Errorf("condition node %s has no configuration", node.ID)
	}
	ev, ok := r.Get(node.Condition.Evaluator)
	if !ok {
		return false, nil, nil, fmt.Errorf("condition node %s: no evaluator registered for kind %q", node.ID, node.Condition.Evaluator)
	}
	result, err := ev.Evaluate(ctx, node, execCtx, diag, inputs)
	if err != nil {
		return false, nil, nil, err
	}
	return result.Result, result.OutputData, result.Metadata, nil
}
