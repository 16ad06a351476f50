package condition

import (
	"context"
	"fmt"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/store"
)

// NodesExecutedEvaluator reports whether a configured set of target
// node ids have each executed at least once.
//
// Scope is global-across-execution, not per-loop-iteration: a node
// that executed in an earlier pass through a cycle still counts,
// tracked via each node's execution count (GetExecutionCount, which a
// loop reset does not clear) rather than a per-iteration window.
type NodesExecutedEvaluator struct{}

// NewNodesExecutedEvaluator constructs the evaluator.
func NewNodesExecutedEvaluator() *NodesExecutedEvaluator {
	return &NodesExecutedEvaluator{}
}

func (e *NodesExecutedEvaluator) Evaluate(_ context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, _ *diagram.ExecutableDiagram, inputs map[string]any) (EvaluationResult, error) {
	if node.Condition == nil || len(node.Condition.TargetNodeIDs) == 0 {
		return EvaluationResult{
			Result:   false,
			Metadata: map[string]any{"reason": "no target node ids configured"},
		}, nil
	}

	executedCount := 0
	notExecuted := make([]string, 0)
	for _, id := range node.Condition.TargetNodeIDs {
		if execCtx.GetExecutionCount(id) > 0 {
			executedCount++
		} else {
			notExecuted = append(notExecuted, id)
		}
	}

	result := len(notExecuted) == 0
	output := passthrough(inputs)
	if node.Condition.ExposeIndexAs != "" {
		output = cloneOutput(output)
		output[node.Condition.ExposeIndexAs] = executedCount
	}

	branch := "condfalse"
	if result {
		branch = "condtrue"
	}

	return EvaluationResult{
		Result: result,
		Metadata: map[string]any{
			"target_node_ids": node.Condition.TargetNodeIDs,
			"executed_count":  executedCount,
			"not_executed":    notExecuted,
			"reason":          fmt.Sprintf("%d/%d target nodes executed", executedCount, len(node.Condition.TargetNodeIDs)),
		},
		OutputData: map[string]any{branch: output},
	}, nil
}

func cloneOutput(m map[string]any) map[string]any {
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
