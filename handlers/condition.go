package handlers

import (
	"context"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// ConditionHandler delegates to the evaluator named by the node's
// configured kind and packs the boolean result as exactly one of
// condtrue/condfalse: the unused branch is never emitted.
type ConditionHandler struct {
	Evaluate ConditionEvaluator
}

func (h *ConditionHandler) NodeType() diagram.NodeType { return diagram.NodeTypeCondition }
func (h *ConditionHandler) RequiredServices() []string { return nil }

func (h *ConditionHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	if h.Evaluate == nil {
		return fail(errNoEvaluator{}, errType("condition_registry_missing"))
	}

	result, output, metadata, err := h.Evaluate.EvaluateCondition(ctx, node, execCtx, diag, inputs)
	if err != nil {
		return fail(err, errType("condition_evaluation"))
	}

	branch := "condfalse"
	if result {
		branch = "condtrue"
	}
	// Some evaluators key their output data by the branch they chose;
	// unwrap it so the data is keyed by the branch only once.
	if inner, ok := output[branch].(map[string]any); ok && len(output) == 1 {
		output = inner
	}
	out := map[string]any{branch: output}
	if node.Condition != nil && node.Condition.ExposeIndexAs != "" {
		if v, ok := output[node.Condition.ExposeIndexAs]; ok {
			return Result{Output: out, BranchTaken: branch, SetVariables: map[string]any{node.Condition.ExposeIndexAs: v}}
		}
	}
	_ = metadata
	return Result{Output: out, BranchTaken: branch}
}

type errNoEvaluator struct{}

func (errNoEvaluator) Error() string { return "no condition evaluator registry configured" }
