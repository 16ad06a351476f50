package handlers

import (
	"context"
	"fmt"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// BatchHandler fans its "items" input out into one output per
// element, in item order, and also returns the whole list as its
// default output.
type BatchHandler struct{}

func (h *BatchHandler) NodeType() diagram.NodeType { return diagram.NodeTypeBatch }
func (h *BatchHandler) RequiredServices() []string { return nil }

func (h *BatchHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	items, ok := inputs["items"].([]any)
	if !ok {
		return fail(fmt.Errorf("batch node %s: \"items\" input must be a list", node.ID), errType("transformation_error"))
	}

	outputs := make([]map[string]any, len(items))
	for i, item := range items {
		outputs[i] = map[string]any{"default": item}
	}
	return Result{Output: map[string]any{"default": items}, BatchOutputs: outputs}
}
