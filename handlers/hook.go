package handlers

import (
	"context"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// HookHandler passes its inputs through unchanged; it exists as an
// extension point for diagrams that use a hook node purely to name a
// point other tooling observes.
type HookHandler struct{}

func (h *HookHandler) NodeType() diagram.NodeType { return diagram.NodeTypeHook }
func (h *HookHandler) RequiredServices() []string { return nil }

func (h *HookHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	value, ok := inputs["default"]
	if !ok {
		value = inputs
	}
	return Result{Output: map[string]any{"default": value}}
}
