package handlers

import (
	"context"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// StartHandler emits the diagram's configured custom_data, or in
// hook-trigger mode, the payload of the most recently recorded
// matching event. The scheduler's readiness strategy is
// responsible for holding a hook-trigger start node pending until a
// matching event has been recorded; by the time this handler runs,
// the event is already present.
type StartHandler struct{}

func (h *StartHandler) NodeType() diagram.NodeType { return diagram.NodeTypeStart }
func (h *StartHandler) RequiredServices() []string { return nil }

func (h *StartHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	cfg := node.Start
	if cfg == nil {
		return Result{Output: map[string]any{"default": map[string]any{}}}
	}

	if !cfg.HookTrigger {
		return Result{Output: map[string]any{"default": cfg.CustomData}}
	}

	event, ok := execCtx.GetHookEvent(cfg.HookEventName)
	if !ok {
		return Result{Output: map[string]any{"default": map[string]any{}}}
	}
	return Result{Output: map[string]any{"default": event}}
}

// Ready reports whether a start node may be dispatched: always true
// for an ordinary start, gated on a recorded matching event for a
// hook-trigger start.
func (h *StartHandler) Ready(node *diagram.Node, execCtx store.ReadOnlyContext) bool {
	if node.Start == nil || !node.Start.HookTrigger {
		return true
	}
	_, ok := execCtx.GetHookEvent(node.Start.HookEventName)
	return ok
}
