package handlers

import (
	"context"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// UserResponseHandler surfaces a human-in-the-loop response recorded
// against this node's id, mirroring the hook-trigger start node's
// event-wait mechanics but keyed per-node rather than per-event-name: a
// request is published, the node waits, a response arrives
// asynchronously and is recorded back into the execution before the
// node is considered ready.
type UserResponseHandler struct{}

func (h *UserResponseHandler) NodeType() diagram.NodeType { return diagram.NodeTypeUserResponse }
func (h *UserResponseHandler) RequiredServices() []string { return nil }

func (h *UserResponseHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	event, ok := execCtx.GetHookEvent(node.ID)
	if !ok {
		return Result{Output: map[string]any{"default": map[string]any{}}}
	}
	return Result{Output: map[string]any{"default": event}}
}

// Ready reports whether a response has been recorded for this node;
// the scheduler's readiness strategy holds the node pending otherwise.
func (h *UserResponseHandler) Ready(node *diagram.Node, execCtx store.ReadOnlyContext) bool {
	_, ok := execCtx.GetHookEvent(node.ID)
	return ok
}
