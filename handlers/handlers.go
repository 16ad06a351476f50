// Package handlers implements the Handler Registry: one Handler per
// node type, dispatched by the scheduler with the node's resolved
// inputs, a read-only execution-context view, and the service
// registry.
package handlers

import (
	"context"
	"fmt"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// Result is what a handler returns: the output value (packed under
// "default" unless the handler names other keys), side-channel
// variable writes the scheduler applies atomically on completion, and
// optional token usage the scheduler records on the node's state and
// the execution's running total when it completes the node. BranchTaken
// is set only by the condition handler, naming which of
// condtrue/condfalse fired; the scheduler records it via
// ExecutionContext.MarkBranchTaken.
type Result struct {
	Output       map[string]any
	SetVariables map[string]any
	TokenUsage   *store.TokenUsage
	BranchTaken  string
	Err          error
	ErrType      string

	// BatchOutputs is set only by the batch handler: one output map
	// per batch element, each stored by the scheduler as node metadata
	// under "batch_output_<index>" (a plain map, not an envelope); the
	// default output still carries the whole item list.
	BatchOutputs []map[string]any
}

// Handler executes one node type. Handlers never touch the execution
// context directly — they receive a read-only view and return a
// value that the scheduler writes back.
type Handler interface {
	NodeType() diagram.NodeType
	RequiredServices() []string
	Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result
}

// Registry is the process-wide node-type -> Handler map, matching the
// dispatch pattern condition.Registry uses for evaluator kinds.
type Registry struct {
	handlers map[diagram.NodeType]Handler
}

// NewRegistry builds the registry with every built-in handler wired in.
func NewRegistry(conditionRegistry ConditionEvaluator) *Registry {
	r := &Registry{handlers: make(map[diagram.NodeType]Handler, 11)}
	for _, h := range []Handler{
		&StartHandler{},
		&EndHandler{},
		&ConditionHandler{Evaluate: conditionRegistry},
		&PersonJobHandler{},
		&CodeJobHandler{},
		&APIJobHandler{},
		&DBHandler{},
		&HookHandler{},
		&UserResponseHandler{},
		&NotionHandler{},
		&BatchHandler{},
	} {
		r.handlers[h.NodeType()] = h
	}
	return r
}

// Get returns the handler registered for a node type.
func (r *Registry) Get(t diagram.NodeType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// ConditionEvaluator is the narrow slice of condition.Registry the
// ConditionHandler needs, kept as an interface here so this package
// does not import condition (which would create an import cycle if
// condition ever needed handler types).
type ConditionEvaluator interface {
	EvaluateCondition(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any) (result bool, output map[string]any, metadata map[string]any, err error)
}

func fail(err error, errType string) Result {
	return Result{Output: map[string]any{"default": ""}, Err: err, ErrType: errType}
}

func errType(kind string) string { return fmt.Sprintf("handler_error:%s", kind) }
