// Package condition implements the four condition-node evaluator
// kinds: custom_expression (CEL), max_iterations, nodes_executed, and
// llm_decision.
package condition

import (
	"context"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/store"
)

// EvaluationResult is what every evaluator returns: the boolean
// decision, metadata for diagnostics, and the output data to attach
// to the chosen branch's envelope. custom_expression returns that data
// directly; max_iterations and nodes_executed return it keyed by the
// branch name (condtrue/condfalse).
type EvaluationResult struct {
	Result     bool
	Metadata   map[string]any
	OutputData map[string]any
}

// Evaluator is the interface every condition-node evaluator kind
// implements.
type Evaluator interface {
	Evaluate(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any) (EvaluationResult, error)
}

// Registry dispatches by evaluator kind: a closed tag union plus a
// registry from tag to handler, the same dynamic-dispatch pattern the
// node-type handler registry uses, applied one level down to condition
// evaluator kinds.
type Registry struct {
	evaluators map[diagram.ConditionEvaluatorKind]Evaluator
}

// NewRegistry builds the registry with the four built-in evaluators.
// llmDecision may be nil if no LLM service port is configured; the
// llm_decision evaluator kind then fails loudly when invoked rather
// than silently falling back.
func NewRegistry(llmDecision Evaluator) *Registry {
	r := &Registry{evaluators: make(map[diagram.ConditionEvaluatorKind]Evaluator, 4)}
	r.evaluators[diagram.EvaluatorCustomExpression] = NewCustomExpressionEvaluator()
	r.evaluators[diagram.EvaluatorMaxIterations] = NewMaxIterationsEvaluator()
	r.evaluators[diagram.EvaluatorNodesExecuted] = NewNodesExecutedEvaluator()
	if llmDecision != nil {
		r.evaluators[diagram.EvaluatorLLMDecision] = llmDecision
	}
	return r
}

// Get returns the evaluator registered for a kind.
func (r *Registry) Get(kind diagram.ConditionEvaluatorKind) (Evaluator, bool) {
	e, ok := r.evaluators[kind]
	return e, ok
}
