package condition

import (
	"context"
	"fmt"
	"strings"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// LLMDecisionEvaluator asks a configured person to judge a prompt and
// reduces the completion to a binary branch decision. Unlike the other
// three evaluator kinds it needs the llm and template ports, so it
// takes them at construction time rather than through the Evaluate
// call's fixed signature.
type LLMDecisionEvaluator struct {
	llm      services.LLM
	template services.Template
}

// NewLLMDecisionEvaluator constructs the evaluator. template may be
// nil, in which case the configured prompt is sent to the model
// unrendered.
func NewLLMDecisionEvaluator(llm services.LLM, template services.Template) *LLMDecisionEvaluator {
	return &LLMDecisionEvaluator{llm: llm, template: template}
}

func (e *LLMDecisionEvaluator) Evaluate(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, _ *diagram.ExecutableDiagram, inputs map[string]any) (EvaluationResult, error) {
	cfg := node.Condition
	if cfg == nil {
		return EvaluationResult{}, fmt.Errorf("condition node %s has no configuration", node.ID)
	}
	if cfg.Prompt == "" {
		return EvaluationResult{}, fmt.Errorf("condition node %s: llm_decision requires a prompt", node.ID)
	}
	if e.llm == nil {
		return EvaluationResult{}, fmt.Errorf("condition node %s: llm_decision requires an LLM service", node.ID)
	}

	prompt := cfg.Prompt
	if e.template != nil {
		values := make(map[string]any, len(inputs)+4)
		for k, v := range execCtx.GetVariables() {
			values[k] = v
		}
		for k, v := range inputs {
			values[k] = v
		}
		if rendered, err := e.template.Process(ctx, prompt, values); err == nil {
			prompt = rendered.Content
		}
	}

	completion, err := e.llm.Complete(ctx, []services.LLMMessage{{Role: "user", Content: prompt}}, cfg.Model, cfg.APIKeyRef, nil)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("condition node %s: llm_decision: %w", node.ID, err)
	}

	decision := parseBinaryDecision(completion.Text)
	output := map[string]any{}
	if decision {
		output["condtrue"] = passthrough(inputs)
	} else {
		output["condfalse"] = passthrough(inputs)
	}

	return EvaluationResult{
		Result: decision,
		Metadata: map[string]any{
			"person_id":      cfg.PersonID,
			"prompt_preview": preview(prompt, 200),
			"raw_response":   completion.Text,
		},
		OutputData: output,
	}, nil
}

// parseBinaryDecision reduces a free-form completion to true/false: a
// response is affirmative if the first word it contains is "yes" or
// "true", case-insensitively. Anything else, including an empty
// response, is treated as a negative decision.
func parseBinaryDecision(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	first := strings.ToLower(strings.Trim(fields[0], ".,!?\"'"))
	return first == "yes" || first == "true"
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
