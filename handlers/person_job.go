package handlers

import (
	"context"
	"fmt"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// PersonJobHandler builds a prompt, composes it with prior
// conversation under the configured memory policy, calls the LLM
// service, and records token usage.
type PersonJobHandler struct{}

func (h *PersonJobHandler) NodeType() diagram.NodeType { return diagram.NodeTypePersonJob }
func (h *PersonJobHandler) RequiredServices() []string {
	return []string{"llm", "template", "conversation"}
}

func (h *PersonJobHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	cfg := node.PersonJob
	if cfg == nil {
		return fail(fmt.Errorf("person_job node %s has no configuration", node.ID), errType("missing_config"))
	}
	if svc == nil || svc.LLM == nil || svc.Template == nil {
		return fail(fmt.Errorf("person_job node %s requires llm and template services", node.ID), errType("missing_service"))
	}

	execCount := execCtx.GetExecutionCount(node.ID)
	tmpl := cfg.DefaultPromptTemplate
	if execCount <= 1 && cfg.FirstOnlyPromptTemplate != "" {
		tmpl = cfg.FirstOnlyPromptTemplate
	}

	values := make(map[string]any, len(inputs)+len(execCtx.GetVariables()))
	for k, v := range execCtx.GetVariables() {
		values[k] = v
	}
	for k, v := range inputs {
		values[k] = v
	}

	rendered, err := svc.Template.Process(ctx, tmpl, values)
	if err != nil {
		return fail(err, errType("template"))
	}
	if len(rendered.MissingKeys) > 0 {
		return fail(fmt.Errorf("person_job node %s: missing template variables: %v", node.ID, rendered.MissingKeys), errType("transformation_error"))
	}

	history := h.priorMessages(ctx, cfg, svc)

	messages := make([]services.LLMMessage, 0, len(history)+2)
	if cfg.SystemPrompt != "" {
		messages = append(messages, services.LLMMessage{Role: "system", Content: cfg.SystemPrompt})
	}
	for _, m := range history {
		messages = append(messages, services.LLMMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, services.LLMMessage{Role: "user", Content: rendered.Content})

	completion, err := svc.LLM.Complete(ctx, messages, cfg.Model, cfg.APIKeyRef, nil)
	if err != nil {
		return fail(err, errType("llm"))
	}

	if svc.Conversation != nil {
		_ = svc.Conversation.AddMessage(ctx, cfg.PersonID, "user", rendered.Content, execCtx.ID())
		_ = svc.Conversation.AddMessage(ctx, cfg.PersonID, "assistant", completion.Text, execCtx.ID())
	}

	output := map[string]any{"default": completion.Text}
	if len(history) > 0 {
		output["conversation"] = history
	}

	usage := &store.TokenUsage{
		PromptTokens:     completion.TokenUsage.PromptTokens,
		CompletionTokens: completion.TokenUsage.CompletionTokens,
		TotalTokens:      completion.TokenUsage.TotalTokens,
	}
	return Result{Output: output, TokenUsage: usage}
}

// priorMessages fetches the person's prior messages from the
// conversation service, passing the configured memory policy as the
// forget mode; any retaining or dropping of history by policy happens
// in that service, not here. It returns nil when no conversation
// service is registered or the lookup fails.
func (h *PersonJobHandler) priorMessages(ctx context.Context, cfg *diagram.PersonJobConfig, svc *services.Registry) []services.ConversationMessage {
	if svc.Conversation == nil {
		return nil
	}
	msgs, err := svc.Conversation.GetMessages(ctx, cfg.PersonID, string(cfg.MemoryPolicy))
	if err != nil {
		return nil
	}
	return msgs
}
