package resolution

import (
	"context"

	"github.com/dipeo/engine/envelope"
	"github.com/dipeo/engine/store"
)

// Provider is an explicit, typed, opt-in source of node input that
// does not arrive over an edge. A node must declare a provider's name
// in RequiredInputs for it to fire — no magic injection of undeclared
// inputs.
type Provider interface {
	Name() string
	Provide(ctx context.Context, execCtx store.ReadOnlyContext) (*envelope.Envelope, error)
}

// ConversationProvider supplies a person_job node's conversation state
// as a special input. The conversation manager itself lives behind
// the services.Conversation port; ConversationLookup is wired in by
// the caller that owns that port.
type ConversationProvider struct {
	Lookup func(ctx context.Context, execCtx store.ReadOnlyContext) ([]envelope.Message, bool)
}

func (p *ConversationProvider) Name() string { return "_conversation" }

func (p *ConversationProvider) Provide(ctx context.Context, execCtx store.ReadOnlyContext) (*envelope.Envelope, error) {
	if p.Lookup == nil {
		return nil, nil
	}
	msgs, ok := p.Lookup(ctx, execCtx)
	if !ok {
		return nil, nil
	}
	f := envelope.NewFactory(execCtx.ID())
	e := f.Conversation("system", msgs)
	return &e, nil
}

// VariablesProvider supplies the execution's current variable map as
// a special input.
type VariablesProvider struct{}

func (p *VariablesProvider) Name() string { return "_variables" }

func (p *VariablesProvider) Provide(_ context.Context, execCtx store.ReadOnlyContext) (*envelope.Envelope, error) {
	vars := execCtx.GetVariables()
	if len(vars) == 0 {
		return nil, nil
	}
	f := envelope.NewFactory(execCtx.ID())
	e := f.JSON("provider/variables", vars)
	return &e, nil
}

// FirstExecutionProvider signals whether this is the node's first
// execution, letting a person_job node pick its first-only prompt
// template. Execution count is already tracked per-node, so the
// provider answers directly from that state.
type FirstExecutionProvider struct {
	NodeID string
}

func (p *FirstExecutionProvider) Name() string { return "_first_execution" }

func (p *FirstExecutionProvider) Provide(_ context.Context, execCtx store.ReadOnlyContext) (*envelope.Envelope, error) {
	isFirst := execCtx.GetExecutionCount(p.NodeID) <= 1
	f := envelope.NewFactory(execCtx.ID())
	e := f.JSON("provider/first_execution", map[string]any{"is_first_execution": isFirst})
	return &e, nil
}

// ProviderRegistry looks providers up by name.
type ProviderRegistry struct {
	providers map[string]Provider
}

// NewProviderRegistry builds a registry pre-populated with the three
// built-in providers.
func NewProviderRegistry(conversationLookup func(ctx context.Context, execCtx store.ReadOnlyContext) ([]envelope.Message, bool)) *ProviderRegistry {
	r := &ProviderRegistry{providers: make(map[string]Provider, 3)}
	r.Register(&ConversationProvider{Lookup: conversationLookup})
	r.Register(&VariablesProvider{})
	r.Register(&FirstExecutionProvider{})
	return r
}

// Register adds or replaces a provider by name.
func (r *ProviderRegistry) Register(p Provider) {
	r.providers[p.Name()] = p
}

// Get looks up a provider by name.
func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}
