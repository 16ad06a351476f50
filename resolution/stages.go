package resolution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/envelope"
)

func edgeKey(e *diagram.Edge) string {
	if e.ID != "" {
		return e.ID
	}
	return fmt.Sprintf("%s:%s->%s:%s", e.SourceNodeID, e.SourceOutput, e.TargetNodeID, e.TargetInput)
}

// IncomingEdgesStage collects every edge targeting the node and the
// envelope each source node most recently produced.
type IncomingEdgesStage struct{}

func (s *IncomingEdgesStage) Name() string { return "IncomingEdges" }

func (s *IncomingEdgesStage) Process(_ context.Context, p *PipelineContext) error {
	p.IncomingEdges = p.Diagram.IncomingEdges(p.Node.ID)
	for _, e := range p.IncomingEdges {
		out, ok := p.ExecCtx.GetOutput(e.SourceNodeID)
		if !ok {
			continue
		}
		p.EdgeValues[edgeKey(e)] = out
	}
	return nil
}

// FilterStage drops edges whose value isn't meant for this dispatch:
// no value yet, or a branch handle (condtrue/condfalse) the condition
// node didn't actually take. Branch matching compares the edge's own
// declared source handle against store.ReadOnlyContext's recorded
// branch rather than the envelope's self-reported branch meta, since
// every outgoing edge of a condition node shares the single envelope
// that node produced — the envelope can't tell condtrue-bound and
// condfalse-bound edges apart, only the edge's SourceOutput can.
type FilterStage struct{}

func (s *FilterStage) Name() string { return "Filter" }

func (s *FilterStage) Process(_ context.Context, p *PipelineContext) error {
	p.HasSpecialInputs = p.Node.Type == diagram.NodeTypePersonJob && len(p.Node.RequiredInputs) > 0

	for _, e := range p.IncomingEdges {
		if _, ok := p.EdgeValues[edgeKey(e)]; !ok {
			continue
		}
		if srcNode, ok := p.Diagram.NodeByID(e.SourceNodeID); ok && srcNode.Type == diagram.NodeTypeCondition {
			taken, tok := p.ExecCtx.GetBranchTaken(e.SourceNodeID)
			if tok && e.SourceOutput != "" && e.SourceOutput != "default" && e.SourceOutput != taken {
				continue
			}
		}
		p.FilteredEdges = append(p.FilteredEdges, e)
	}
	return nil
}

// SpecialInputsStage injects implicit, unconditional special inputs:
// currently the execution's variable map. Node-opt-in inputs
// (conversation state, first-execution signal) are handled by
// ProvidersStage, kept as a distinct later stage under the
// explicit/opt-in provider model.
type SpecialInputsStage struct{}

func (s *SpecialInputsStage) Name() string { return "SpecialInputs" }

func (s *SpecialInputsStage) Process(_ context.Context, p *PipelineContext) error {
	vars := p.ExecCtx.GetVariables()
	if len(vars) > 0 {
		f := envelope.NewFactory(p.ExecCtx.ID())
		p.SpecialInputs["_variables"] = f.JSON("system", vars)
	}
	return nil
}

// ProvidersStage invokes every provider a node has opted into by
// naming it in RequiredInputs: explicit, typed, opt-in — no undeclared
// injection.
type ProvidersStage struct {
	Providers *ProviderRegistry
}

func (s *ProvidersStage) Name() string { return "Providers" }

func (s *ProvidersStage) Process(ctx context.Context, p *PipelineContext) error {
	for _, name := range p.Node.RequiredInputs {
		if !strings.HasPrefix(name, "_") {
			continue
		}
		if name == "_first_execution" {
			prov := &FirstExecutionProvider{NodeID: p.Node.ID}
			env, err := prov.Provide(ctx, p.ExecCtx)
			if err != nil {
				return err
			}
			if env != nil {
				p.SpecialInputs[name] = *env
			}
			continue
		}
		if s.Providers == nil {
			continue
		}
		prov, ok := s.Providers.Get(name)
		if !ok {
			return InputResolutionError(p.Node.ID, fmt.Sprintf("no provider registered for required input %q", name))
		}
		env, err := prov.Provide(ctx, p.ExecCtx)
		if err != nil {
			return err
		}
		if env != nil {
			p.SpecialInputs[name] = *env
		}
	}
	return nil
}

// TransformStage coerces each filtered edge's envelope to a plain
// value, applies its transform rules, and binds it into the node's
// input namespace according to its packing mode. Field-path extraction
// rules use gjson against the envelope's JSON-coerced text: a
// "field:<path>" rule plucks a nested field out of a structured body.
type TransformStage struct{}

func (s *TransformStage) Name() string { return "Transform" }

func (s *TransformStage) Process(_ context.Context, p *PipelineContext) error {
	for _, e := range p.IncomingEdges {
		env, ok := p.EdgeValues[edgeKey(e)]
		if !ok {
			continue
		}
		isFiltered := false
		for _, fe := range p.FilteredEdges {
			if fe == e {
				isFiltered = true
				break
			}
		}
		if !isFiltered {
			continue
		}

		value, err := coerce(env)
		if err != nil {
			return err
		}
		value = applyTransformRules(value, e.TransformRules)

		switch e.Packing {
		case diagram.PackingSpread:
			m, ok := value.(map[string]any)
			if !ok {
				return TransformationError(e.TargetNodeID, e.ID,
					fmt.Sprintf("cannot use 'spread' packing with non-%s value", "dict"),
					fmt.Sprintf("%T", value), "dict")
			}
			var conflicting []string
			for k := range m {
				if _, exists := p.Transformed[k]; exists {
					conflicting = append(conflicting, k)
				}
			}
			if len(conflicting) > 0 {
				return SpreadCollisionError(e.TargetNodeID, e.ID, conflicting)
			}
			for k, v := range m {
				p.Transformed[k] = v
			}
		default: // pack
			key := e.TargetInput
			if key == "" {
				key = "default"
			}
			p.Transformed[key] = value
		}
	}
	return nil
}

func coerce(env envelope.Envelope) (any, error) {
	switch env.ContentType() {
	case envelope.ContentRawText:
		return env.AsText()
	case envelope.ContentObject:
		return env.AsJSON()
	case envelope.ContentConversationState:
		return env.AsConversation()
	case envelope.ContentBinary:
		return env.AsBytes()
	default:
		return env.Body(), nil
	}
}

func applyTransformRules(value any, rules []string) any {
	for _, rule := range rules {
		switch {
		case rule == "json_to_text":
			if b, err := json.Marshal(value); err == nil {
				value = string(b)
			}
		case rule == "text_to_json":
			if s, ok := value.(string); ok {
				var v any
				if err := json.Unmarshal([]byte(s), &v); err == nil {
					value = v
				}
			}
		case strings.HasPrefix(rule, "field:"):
			path := strings.TrimPrefix(rule, "field:")
			var text string
			switch v := value.(type) {
			case string:
				text = v
			default:
				if b, err := json.Marshal(v); err == nil {
					text = string(b)
				}
			}
			result := gjson.Get(text, path)
			if result.Exists() {
				value = result.Value()
			}
		}
	}
	return value
}

// DefaultsStage merges the transformed values with non-overriding
// special inputs, fills in node-level defaults for still-missing
// required inputs, and records (non-fatal) validation warnings for
// whatever remains missing.
type DefaultsStage struct{}

func (s *DefaultsStage) Name() string { return "Defaults" }

func (s *DefaultsStage) Process(_ context.Context, p *PipelineContext) error {
	p.FinalInputs = make(map[string]any, len(p.Transformed)+len(p.SpecialInputs))
	for k, v := range p.Transformed {
		p.FinalInputs[k] = v
	}
	for k, v := range p.SpecialInputs {
		if _, exists := p.FinalInputs[k]; !exists {
			p.FinalInputs[k] = v
		}
	}

	for _, required := range p.Node.RequiredInputs {
		if _, exists := p.FinalInputs[required]; exists {
			continue
		}
		if def, ok := p.Node.Defaults[required]; ok {
			p.FinalInputs[required] = def
		}
	}

	for _, required := range p.Node.RequiredInputs {
		if v, exists := p.FinalInputs[required]; !exists || v == nil {
			p.ValidationErrs = append(p.ValidationErrs, fmt.Sprintf("missing required input: %s", required))
		}
	}
	return nil
}
