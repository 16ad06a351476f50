package resolution

import (
	"context"
	"fmt"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/envelope"
	"github.com/dipeo/engine/store"
)

// PipelineContext accumulates data as it flows through the pipeline's
// stages, letting each stage see what earlier stages produced.
type PipelineContext struct {
	Node    *diagram.Node
	ExecCtx store.ReadOnlyContext
	Diagram *diagram.ExecutableDiagram

	IncomingEdges  []*diagram.Edge
	FilteredEdges  []*diagram.Edge
	EdgeValues     map[string]envelope.Envelope // keyed by edge ID
	SpecialInputs  map[string]envelope.Envelope
	Transformed    map[string]any
	FinalInputs    map[string]any
	ValidationErrs []string

	HasSpecialInputs bool
}

// Stage is one focused step of the pipeline.
type Stage interface {
	Process(ctx context.Context, p *PipelineContext) error
	Name() string
}

// Pipeline runs a node's inputs through an ordered list of stages: the
// special_inputs and providers concerns are kept as two distinct
// stages rather than collapsed into one, so each can be reasoned about
// and tested independently.
type Pipeline struct {
	stages []Stage
}

// New builds the standard six-stage pipeline.
func New(providers *ProviderRegistry) *Pipeline {
	return &Pipeline{stages: []Stage{
		&IncomingEdgesStage{},
		&FilterStage{},
		&SpecialInputsStage{},
		&ProvidersStage{Providers: providers},
		&TransformStage{},
		&DefaultsStage{},
	}}
}

// Resolve runs a node's inputs through every stage in order, returning
// the final input map a handler receives.
func (p *Pipeline) Resolve(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram) (map[string]any, []string, error) {
	pc := &PipelineContext{
		Node:       node,
		ExecCtx:    execCtx,
		Diagram:    diag,
		EdgeValues: make(map[string]envelope.Envelope),
		SpecialInputs: make(map[string]envelope.Envelope),
		Transformed:   make(map[string]any),
	}

	for _, stage := range p.stages {
		if err := stage.Process(ctx, pc); err != nil {
			if _, ok := err.(*Error); ok {
				return nil, nil, err
			}
			return nil, nil, InputResolutionError(node.ID, fmt.Sprintf("stage %s: %v", stage.Name(), err))
		}
	}

	return pc.FinalInputs, pc.ValidationErrs, nil
}
