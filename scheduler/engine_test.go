package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/eventbus"
	"github.com/dipeo/engine/handlers"
	"github.com/dipeo/engine/resolution"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"

	"github.com/dipeo/engine/common/logger"
)

// fakeLLM is a minimal services.LLM stub for person_job scenario tests.
type fakeLLM struct{}

func (fakeLLM) Complete(ctx context.Context, messages []services.LLMMessage, model, apiKeyID string, options services.LLMOptions) (services.LLMResult, error) {
	return services.LLMResult{Text: "ack"}, nil
}

func (fakeLLM) AvailableModels(ctx context.Context, service, apiKeyID string) ([]string, error) {
	return nil, nil
}

// fakeTemplate renders a template by returning it unchanged; none of
// the scenarios below use substitution syntax.
type fakeTemplate struct{}

func (fakeTemplate) Process(ctx context.Context, template string, values map[string]any) (services.TemplateResult, error) {
	return services.TemplateResult{Content: template}, nil
}

func compile(t *testing.T, decl *diagram.Diagram) *diagram.ExecutableDiagram {
	t.Helper()
	res := diagram.Compile(decl)
	require.True(t, res.OK(), "compile errors: %v", res.Errors)
	return res.Diagram
}

func newEngine(diag *diagram.ExecutableDiagram, nodeIDs []string, variables map[string]any, svc *services.Registry, bus *eventbus.Bus, cfg EngineConfig) (*Engine, store.ExecutionContext) {
	execCtx := store.New("exec-1", diag.ID, nodeIDs, variables)
	condRegistry := NewConditionRegistry(nil)
	return &Engine{
		Diagram:  diag,
		ExecCtx:  execCtx,
		Handlers: handlers.NewRegistry(condRegistry),
		Pipeline: resolution.New(resolution.NewProviderRegistry(nil)),
		Bus:      bus,
		Services: svc,
		Logger:   logger.New("error", "json"),
		Config:   cfg,
	}, execCtx
}

// linearDiagram builds a three-node start -> code_job -> end chain with
// no external service dependencies.
func linearDiagram(t *testing.T) (*diagram.ExecutableDiagram, []string) {
	decl := &diagram.Diagram{
		ID: "linear",
		Nodes: []diagram.DeclNode{
			{ID: "start1", Type: diagram.NodeTypeStart, Config: map[string]any{}},
			{ID: "code1", Type: diagram.NodeTypeCodeJob, Config: map[string]any{
				"language": string(diagram.LanguageBash), "code": "echo -n hello",
			}},
			{ID: "end1", Type: diagram.NodeTypeEnd, Config: map[string]any{}},
		},
		Arrows: []diagram.DeclArrow{
			{ID: "a1", Source: "start1", Target: "code1"},
			{ID: "a2", Source: "code1", Target: "end1"},
		},
	}
	return compile(t, decl), []string{"start1", "code1", "end1"}
}

// TestEngineRunLinearChain covers the plain sequential case: a single
// value threads from start through a code_job to end unchanged.
func TestEngineRunLinearChain(t *testing.T) {
	diag, nodeIDs := linearDiagram(t)
	eng, execCtx := newEngine(diag, nodeIDs, nil, &services.Registry{}, eventbus.New(64), EngineConfig{ExecutionTimeout: 5 * time.Second})

	err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCompleted, execCtx.Status())

	out, ok := execCtx.GetOutput("end1")
	require.True(t, ok)
	text, err := out.AsText()
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

// TestEngineRunBranchRecordsDecision covers a condition node choosing
// between two downstream branches: the branch decision recorded against
// the condition node must match the expression's actual result.
func TestEngineRunBranchRecordsDecision(t *testing.T) {
	decl := &diagram.Diagram{
		ID: "branch",
		Nodes: []diagram.DeclNode{
			{ID: "start1", Type: diagram.NodeTypeStart, Config: map[string]any{}},
			{ID: "cond1", Type: diagram.NodeTypeCondition, Config: map[string]any{
				"evaluator": "custom_expression", "expression": "x > 0",
			}},
			{ID: "a_node", Type: diagram.NodeTypeCodeJob, Config: map[string]any{
				"language": string(diagram.LanguageBash), "code": "echo -n A",
			}},
			{ID: "b_node", Type: diagram.NodeTypeCodeJob, Config: map[string]any{
				"language": string(diagram.LanguageBash), "code": "echo -n B",
			}},
		},
		Arrows: []diagram.DeclArrow{
			{ID: "a1", Source: "start1", Target: "cond1"},
			{ID: "a2", Source: "cond1:condtrue", Target: "a_node"},
			{ID: "a3", Source: "cond1:condfalse", Target: "b_node"},
		},
	}
	diag := compile(t, decl)
	nodeIDs := []string{"start1", "cond1", "a_node", "b_node"}
	eng, execCtx := newEngine(diag, nodeIDs, map[string]any{"x": 1}, &services.Registry{}, eventbus.New(64), EngineConfig{ExecutionTimeout: 5 * time.Second})

	err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCompleted, execCtx.Status())

	branch, ok := execCtx.GetBranchTaken("cond1")
	require.True(t, ok)
	assert.Equal(t, "condtrue", branch)

	st, ok := execCtx.GetState("cond1")
	require.True(t, ok)
	assert.Equal(t, store.NodeStatusCompleted, st.Status)
}

// TestEngineRunBoundedLoopStopsAtMaxIterations is the regression test
// for rearmLoopNodes's branch-decision gate: a person_job capped at two
// iterations, wired through a max_iterations condition that loops back
// to it on condfalse and releases to end on condtrue, must execute
// exactly twice — never a third time once the condition's own branch
// decision has flipped to condtrue.
func TestEngineRunBoundedLoopStopsAtMaxIterations(t *testing.T) {
	decl := &diagram.Diagram{
		ID: "bounded-loop",
		Nodes: []diagram.DeclNode{
			{ID: "s1", Type: diagram.NodeTypeStart, Config: map[string]any{}},
			{ID: "pj1", Type: diagram.NodeTypePersonJob, Config: map[string]any{
				"person_id": "p1", "default_prompt": "go", "max_iterations": 2,
			}},
			{ID: "c1", Type: diagram.NodeTypeCondition, Config: map[string]any{
				"evaluator": "max_iterations",
			}},
			{ID: "e1", Type: diagram.NodeTypeEnd, Config: map[string]any{}},
		},
		Arrows: []diagram.DeclArrow{
			{ID: "a1", Source: "s1", Target: "pj1"},
			{ID: "a2", Source: "pj1", Target: "c1"},
			{ID: "a3", Source: "c1:condfalse", Target: "pj1"},
			{ID: "a4", Source: "c1:condtrue", Target: "e1"},
		},
	}
	diag := compile(t, decl)
	nodeIDs := []string{"s1", "pj1", "c1", "e1"}
	svc := &services.Registry{LLM: fakeLLM{}, Template: fakeTemplate{}}
	eng, execCtx := newEngine(diag, nodeIDs, nil, svc, eventbus.New(256), EngineConfig{ExecutionTimeout: 5 * time.Second})

	err := eng.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.ExecutionCompleted, execCtx.Status())

	assert.Equal(t, 2, execCtx.GetExecutionCount("pj1"))
	st, ok := execCtx.GetState("pj1")
	require.True(t, ok)
	assert.Equal(t, store.NodeStatusMaxIterReached, st.Status)
}

// TestEngineRunSpreadCollisionFailsNode covers two spread-packed edges
// whose source outputs share a key: the target node fails at input
// resolution and the execution as a whole is reported failed, without
// touching its upstream nodes' own completed status.
func TestEngineRunSpreadCollisionFailsNode(t *testing.T) {
	decl := &diagram.Diagram{
		ID: "spread-collision",
		Nodes: []diagram.DeclNode{
			{ID: "s1", Type: diagram.NodeTypeStart, Config: map[string]any{
				"custom_data": map[string]any{"a": 1},
			}},
			{ID: "s2", Type: diagram.NodeTypeStart, Config: map[string]any{
				"custom_data": map[string]any{"a": 2},
			}},
			{ID: "n3", Type: diagram.NodeTypeCodeJob, Config: map[string]any{
				"language": string(diagram.LanguageBash), "code": "echo -n unreachable",
			}},
		},
		Arrows: []diagram.DeclArrow{
			{ID: "a1", Source: "s1", Target: "n3", Packing: diagram.PackingSpread},
			{ID: "a2", Source: "s2", Target: "n3", Packing: diagram.PackingSpread},
		},
	}
	diag := compile(t, decl)
	nodeIDs := []string{"s1", "s2", "n3"}
	eng, execCtx := newEngine(diag, nodeIDs, nil, &services.Registry{}, eventbus.New(64), EngineConfig{ExecutionTimeout: 5 * time.Second})

	err := eng.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, store.ExecutionFailed, execCtx.Status())

	st, ok := execCtx.GetState("n3")
	require.True(t, ok)
	assert.Equal(t, store.NodeStatusFailed, st.Status)

	for _, id := range []string{"s1", "s2"} {
		st, ok := execCtx.GetState(id)
		require.True(t, ok)
		assert.Equal(t, store.NodeStatusCompleted, st.Status)
	}
}

// TestEngineRunPublishesToEveryConcurrentSubscriber covers the event
// bus's fan-out: two subscriptions attached before a run starts must
// both observe the identical, fully-ordered event sequence, and a third
// subscription attached after the run has finished receives nothing.
func TestEngineRunPublishesToEveryConcurrentSubscriber(t *testing.T) {
	diag, nodeIDs := linearDiagram(t)
	bus := eventbus.New(64)
	eng, execCtx := newEngine(diag, nodeIDs, nil, &services.Registry{}, bus, EngineConfig{ExecutionTimeout: 5 * time.Second})

	sub1 := bus.Subscribe(execCtx.ID())
	sub2 := bus.Subscribe(execCtx.ID())

	err := eng.Run(context.Background())
	require.NoError(t, err)

	drain := func(sub *eventbus.Subscription) []eventbus.EventType {
		var types []eventbus.EventType
		for {
			select {
			case evt := <-sub.Events:
				types = append(types, evt.Type)
			default:
				return types
			}
		}
	}

	seq1 := drain(sub1)
	seq2 := drain(sub2)
	require.NotEmpty(t, seq1)
	assert.Equal(t, seq1, seq2)
	assert.Equal(t, eventbus.EventExecutionStarted, seq1[0])
	assert.Equal(t, eventbus.EventExecutionCompleted, seq1[len(seq1)-1])

	sub3 := bus.Subscribe(execCtx.ID())
	select {
	case evt := <-sub3.Events:
		t.Fatalf("late subscriber unexpectedly received %v", evt.Type)
	default:
	}
}

// TestEngineRunAbortsOnCancelledContext covers cancellation: a context
// already cancelled before Run starts its tick loop must abort the
// execution rather than dispatch any node.
func TestEngineRunAbortsOnCancelledContext(t *testing.T) {
	diag, nodeIDs := linearDiagram(t)
	eng, execCtx := newEngine(diag, nodeIDs, nil, &services.Registry{}, eventbus.New(64), EngineConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := eng.Run(ctx)
	require.Error(t, err)
	assert.Equal(t, store.ExecutionAborted, execCtx.Status())

	st, ok := execCtx.GetState("start1")
	require.True(t, ok)
	assert.Equal(t, store.NodeStatusPending, st.Status)
}
