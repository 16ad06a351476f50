// Package executions tracks in-flight and completed diagram runs for
// the engine's HTTP surface: submitting a diagram, inspecting an
// execution's state snapshot, and streaming its events.
package executions

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/dipeo/engine/condition"
	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/envelope"
	"github.com/dipeo/engine/eventbus"
	"github.com/dipeo/engine/handlers"
	"github.com/dipeo/engine/resolution"
	"github.com/dipeo/engine/scheduler"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"

	"github.com/dipeo/engine/common/logger"
)

// Entry is one tracked execution: its compiled diagram, concrete state
// store (kept as the concrete type since Snapshot is not part of the
// ExecutionContext interface), and a cancel func wired to the engine
// run's context.
type Entry struct {
	Diagram *diagram.ExecutableDiagram
	ExecCtx *store.Context
	Cancel  context.CancelFunc
}

// Registry is a process-wide map of execution id to Entry, built once
// at startup and shared across every HTTP request.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry

	handlers    *handlers.Registry
	pipeline    *resolution.Pipeline
	bus         *eventbus.Bus
	services    *services.Registry
	log         *logger.Logger
	engineCfg   scheduler.EngineConfig
	checkpoints *store.Checkpointer
	cas         *store.CASStore
	archive     *store.Archive
}

// NewRegistry wires the shared, stateless engine components once:
// every Submit call reuses the same handler registry, pipeline, event
// bus, and service ports, constructing only the per-execution store
// and compiled diagram. checkpoints/cas/archive wrap whatever Redis
// and Postgres clients bootstrap.Setup connected; each tolerates a nil
// backing client and simply reports itself as not configured.
func NewRegistry(conditionRegistry *condition.Registry, svc *services.Registry, bus *eventbus.Bus, log *logger.Logger, engineCfg scheduler.EngineConfig, checkpoints *store.Checkpointer, cas *store.CASStore, archive *store.Archive) *Registry {
	return &Registry{
		entries:     make(map[string]*Entry),
		handlers:    handlers.NewRegistry(conditionRegistry),
		pipeline:    resolution.New(resolution.NewProviderRegistry(conversationLookup(svc))),
		bus:         bus,
		services:    svc,
		log:         log,
		engineCfg:   engineCfg,
		checkpoints: checkpoints,
		cas:         cas,
		archive:     archive,
	}
}

// conversationLookup adapts the services.Conversation port to the
// pipeline's ConversationProvider.Lookup signature. The provider call
// site carries no person id (conversation history is scoped per
// person_job node, and person_job already fetches its own history
// directly via priorMessages), so this always reports "not available"
// rather than guessing a person id.
func conversationLookup(svc *services.Registry) func(ctx context.Context, execCtx store.ReadOnlyContext) ([]envelope.Message, bool) {
	return func(ctx context.Context, execCtx store.ReadOnlyContext) ([]envelope.Message, bool) {
		return nil, false
	}
}

// Submit compiles a declarative diagram, rejects it if invalid,
// otherwise registers a fresh execution and starts the engine run in
// its own goroutine. It returns the execution id and the compiler's
// warnings immediately; the caller observes progress via Snapshot or
// the event bus.
func (r *Registry) Submit(ctx context.Context, decl *diagram.Diagram, variables map[string]any) (string, []string, error) {
	result := diagram.Compile(decl)
	if !result.OK() {
		return "", nil, fmt.Errorf("diagram %s failed to compile: %v", decl.ID, result.Errors)
	}

	nodeIDs := make([]string, 0, len(result.Diagram.Nodes))
	for _, n := range result.Diagram.Nodes {
		nodeIDs = append(nodeIDs, n.ID)
	}

	executionID := fmt.Sprintf("exec_%s", uuid.NewString())
	execCtx := store.New(executionID, decl.ID, nodeIDs, variables)

	runCtx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.entries[executionID] = &Entry{Diagram: result.Diagram, ExecCtx: execCtx, Cancel: cancel}
	r.mu.Unlock()

	eng := &scheduler.Engine{
		Diagram:  result.Diagram,
		ExecCtx:  execCtx,
		Handlers: r.handlers,
		Pipeline: r.pipeline,
		Bus:      r.bus,
		Services: r.services,
		Logger:   r.log,
		Config:   r.engineCfg,
	}

	go func() {
		defer cancel()
		if err := eng.Run(runCtx); err != nil {
			r.log.WithExecutionID(executionID).Error("execution ended with error", "error", err)
		}
		if r.archive != nil {
			if err := r.archive.Save(context.Background(), execCtx.Snapshot()); err != nil {
				r.log.WithExecutionID(executionID).Error("archive save failed", "error", err)
			}
		}
	}()

	return executionID, result.Warnings, nil
}

// CreateCheckpoint snapshots a tracked execution's current state.
func (r *Registry) CreateCheckpoint(ctx context.Context, executionID, name string) (string, error) {
	e, ok := r.Get(executionID)
	if !ok {
		return "", fmt.Errorf("execution %s not found", executionID)
	}
	return r.checkpoints.Create(ctx, e.ExecCtx.Snapshot(), name)
}

// ListCheckpoints returns every checkpoint recorded for an execution.
func (r *Registry) ListCheckpoints(ctx context.Context, executionID string) ([]store.CheckpointInfo, error) {
	return r.checkpoints.List(ctx, executionID)
}

// RestoreCheckpoint loads a previously created checkpoint.
func (r *Registry) RestoreCheckpoint(ctx context.Context, executionID, checkpointID string) (*store.ExecutionState, error) {
	return r.checkpoints.Restore(ctx, executionID, checkpointID)
}

// Get returns the tracked entry for an execution id.
func (r *Registry) Get(executionID string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[executionID]
	return e, ok
}

// Snapshot returns the current state of a tracked execution.
func (r *Registry) Snapshot(executionID string) (store.ExecutionState, bool) {
	e, ok := r.Get(executionID)
	if !ok {
		return store.ExecutionState{}, false
	}
	return e.ExecCtx.Snapshot(), true
}

// Cancel stops a running execution by cancelling its run context.
func (r *Registry) Cancel(executionID string) bool {
	e, ok := r.Get(executionID)
	if !ok {
		return false
	}
	e.Cancel()
	return true
}
