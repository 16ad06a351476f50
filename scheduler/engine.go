// Package scheduler drives one diagram execution: computing the ready
// set each tick, dispatching it across a bounded pool of goroutines,
// writing results back into the execution context, and publishing
// events as nodes and the run itself progress.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dipeo/engine/condition"
	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/envelope"
	"github.com/dipeo/engine/eventbus"
	"github.com/dipeo/engine/handlers"
	"github.com/dipeo/engine/resolution"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"

	"github.com/dipeo/engine/common/logger"
)

// EngineConfig bounds one run's resource usage.
type EngineConfig struct {
	// MaxConcurrency caps how many nodes dispatch in the same tick.
	MaxConcurrency int
	// ExecutionTimeout is the wall-clock budget for the whole run; zero
	// means no timeout.
	ExecutionTimeout time.Duration
	// DefaultMaxIterations is the fallback iteration ceiling completeNode
	// applies to a person_job node that doesn't configure its own
	// MaxIterations; zero means no ceiling.
	DefaultMaxIterations int
}

func (c EngineConfig) concurrency() int {
	if c.MaxConcurrency <= 0 {
		return 8
	}
	return c.MaxConcurrency
}

// Engine runs a single compiled diagram to completion against one
// execution context, dispatching ready nodes to the handler registry
// each tick.
type Engine struct {
	Diagram  *diagram.ExecutableDiagram
	ExecCtx  store.ExecutionContext
	Handlers *handlers.Registry
	Pipeline *resolution.Pipeline
	Bus      *eventbus.Bus
	Services *services.Registry
	Logger   *logger.Logger
	Config   EngineConfig
}

// Run drives the diagram to completion: each tick computes the ready
// set, dispatches it concurrently, folds the results back into the
// execution context, then rearms any node a completed loop iteration
// has made eligible to run again. Returns once no node is ready, none
// are running, and no node can be rearmed — or the context is
// cancelled, or the configured execution timeout elapses.
func (e *Engine) Run(ctx context.Context) error {
	log := e.Logger.WithExecutionID(e.ExecCtx.ID())

	if e.Config.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.ExecutionTimeout)
		defer cancel()
	}

	e.ExecCtx.SetStatus(store.ExecutionRunning)
	e.Bus.Publish(e.ExecCtx.ID(), eventbus.Event{Type: eventbus.EventExecutionStarted})

	for {
		select {
		case <-ctx.Done():
			return e.finishAborted(log, ctx.Err())
		default:
		}

		ready := readyNodes(e.Diagram, e.ExecCtx, e.Handlers)
		if len(ready) == 0 {
			if len(e.ExecCtx.GetRunningNodes()) > 0 {
				// Another goroutine's completion may rearm a node;
				// spin until the dispatch below settles it.
				time.Sleep(time.Millisecond)
				continue
			}
			if rearmLoopNodes(e.Diagram, e.ExecCtx) {
				continue
			}
			break
		}

		if err := e.dispatchTick(ctx, log, ready); err != nil {
			return e.finishAborted(log, err)
		}
	}

	return e.finish(log)
}

// dispatchTick runs one tick's ready nodes concurrently, bounded by
// Config.MaxConcurrency. A handler panic or context cancellation
// aborts the whole tick; individual handler errors do not — those are
// recorded as a failed node and the run continues.
func (e *Engine) dispatchTick(ctx context.Context, log *logger.Logger, ready []*diagram.Node) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.Config.concurrency())

	for _, n := range ready {
		n := n
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("node %s: handler panic: %v", n.ID, r)
				}
			}()
			e.dispatchNode(gctx, log, n)
			return nil
		})
	}
	return g.Wait()
}

// dispatchNode runs the full lifecycle of one node: ToRunning,
// NODE_STARTED, input resolution, handler execution, result
// write-back, and the corresponding completion event.
func (e *Engine) dispatchNode(ctx context.Context, log *logger.Logger, n *diagram.Node) {
	nlog := log.WithNodeID(n.ID)

	execCount, err := e.ExecCtx.ToRunning(n.ID)
	if err != nil {
		nlog.Error("node transition to running rejected", "error", err)
		return
	}
	e.Bus.Publish(e.ExecCtx.ID(), eventbus.Event{
		Type: eventbus.EventNodeStarted, NodeID: n.ID,
		Data: map[string]any{"execution_count": execCount},
	})

	inputs, validationErrs, err := e.Pipeline.Resolve(ctx, n, e.ExecCtx, e.Diagram)
	if err != nil {
		e.failNode(nlog, n, err)
		return
	}
	if len(validationErrs) > 0 {
		nlog.Warn("node dispatched with missing required inputs", "missing", validationErrs)
	}

	result := e.execute(ctx, n, inputs)
	if result.Err != nil {
		e.failNode(nlog, n, result.Err)
		return
	}

	e.completeNode(nlog, n, result)
}

// execute hands the node to the Handler registered for its type; every
// node type, start and condition included, goes through a handler.
func (e *Engine) execute(ctx context.Context, n *diagram.Node, inputs map[string]any) handlers.Result {
	h, ok := e.Handlers.Get(n.Type)
	if !ok {
		return handlers.Result{Err: fmt.Errorf("node %s: no handler registered for type %q", n.ID, n.Type)}
	}
	return h.Execute(ctx, n, e.ExecCtx, e.Diagram, inputs, e.Services)
}

// completeNode turns a handler Result into the node's stored output
// envelope and transitions it, honoring the max_iterations ceiling for
// person_job nodes and the branch bookkeeping for condition nodes.
func (e *Engine) completeNode(log *logger.Logger, n *diagram.Node, result handlers.Result) {
	f := envelope.NewFactory(e.ExecCtx.ID())
	out := e.envelopeFor(f, n, result)

	for k, v := range result.SetVariables {
		e.ExecCtx.SetVariable(k, v)
	}

	if n.Type == diagram.NodeTypeCondition && result.BranchTaken != "" {
		e.ExecCtx.MarkBranchTaken(n.ID, result.BranchTaken)
	}

	if n.Type == diagram.NodeTypePersonJob && n.PersonJob != nil {
		limit := n.PersonJob.MaxIterations
		if limit <= 0 {
			limit = e.Config.DefaultMaxIterations
		}
		if limit > 0 && e.ExecCtx.GetExecutionCount(n.ID) >= limit {
			if err := e.ExecCtx.ToMaxIter(n.ID, &out); err != nil {
				log.Error("transition to maxiter_reached rejected", "error", err)
				return
			}
			e.Bus.Publish(e.ExecCtx.ID(), eventbus.Event{Type: eventbus.EventNodeCompleted, NodeID: n.ID,
				Data: map[string]any{"status": string(store.NodeStatusMaxIterReached)}})
			return
		}
	}

	if err := e.ExecCtx.ToCompleted(n.ID, out, result.TokenUsage); err != nil {
		log.Error("transition to completed rejected", "error", err)
		return
	}
	for i, batchOut := range result.BatchOutputs {
		e.ExecCtx.SetNodeMetadata(n.ID, fmt.Sprintf("batch_output_%d", i), batchOut)
	}
	e.Bus.Publish(e.ExecCtx.ID(), eventbus.Event{Type: eventbus.EventNodeCompleted, NodeID: n.ID})
}

// envelopeFor packs a handler's Result.Output into the single envelope
// the execution context stores for this node. A condition node's
// output is keyed by the branch it took (condtrue/condfalse); every
// other node's output is its "default" key, falling back to the whole
// output map when the handler didn't use that convention.
func (e *Engine) envelopeFor(f envelope.Factory, n *diagram.Node, result handlers.Result) envelope.Envelope {
	var body any = result.Output
	if result.BranchTaken != "" {
		if v, ok := result.Output[result.BranchTaken]; ok {
			body = v
		}
	} else if v, ok := result.Output["default"]; ok {
		body = v
	}

	var env envelope.Envelope
	if s, ok := body.(string); ok {
		env = f.Text(n.ID, s)
	} else {
		env = f.JSON(n.ID, body)
	}
	if result.BranchTaken != "" {
		env = env.WithBranch(result.BranchTaken)
	}
	return env
}

func (e *Engine) failNode(log *logger.Logger, n *diagram.Node, err error) {
	log.Error("node execution failed", "error", err)
	if tErr := e.ExecCtx.ToFailed(n.ID, err.Error()); tErr != nil {
		log.Error("transition to failed rejected", "error", tErr)
	}
	e.Bus.Publish(e.ExecCtx.ID(), eventbus.Event{
		Type: eventbus.EventNodeFailed, NodeID: n.ID,
		Data: map[string]any{"error": err.Error()},
	})
}

func (e *Engine) finish(log *logger.Logger) error {
	failed := e.ExecCtx.GetFailedNodes()
	if len(failed) > 0 {
		e.ExecCtx.SetStatus(store.ExecutionFailed)
		e.Bus.Publish(e.ExecCtx.ID(), eventbus.Event{Type: eventbus.EventExecutionFailed,
			Data: map[string]any{"failed_nodes": failed}})
		return fmt.Errorf("execution %s: %d node(s) failed", e.ExecCtx.ID(), len(failed))
	}
	e.ExecCtx.SetStatus(store.ExecutionCompleted)
	e.Bus.Publish(e.ExecCtx.ID(), eventbus.Event{Type: eventbus.EventExecutionCompleted})
	log.Info("execution completed", "completed_nodes", len(e.ExecCtx.GetCompletedNodes()))
	return nil
}

func (e *Engine) finishAborted(log *logger.Logger, cause error) error {
	log.Error("execution aborted", "error", cause)
	e.ExecCtx.SetStatus(store.ExecutionAborted)
	e.Bus.Publish(e.ExecCtx.ID(), eventbus.Event{Type: eventbus.EventExecutionAborted,
		Data: map[string]any{"reason": cause.Error()}})
	return cause
}

// rearmLoopNodes resets completed/skipped/maxiter_reached nodes back
// to pending when a parent has completed again since this node last
// ran — the signal a cyclic diagram's loop body produced another
// iteration. A parent reached through a condition node only counts
// when that condition's recorded branch decision actually selected the
// incoming edge's source_output, the same gate FilterStage applies to
// edge survival during input resolution — otherwise a condition's
// loop-exit branch would rearm the very node it just finished looping
// over. Returns whether anything was reset.
func rearmLoopNodes(diag *diagram.ExecutableDiagram, execCtx store.ExecutionContext) bool {
	changed := false
	for _, n := range diag.Nodes {
		st, ok := execCtx.GetState(n.ID)
		if !ok || !isTerminalStatus(st.Status) {
			continue
		}
		incoming := diag.IncomingEdges(n.ID)
		if len(incoming) == 0 {
			continue
		}
		for _, e := range incoming {
			pst, ok := execCtx.GetState(e.SourceNodeID)
			if !ok || !isTerminalStatus(pst.Status) {
				continue
			}
			if !pst.EndedAt.After(st.EndedAt) {
				continue
			}
			if srcNode, ok := diag.NodeByID(e.SourceNodeID); ok && srcNode.Type == diagram.NodeTypeCondition {
				taken, tok := execCtx.GetBranchTaken(e.SourceNodeID)
				if tok && e.SourceOutput != "" && e.SourceOutput != "default" && e.SourceOutput != taken {
					continue
				}
			}
			if err := execCtx.Reset(n.ID); err == nil {
				changed = true
			}
			break
		}
	}
	return changed
}

func isTerminalStatus(s store.NodeStatus) bool {
	switch s {
	case store.NodeStatusCompleted, store.NodeStatusSkipped, store.NodeStatusMaxIterReached:
		return true
	default:
		return false
	}
}

// NewConditionRegistry is a thin convenience wrapper letting cmd/engine
// build the condition registry and handler registry in one call site
// without importing condition directly for the bridging type.
func NewConditionRegistry(llmDecision condition.Evaluator) *condition.Registry {
	return condition.NewRegistry(llmDecision)
}
