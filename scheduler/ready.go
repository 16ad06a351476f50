package scheduler

import (
	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/handlers"
	"github.com/dipeo/engine/store"
)

// gated is implemented by handlers whose node type needs a
// readiness check beyond "all parents completed" — currently the
// hook-trigger start node and the user_response node, both of which
// wait on an externally recorded event.
type gated interface {
	Ready(node *diagram.Node, execCtx store.ReadOnlyContext) bool
}

// readyNodes computes the set of pending nodes eligible to dispatch
// this tick: parents satisfied per node-type strategy, plus any
// handler-specific gate.
func readyNodes(diag *diagram.ExecutableDiagram, execCtx store.ReadOnlyContext, registry *handlers.Registry) []*diagram.Node {
	var ready []*diagram.Node
	for _, n := range diag.Nodes {
		state, _ := execCtx.GetState(n.ID)
		if state.Status != store.NodeStatusPending {
			continue
		}
		if !parentsSatisfied(n, diag, execCtx) {
			continue
		}
		if h, ok := registry.Get(n.Type); ok {
			if g, ok := h.(gated); ok && !g.Ready(n, execCtx) {
				continue
			}
		}
		ready = append(ready, n)
	}
	return ready
}

// parentsSatisfied applies the per-node-type dependency strategy: most
// nodes require every parent completed/skipped/maxiter_reached;
// condition nodes require at least one input; a person_job on its
// first execution may run once any tagged input arrives rather than
// waiting for every parent.
func parentsSatisfied(n *diagram.Node, diag *diagram.ExecutableDiagram, execCtx store.ReadOnlyContext) bool {
	incoming := diag.IncomingEdges(n.ID)
	if len(incoming) == 0 {
		return true
	}

	switch n.Type {
	case diagram.NodeTypeCondition:
		for _, e := range incoming {
			if parentDone(e.SourceNodeID, execCtx) {
				return true
			}
		}
		return false

	case diagram.NodeTypePersonJob:
		if execCtx.GetExecutionCount(n.ID) == 0 {
			for _, e := range incoming {
				if parentDone(e.SourceNodeID, execCtx) {
					return true
				}
			}
			return false
		}
		return allParentsDone(incoming, execCtx)

	default:
		return allParentsDone(incoming, execCtx)
	}
}

func allParentsDone(edges []*diagram.Edge, execCtx store.ReadOnlyContext) bool {
	seen := make(map[string]bool, len(edges))
	for _, e := range edges {
		if seen[e.SourceNodeID] {
			continue
		}
		seen[e.SourceNodeID] = true
		if !parentDone(e.SourceNodeID, execCtx) {
			return false
		}
	}
	return true
}

func parentDone(nodeID string, execCtx store.ReadOnlyContext) bool {
	state, ok := execCtx.GetState(nodeID)
	if !ok {
		return false
	}
	switch state.Status {
	case store.NodeStatusCompleted, store.NodeStatusSkipped, store.NodeStatusMaxIterReached:
		return true
	default:
		return false
	}
}
