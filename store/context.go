package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/dipeo/engine/envelope"
)

// ExecutionContext is the full per-execution mutation contract.
// It is implemented by *Context. Handlers receive a read-only view
// (ReadOnlyContext); only the scheduler calls the transition methods.
type ExecutionContext interface {
	ReadOnlyContext

	ToRunning(nodeID string) (executionCount int, err error)
	ToCompleted(nodeID string, out envelope.Envelope, usage *TokenUsage) error
	ToFailed(nodeID string, errMsg string) error
	ToSkipped(nodeID string) error
	ToMaxIter(nodeID string, out *envelope.Envelope) error
	Reset(nodeID string) error

	MarkBranchTaken(condNodeID, branch string)
	UpdateLoopState(nodeID string, shouldContinue bool)
	RecordHookEvent(name string, data map[string]any)

	SetVariable(key string, value any)
	SetExecutionMetadata(key string, value any)
	SetNodeMetadata(nodeID, key string, value any)

	SetStatus(status ExecutionStatus)
}

// ReadOnlyContext is the view handlers and the input-resolution
// pipeline receive: every operation is total, returning a sentinel or
// empty value rather than panicking on an unknown node id.
type ReadOnlyContext interface {
	ID() string
	Status() ExecutionStatus

	GetState(nodeID string) (NodeState, bool)
	GetOutput(nodeID string) (envelope.Envelope, bool)
	GetExecutionCount(nodeID string) int
	GetCompletedNodes() []string
	GetRunningNodes() []string
	GetFailedNodes() []string
	GetAllNodeStates() map[string]NodeState

	GetBranchTaken(condNodeID string) (string, bool)
	IsLoopActive(nodeID string) bool

	GetVariables() map[string]any
	GetVariable(key string) (any, bool)

	GetExecutionMetadata() map[string]any
	GetNodeMetadata(nodeID string) map[string]any

	GetHookEvent(name string) (map[string]any, bool)
}

// Context is the concrete ExecutionContext implementation. All
// mutation happens under mu: the scheduler's dispatch goroutines read
// concurrently with the scheduler loop's own completion write-backs,
// so reads and writes are both guarded.
type Context struct {
	mu    sync.RWMutex
	state *ExecutionState
}

// New creates an ExecutionState for a fresh execution and wraps it in
// a Context. The caller supplies the node id set up front so
// GetState/GetExecutionCount are well-defined (pending, count 0) even
// before any node has been dispatched.
func New(executionID, diagramID string, nodeIDs []string, variables map[string]any) *Context {
	s := &ExecutionState{
		ID:                executionID,
		DiagramID:         diagramID,
		Status:            ExecutionStarted,
		NodeStates:        make(map[string]*NodeState, len(nodeIDs)),
		BranchDecisions:   make(map[string]string),
		LoopState:         make(map[string]bool),
		Variables:         make(map[string]any, len(variables)),
		ExecutionMetadata: make(map[string]any),
		NodeMetadata:      make(map[string]map[string]any),
		HookEvents:        make(map[string]map[string]any),
		StartedAt:         time.Now(),
	}
	for _, id := range nodeIDs {
		s.NodeStates[id] = &NodeState{Status: NodeStatusPending}
	}
	for k, v := range variables {
		s.Variables[k] = v
	}
	return &Context{state: s}
}

func (c *Context) ID() string { return c.state.ID }

func (c *Context) Status() ExecutionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Status
}

func (c *Context) SetStatus(status ExecutionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Status = status
	if status == ExecutionCompleted || status == ExecutionFailed || status == ExecutionAborted {
		c.state.EndedAt = time.Now()
	}
}

func (c *Context) nodeState(nodeID string) *NodeState {
	ns, ok := c.state.NodeStates[nodeID]
	if !ok {
		ns = &NodeState{Status: NodeStatusPending}
		c.state.NodeStates[nodeID] = ns
	}
	return ns
}

// permittedSources lists which NodeStatus values a transition may
// originate from; a transition from any other status is an error.
var permittedSources = map[NodeStatus][]NodeStatus{
	NodeStatusRunning:        {NodeStatusPending},
	NodeStatusCompleted:      {NodeStatusRunning},
	NodeStatusFailed:         {NodeStatusRunning},
	NodeStatusSkipped:        {NodeStatusPending},
	NodeStatusMaxIterReached: {NodeStatusRunning},
	NodeStatusPending:        {NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped, NodeStatusMaxIterReached, NodeStatusPaused},
}

func checkTransition(from, to NodeStatus) error {
	allowed := permittedSources[to]
	for _, a := range allowed {
		if a == from {
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s", from, to)
}

func (c *Context) ToRunning(nodeID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.nodeState(nodeID)
	if err := checkTransition(ns.Status, NodeStatusRunning); err != nil {
		return 0, err
	}
	ns.Status = NodeStatusRunning
	ns.ExecutionCount++
	ns.StartedAt = time.Now()
	ns.Error = ""
	return ns.ExecutionCount, nil
}

func (c *Context) ToCompleted(nodeID string, out envelope.Envelope, usage *TokenUsage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.nodeState(nodeID)
	if err := checkTransition(ns.Status, NodeStatusCompleted); err != nil {
		return err
	}
	ns.Status = NodeStatusCompleted
	o := out
	ns.LastOutput = &o
	ns.EndedAt = time.Now()
	if usage != nil {
		ns.TokenUsage = usage
		c.state.TokenUsage.Add(*usage)
	}
	return nil
}

func (c *Context) ToFailed(nodeID string, errMsg string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.nodeState(nodeID)
	if err := checkTransition(ns.Status, NodeStatusFailed); err != nil {
		return err
	}
	ns.Status = NodeStatusFailed
	ns.Error = errMsg
	ns.EndedAt = time.Now()
	return nil
}

func (c *Context) ToSkipped(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.nodeState(nodeID)
	if err := checkTransition(ns.Status, NodeStatusSkipped); err != nil {
		return err
	}
	ns.Status = NodeStatusSkipped
	ns.EndedAt = time.Now()
	return nil
}

func (c *Context) ToMaxIter(nodeID string, out *envelope.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.nodeState(nodeID)
	if err := checkTransition(ns.Status, NodeStatusMaxIterReached); err != nil {
		return err
	}
	ns.Status = NodeStatusMaxIterReached
	if out != nil {
		ns.LastOutput = out
	}
	ns.EndedAt = time.Now()
	return nil
}

func (c *Context) Reset(nodeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	ns := c.nodeState(nodeID)
	if err := checkTransition(ns.Status, NodeStatusPending); err != nil {
		return err
	}
	ns.Status = NodeStatusPending
	return nil
}

func (c *Context) GetState(nodeID string) (NodeState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.state.NodeStates[nodeID]
	if !ok {
		return NodeState{}, false
	}
	return *ns, true
}

func (c *Context) GetOutput(nodeID string) (envelope.Envelope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.state.NodeStates[nodeID]
	if !ok || ns.LastOutput == nil {
		return envelope.Envelope{}, false
	}
	return *ns.LastOutput, true
}

func (c *Context) GetExecutionCount(nodeID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ns, ok := c.state.NodeStates[nodeID]
	if !ok {
		return 0
	}
	return ns.ExecutionCount
}

func (c *Context) nodesWithStatus(status NodeStatus) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for id, ns := range c.state.NodeStates {
		if ns.Status == status {
			out = append(out, id)
		}
	}
	return out
}

func (c *Context) GetCompletedNodes() []string { return c.nodesWithStatus(NodeStatusCompleted) }
func (c *Context) GetRunningNodes() []string { return c.nodesWithStatus(NodeStatusRunning) }
func (c *Context) GetFailedNodes() []string { return c.nodesWithStatus(NodeStatusFailed) }

func (c *Context) GetAllNodeStates() map[string]NodeState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]NodeState, len(c.state.NodeStates))
	for id, ns := range c.state.NodeStates {
		out[id] = *ns
	}
	return out
}

func (c *Context) MarkBranchTaken(condNodeID, branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.BranchDecisions[condNodeID] = branch
}

func (c *Context) GetBranchTaken(condNodeID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.state.BranchDecisions[condNodeID]
	return b, ok
}

func (c *Context) IsLoopActive(nodeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.LoopState[nodeID]
}

func (c *Context) UpdateLoopState(nodeID string, shouldContinue bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.LoopState[nodeID] = shouldContinue
}

func (c *Context) GetVariables() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.state.Variables))
	for k, v := range c.state.Variables {
		out[k] = v
	}
	return out
}

func (c *Context) GetVariable(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.state.Variables[key]
	return v, ok
}

func (c *Context) SetVariable(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Variables[key] = value
}

func (c *Context) GetExecutionMetadata() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.state.ExecutionMetadata))
	for k, v := range c.state.ExecutionMetadata {
		out[k] = v
	}
	return out
}

func (c *Context) SetExecutionMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.ExecutionMetadata[key] = value
}

func (c *Context) GetNodeMetadata(nodeID string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.state.NodeMetadata[nodeID]
	if !ok {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (c *Context) SetNodeMetadata(nodeID, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.state.NodeMetadata[nodeID]
	if !ok {
		m = make(map[string]any)
		c.state.NodeMetadata[nodeID] = m
	}
	m[key] = value
}

// RecordHookEvent stores the latest payload received for a named hook
// event, letting a hook-trigger start node that polls GetHookEvent
// observe it on its next check.
func (c *Context) RecordHookEvent(name string, data map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.HookEvents[name] = data
}

// GetHookEvent returns the latest payload recorded for a named hook event.
func (c *Context) GetHookEvent(name string) (map[string]any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.state.HookEvents[name]
	return d, ok
}

// Snapshot returns a deep-enough copy of the underlying ExecutionState
// suitable for JSON marshaling (checkpointing, archival, query
// endpoint) without exposing the live, mutex-guarded struct.
func (c *Context) Snapshot() ExecutionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := *c.state
	out.NodeStates = make(map[string]*NodeState, len(c.state.NodeStates))
	for id, ns := range c.state.NodeStates {
		cp := *ns
		out.NodeStates[id] = &cp
	}
	out.Variables = c.GetVariables()
	out.ExecutionMetadata = c.GetExecutionMetadata()
	return out
}
