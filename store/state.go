// Package store implements the execution context / state store: the
// per-execution object tracking node status, outputs, iteration
// counts, branch decisions, loop state, and variables.
package store

import (
	"time"

	"github.com/dipeo/engine/envelope"
)

// NodeStatus is the closed set of per-node runtime statuses.
type NodeStatus string

const (
	NodeStatusPending        NodeStatus = "pending"
	NodeStatusRunning        NodeStatus = "running"
	NodeStatusCompleted      NodeStatus = "completed"
	NodeStatusFailed         NodeStatus = "failed"
	NodeStatusSkipped        NodeStatus = "skipped"
	NodeStatusMaxIterReached NodeStatus = "maxiter_reached"
	NodeStatusPaused         NodeStatus = "paused"
)

// ExecutionStatus is the closed set of per-execution aggregate statuses.
type ExecutionStatus string

const (
	ExecutionStarted   ExecutionStatus = "started"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionPaused    ExecutionStatus = "paused"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionAborted   ExecutionStatus = "aborted"
)

// TokenUsage aggregates LLM token counts.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates another TokenUsage into this one.
func (t *TokenUsage) Add(other TokenUsage) {
	t.PromptTokens += other.PromptTokens
	t.CompletionTokens += other.CompletionTokens
	t.TotalTokens += other.TotalTokens
}

// NodeState is the per-node runtime record: status, iteration count,
// last emitted output, and timing.
type NodeState struct {
	Status         NodeStatus
	ExecutionCount int
	LastOutput     *envelope.Envelope
	Error          string
	StartedAt      time.Time
	EndedAt        time.Time
	TokenUsage     *TokenUsage
}

// ExecutionState is the per-execution aggregate: every node's state,
// branch decisions, loop flags, variables, and accumulated token usage.
type ExecutionState struct {
	ID                string
	DiagramID         string
	Status            ExecutionStatus
	NodeStates        map[string]*NodeState
	BranchDecisions   map[string]string
	LoopState         map[string]bool
	Variables         map[string]any
	StartedAt         time.Time
	EndedAt           time.Time
	TokenUsage        TokenUsage
	ExecutionMetadata map[string]any
	NodeMetadata      map[string]map[string]any
	HookEvents        map[string]map[string]any
}
