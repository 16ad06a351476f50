// Package resolution implements the input-resolution pipeline: the
// ordered stages that turn a node's incoming edge values, execution
// variables, and node-specific providers into the final input map a
// handler receives.
package resolution

import "fmt"

// Error is the base shape every resolution failure carries: a message
// plus the node/edge it occurred at and arbitrary structured details.
type Error struct {
	Kind    string
	Message string
	NodeID  string
	EdgeID  string
	Details map[string]any
}

func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: %s (node %s)", e.Kind, e.Message, e.NodeID)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// InputResolutionError reports a failure resolving a node's inputs.
func InputResolutionError(nodeID, message string) *Error {
	return &Error{Kind: "input_resolution_error", Message: message, NodeID: nodeID}
}

// TransformationError reports a failed transformation rule
// application, carrying the source/target type that collided.
func TransformationError(nodeID, edgeID, message, sourceType, targetType string) *Error {
	return &Error{
		Kind:    "transformation_error",
		Message: message,
		NodeID:  nodeID,
		EdgeID:  edgeID,
		Details: map[string]any{"source_type": sourceType, "target_type": targetType},
	}
}

// SpreadCollisionError reports a spread-packed edge whose keys
// collide with already-bound input keys.
func SpreadCollisionError(nodeID, edgeID string, conflictingKeys []string) *Error {
	return &Error{
		Kind:    "spread_collision_error",
		Message: fmt.Sprintf("spread operation would overwrite existing keys: %v", conflictingKeys),
		NodeID:  nodeID,
		EdgeID:  edgeID,
		Details: map[string]any{"conflicting_keys": conflictingKeys},
	}
}

// DependencyNotReadyError reports a required upstream dependency that
// has not produced output yet.
func DependencyNotReadyError(nodeID, dependencyNodeID, message string) *Error {
	return &Error{
		Kind:    "dependency_not_ready_error",
		Message: message,
		NodeID:  nodeID,
		Details: map[string]any{"dependency_node_id": dependencyNodeID},
	}
}
