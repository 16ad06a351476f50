package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/store"
)

func TestUserResponseHandlerWaitsForRecordedResponse(t *testing.T) {
	h := &UserResponseHandler{}
	node := &diagram.Node{ID: "u1", Type: diagram.NodeTypeUserResponse}
	execCtx := store.New("exec-1", "diag-1", []string{"u1"}, nil)

	assert.False(t, h.Ready(node, execCtx))
	result := h.Execute(context.Background(), node, execCtx, nil, nil, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, map[string]any{}, result.Output["default"])

	execCtx.RecordHookEvent("u1", map[string]any{"choice": "approve"})
	assert.True(t, h.Ready(node, execCtx))
	result = h.Execute(context.Background(), node, execCtx, nil, nil, nil)
	assert.Equal(t, map[string]any{"choice": "approve"}, result.Output["default"])
}
