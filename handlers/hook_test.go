package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/store"
)

func TestHookHandlerPassesThroughDefaultInput(t *testing.T) {
	h := &HookHandler{}
	node := &diagram.Node{ID: "h1", Type: diagram.NodeTypeHook}
	execCtx := store.New("exec-1", "diag-1", []string{"h1"}, nil)

	result := h.Execute(context.Background(), node, execCtx, nil, map[string]any{"default": "payload"}, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, "payload", result.Output["default"])
}

func TestHookHandlerFallsBackToWholeInputsWithoutDefaultKey(t *testing.T) {
	h := &HookHandler{}
	node := &diagram.Node{ID: "h1", Type: diagram.NodeTypeHook}
	execCtx := store.New("exec-1", "diag-1", []string{"h1"}, nil)

	inputs := map[string]any{"a": 1, "b": 2}
	result := h.Execute(context.Background(), node, execCtx, nil, inputs, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, inputs, result.Output["default"])
}
