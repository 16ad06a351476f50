package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

func TestEndHandlerPassesThroughWithoutSaveToFile(t *testing.T) {
	h := &EndHandler{}
	node := &diagram.Node{ID: "e1", Type: diagram.NodeTypeEnd, End: &diagram.EndConfig{}}
	execCtx := store.New("exec-1", "diag-1", []string{"e1"}, nil)

	result := h.Execute(context.Background(), node, execCtx, nil, map[string]any{"default": "payload"}, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, "payload", result.Output["default"])
}

func TestEndHandlerWritesToConfiguredFile(t *testing.T) {
	h := &EndHandler{}
	file := newFakeFile()
	node := &diagram.Node{ID: "e1", Type: diagram.NodeTypeEnd, End: &diagram.EndConfig{SaveToFile: "out.json"}}
	execCtx := store.New("exec-1", "diag-1", []string{"e1"}, nil)
	svc := &services.Registry{File: file}

	result := h.Execute(context.Background(), node, execCtx, nil, map[string]any{"default": "payload"}, svc)
	require.NoError(t, result.Err)

	written, err := file.Read(context.Background(), "out.json")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(written))
}

func TestEndHandlerMissingFileServiceFails(t *testing.T) {
	h := &EndHandler{}
	node := &diagram.Node{ID: "e1", Type: diagram.NodeTypeEnd, End: &diagram.EndConfig{SaveToFile: "out.json"}}
	execCtx := store.New("exec-1", "diag-1", []string{"e1"}, nil)

	result := h.Execute(context.Background(), node, execCtx, nil, map[string]any{"default": "payload"}, &services.Registry{})
	require.Error(t, result.Err)
}
