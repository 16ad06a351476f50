package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

func TestCodeJobHandlerRunsBashAndTrimsOutput(t *testing.T) {
	h := &CodeJobHandler{}
	node := &diagram.Node{ID: "c1", Type: diagram.NodeTypeCodeJob, CodeJob: &diagram.CodeJobConfig{
		Language: diagram.LanguageBash, Code: "echo -n 42",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"c1"}, nil)

	result := h.Execute(context.Background(), node, execCtx, nil, nil, nil)
	require.NoError(t, result.Err)
	assert.Equal(t, "42", result.Output["default"])
}

func TestCodeJobHandlerRunsCodeThroughTemplateService(t *testing.T) {
	h := &CodeJobHandler{}
	node := &diagram.Node{ID: "c1", Type: diagram.NodeTypeCodeJob, CodeJob: &diagram.CodeJobConfig{
		Language: diagram.LanguageBash, Code: "echo -n {{greeting}}",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"c1"}, nil)
	svc := &services.Registry{Template: fakeTemplate{}}

	result := h.Execute(context.Background(), node, execCtx, nil, map[string]any{"greeting": "echo -n hi"}, svc)
	require.NoError(t, result.Err)
}

func TestCodeJobHandlerMissingTemplateServiceFails(t *testing.T) {
	h := &CodeJobHandler{}
	node := &diagram.Node{ID: "c1", Type: diagram.NodeTypeCodeJob, CodeJob: &diagram.CodeJobConfig{
		Language: diagram.LanguageBash, Code: "echo -n {{greeting}}",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"c1"}, nil)

	result := h.Execute(context.Background(), node, execCtx, nil, nil, &services.Registry{})
	require.Error(t, result.Err)
}

func TestCodeJobHandlerTimesOut(t *testing.T) {
	h := &CodeJobHandler{}
	node := &diagram.Node{ID: "c1", Type: diagram.NodeTypeCodeJob, CodeJob: &diagram.CodeJobConfig{
		Language: diagram.LanguageBash, Code: "sleep 2", TimeoutSeconds: 1,
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"c1"}, nil)

	start := time.Now()
	result := h.Execute(context.Background(), node, execCtx, nil, nil, nil)
	require.Error(t, result.Err)
	assert.Equal(t, errType("timeout"), result.ErrType)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCodeJobHandlerUnsupportedLanguageFails(t *testing.T) {
	h := &CodeJobHandler{}
	node := &diagram.Node{ID: "c1", Type: diagram.NodeTypeCodeJob, CodeJob: &diagram.CodeJobConfig{
		Language: diagram.CodeLanguage("ruby"), Code: "puts 1",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"c1"}, nil)

	result := h.Execute(context.Background(), node, execCtx, nil, nil, nil)
	require.Error(t, result.Err)
	assert.Equal(t, errType("unsupported_language"), result.ErrType)
}
