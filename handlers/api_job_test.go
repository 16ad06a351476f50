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

func TestAPIJobHandlerSucceedsWithBearerAuth(t *testing.T) {
	h := &APIJobHandler{}
	node := &diagram.Node{ID: "a1", Type: diagram.NodeTypeAPIJob, APIJob: &diagram.APIJobConfig{
		Method: "GET", URL: "https://example.test/widgets",
		AuthType: "bearer", AuthRef: "key1",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"a1"}, nil)
	http := &fakeHTTPClient{status: 200, body: []byte(`{"ok":true}`)}
	svc := &services.Registry{HTTPClient: http, APIKey: newFakeAPIKey(map[string]services.APIKeyRecord{
		"key1": {ID: "key1", Key: "secret"},
	})}

	result := h.Execute(context.Background(), node, execCtx, nil, nil, svc)
	require.NoError(t, result.Err)
	assert.Equal(t, map[string]any{"ok": true}, result.Output["default"])
}

func TestAPIJobHandlerNon2xxFails(t *testing.T) {
	h := &APIJobHandler{}
	node := &diagram.Node{ID: "a1", Type: diagram.NodeTypeAPIJob, APIJob: &diagram.APIJobConfig{
		Method: "GET", URL: "https://example.test/widgets",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"a1"}, nil)
	svc := &services.Registry{HTTPClient: &fakeHTTPClient{status: 500, body: []byte(`{"error":"boom"}`)}}

	result := h.Execute(context.Background(), node, execCtx, nil, nil, svc)
	require.Error(t, result.Err)
	assert.Equal(t, errType("non_2xx"), result.ErrType)
}

func TestAPIJobHandlerUnresolvableAPIKeyFails(t *testing.T) {
	h := &APIJobHandler{}
	node := &diagram.Node{ID: "a1", Type: diagram.NodeTypeAPIJob, APIJob: &diagram.APIJobConfig{
		Method: "GET", URL: "https://example.test/widgets",
		AuthType: "bearer", AuthRef: "missing",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"a1"}, nil)
	svc := &services.Registry{HTTPClient: &fakeHTTPClient{}, APIKey: newFakeAPIKey(nil)}

	result := h.Execute(context.Background(), node, execCtx, nil, nil, svc)
	require.Error(t, result.Err)
	assert.Equal(t, errType("auth"), result.ErrType)
}

func TestAPIJobHandlerMissingURLFails(t *testing.T) {
	h := &APIJobHandler{}
	node := &diagram.Node{ID: "a1", Type: diagram.NodeTypeAPIJob, APIJob: &diagram.APIJobConfig{Method: "GET"}}
	execCtx := store.New("exec-1", "diag-1", []string{"a1"}, nil)

	result := h.Execute(context.Background(), node, execCtx, nil, nil, &services.Registry{})
	require.Error(t, result.Err)
	assert.Equal(t, errType("missing_config"), result.ErrType)
}
