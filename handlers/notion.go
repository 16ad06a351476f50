package handlers

import (
	"context"
	"fmt"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// NotionHandler issues a request against the Notion API through the
// HTTPClient service, using an api_key record looked up the same way
// APIJobHandler does.
type NotionHandler struct{}

func (h *NotionHandler) NodeType() diagram.NodeType { return diagram.NodeTypeNotion }
func (h *NotionHandler) RequiredServices() []string { return []string{"http_client", "api_key"} }

const notionAPIBase = "https://api.notion.com/v1"

func (h *NotionHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	if svc == nil || svc.HTTPClient == nil || svc.APIKey == nil {
		return fail(fmt.Errorf("notion node %s requires http_client and api_key services", node.ID), errType("missing_service"))
	}

	apiKeyID, _ := inputs["api_key_id"].(string)
	if apiKeyID == "" {
		return fail(fmt.Errorf("notion node %s: no api_key_id in inputs", node.ID), errType("missing_config"))
	}
	rec, err := svc.APIKey.Get(ctx, apiKeyID)
	if err != nil {
		return fail(err, errType("auth"))
	}

	path, _ := inputs["path"].(string)
	method, _ := inputs["method"].(string)
	if method == "" {
		method = "GET"
	}

	headers := map[string]string{
		"Authorization":  "Bearer " + rec.Key,
		"Notion-Version": "2022-06-28",
	}
	resp, err := svc.HTTPClient.Do(ctx, method, notionAPIBase+path, headers, nil)
	if err != nil {
		return fail(err, errType("request_failed"))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("notion node %s: HTTP %d", node.ID, resp.StatusCode), errType("non_2xx"))
	}
	return Result{Output: map[string]any{"default": string(resp.Body)}}
}
