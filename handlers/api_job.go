package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// APIJobHandler resolves method/URL/headers/auth and issues the HTTP
// call via the injected HTTPClient port, surfacing a non-2xx response
// as a failure.
type APIJobHandler struct{}

func (h *APIJobHandler) NodeType() diagram.NodeType { return diagram.NodeTypeAPIJob }
func (h *APIJobHandler) RequiredServices() []string { return []string{"http_client", "api_key"} }

func (h *APIJobHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	cfg := node.APIJob
	if cfg == nil || cfg.URL == "" {
		return fail(fmt.Errorf("api_job node %s has no URL", node.ID), errType("missing_config"))
	}
	if svc == nil || svc.HTTPClient == nil {
		return fail(fmt.Errorf("api_job node %s requires an http_client service", node.ID), errType("missing_service"))
	}

	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	if err := h.applyAuth(ctx, headers, cfg, svc); err != nil {
		return fail(err, errType("auth"))
	}

	url := cfg.URL
	if len(cfg.QueryParams) > 0 {
		var qp strings.Builder
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		for k, v := range cfg.QueryParams {
			qp.WriteString(sep)
			qp.WriteString(k)
			qp.WriteByte('=')
			qp.WriteString(v)
			sep = "&"
		}
		url += qp.String()
	}

	var body []byte
	method := strings.ToUpper(cfg.Method)
	if cfg.Body != nil && (method == "POST" || method == "PUT" || method == "PATCH") {
		switch b := cfg.Body.(type) {
		case string:
			body = []byte(b)
		default:
			encoded, err := json.Marshal(cfg.Body)
			if err != nil {
				return fail(err, errType("serialize"))
			}
			body = encoded
			if headers["Content-Type"] == "" {
				headers["Content-Type"] = "application/json"
			}
		}
	}

	resp, err := svc.HTTPClient.Do(ctx, method, url, headers, body)
	if err != nil {
		return fail(fmt.Errorf("api_job node %s: request failed: %w", node.ID, err), errType("request_failed"))
	}

	var data any
	if err := json.Unmarshal(resp.Body, &data); err != nil {
		data = string(resp.Body)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fail(fmt.Errorf("api_job node %s: HTTP %d: %v", node.ID, resp.StatusCode, data), errType("non_2xx"))
	}

	return Result{Output: map[string]any{"default": data}}
}

func (h *APIJobHandler) applyAuth(ctx context.Context, headers map[string]string, cfg *diagram.APIJobConfig, svc *services.Registry) error {
	if cfg.AuthType == "" || cfg.AuthRef == "" {
		return nil
	}
	if svc.APIKey == nil {
		return fmt.Errorf("auth_type %q requires an api_key service", cfg.AuthType)
	}
	rec, err := svc.APIKey.Get(ctx, cfg.AuthRef)
	if err != nil {
		return fmt.Errorf("resolve api key %q: %w", cfg.AuthRef, err)
	}

	switch cfg.AuthType {
	case "bearer":
		headers["Authorization"] = "Bearer " + rec.Key
	case "basic":
		headers["Authorization"] = "Basic " + base64.StdEncoding.EncodeToString([]byte(rec.Key))
	case "api_key":
		headers["X-API-Key"] = rec.Key
	default:
		return fmt.Errorf("unsupported auth_type %q", cfg.AuthType)
	}
	return nil
}
