package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// EndHandler collects incoming data and, if the node names a target
// file, persists it via the file service.
type EndHandler struct{}

func (h *EndHandler) NodeType() diagram.NodeType { return diagram.NodeTypeEnd }
func (h *EndHandler) RequiredServices() []string { return []string{"file"} }

func (h *EndHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	value, ok := inputs["default"]
	if !ok {
		value = inputs
	}

	cfg := node.End
	if cfg == nil || cfg.SaveToFile == "" {
		return Result{Output: map[string]any{"default": value}}
	}

	if svc == nil || svc.File == nil {
		return fail(fmt.Errorf("end node %s names save_to_file but no file service is configured", node.ID), errType("missing_service"))
	}

	content, err := marshalForFile(value)
	if err != nil {
		return fail(err, errType("serialize"))
	}
	if err := svc.File.Write(ctx, cfg.SaveToFile, content); err != nil {
		return fail(err, errType("file_write"))
	}
	return Result{Output: map[string]any{"default": value}}
}

func marshalForFile(v any) ([]byte, error) {
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	return json.Marshal(v)
}
