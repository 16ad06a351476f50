package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// DBHandler validates the requested operation against an allowlist,
// constructs a safe path under a fixed base directory, and delegates
// read/write to the file service. Append reads the stored list,
// extends it with the input (a non-list input counts as one element)
// and writes the whole list back; an existing non-list value is first
// coerced into a single-element list.
type DBHandler struct {
	// BaseDir confines every db node's resolved path; defaults to the
	// process working directory's "data" subdirectory if unset.
	BaseDir string
}

func (h *DBHandler) NodeType() diagram.NodeType { return diagram.NodeTypeDB }
func (h *DBHandler) RequiredServices() []string { return []string{"file"} }

var allowedDBOps = map[diagram.DBOperation]bool{
	diagram.DBOpPrompt: true,
	diagram.DBOpRead:   true,
	diagram.DBOpWrite:  true,
	diagram.DBOpAppend: true,
}

func (h *DBHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	cfg := node.DB
	if cfg == nil {
		return fail(fmt.Errorf("db node %s has no configuration", node.ID), errType("missing_config"))
	}
	if !allowedDBOps[cfg.Operation] {
		return fail(fmt.Errorf("db node %s: operation %q is not allowlisted", node.ID, cfg.Operation), errType("disallowed_operation"))
	}
	if svc == nil || svc.File == nil {
		return fail(fmt.Errorf("db node %s requires a file service", node.ID), errType("missing_service"))
	}

	path, err := h.safePath(cfg.Path)
	if err != nil {
		return fail(err, errType("unsafe_path"))
	}

	switch cfg.Operation {
	case diagram.DBOpRead, diagram.DBOpPrompt:
		data, err := svc.File.Read(ctx, path)
		if err != nil {
			return fail(err, errType("file_read"))
		}
		return Result{Output: map[string]any{"default": string(data)}}

	case diagram.DBOpWrite:
		value, _ := inputs["default"]
		content, err := marshalForFile(value)
		if err != nil {
			return fail(err, errType("serialize"))
		}
		if err := svc.File.Write(ctx, path, content); err != nil {
			return fail(err, errType("file_write"))
		}
		return Result{Output: map[string]any{"default": value}}

	case diagram.DBOpAppend:
		value, _ := inputs["default"]
		list := h.asList(value)

		existing, err := svc.File.Read(ctx, path)
		var prior []any
		if err == nil && len(existing) > 0 {
			if json.Unmarshal(existing, &prior) != nil {
				var single any
				if json.Unmarshal(existing, &single) != nil {
					single = string(existing)
				}
				prior = []any{single}
			}
		}
		prior = append(prior, list...)

		encoded, err := json.Marshal(prior)
		if err != nil {
			return fail(err, errType("serialize"))
		}
		if err := svc.File.Write(ctx, path, encoded); err != nil {
			return fail(err, errType("file_append"))
		}
		return Result{Output: map[string]any{"default": prior}}
	}

	return fail(fmt.Errorf("db node %s: unhandled operation %q", node.ID, cfg.Operation), errType("disallowed_operation"))
}

// asList coerces a non-list value into a single-element list so
// append always has a slice to extend.
func (h *DBHandler) asList(v any) []any {
	if v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

func (h *DBHandler) safePath(requested string) (string, error) {
	base := h.BaseDir
	if base == "" {
		base = "data"
	}
	base = filepath.Clean(base)
	joined := filepath.Clean(filepath.Join(base, requested))
	if joined != base && !strings.HasPrefix(joined, base+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes base directory %q", requested, base)
	}
	return joined, nil
}
