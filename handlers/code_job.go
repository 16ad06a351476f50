package handlers

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

// CodeJobHandler substitutes template variables into the node's source
// and executes it in the configured language within a timeout,
// capturing stdout and stderr. python/javascript/bash each shell out
// to their interpreter; there is no in-process sandbox.
type CodeJobHandler struct{}

func (h *CodeJobHandler) NodeType() diagram.NodeType { return diagram.NodeTypeCodeJob }
func (h *CodeJobHandler) RequiredServices() []string { return []string{"template"} }

func (h *CodeJobHandler) Execute(ctx context.Context, node *diagram.Node, execCtx store.ReadOnlyContext, diag *diagram.ExecutableDiagram, inputs map[string]any, svc *services.Registry) Result {
	cfg := node.CodeJob
	if cfg == nil || cfg.Code == "" {
		return fail(fmt.Errorf("code_job node %s has no code", node.ID), errType("missing_config"))
	}

	code := cfg.Code
	if strings.Contains(code, "{{") {
		if svc == nil || svc.Template == nil {
			return fail(fmt.Errorf("code_job node %s uses template variables but no template service is configured", node.ID), errType("missing_service"))
		}
		values := make(map[string]any, len(inputs))
		for k, v := range inputs {
			values[k] = v
		}
		rendered, err := svc.Template.Process(ctx, code, values)
		if err != nil {
			return fail(err, errType("template"))
		}
		if len(rendered.MissingKeys) > 0 {
			return fail(fmt.Errorf("code_job node %s: missing template variables: %v", node.ID, rendered.MissingKeys), errType("transformation_error"))
		}
		code = rendered.Content
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	switch cfg.Language {
	case diagram.LanguagePython:
		cmd = exec.CommandContext(runCtx, "python3", "-c", code)
	case diagram.LanguageJavaScript:
		cmd = exec.CommandContext(runCtx, "node", "-e", code)
	case diagram.LanguageBash:
		cmd = exec.CommandContext(runCtx, "bash", "-c", code)
	default:
		return fail(fmt.Errorf("code_job node %s: unsupported language %q", node.ID, cfg.Language), errType("unsupported_language"))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return fail(fmt.Errorf("code_job node %s timed out after %s", node.ID, timeout), errType("timeout"))
		}
		return fail(fmt.Errorf("code_job node %s failed: %w: %s", node.ID, err, stderr.String()), errType("execution_failed"))
	}

	return Result{Output: map[string]any{"default": strings.TrimSpace(stdout.String())}}
}
