package diagram

import (
	"fmt"
	"strings"
)

// CompileResult is the compiler's pure output: a diagram is valid iff
// Errors is empty. Compilation always collects validation errors and
// warnings without aborting partway through.
type CompileResult struct {
	Diagram  *ExecutableDiagram
	Errors   []string
	Warnings []string
}

// OK reports whether the diagram compiled without fatal errors.
func (r *CompileResult) OK() bool { return len(r.Errors) == 0 }

// Compile transforms a declarative Diagram into an ExecutableDiagram.
// It is pure and idempotent: compiling the same Diagram twice produces
// structurally identical output.
func Compile(d *Diagram) *CompileResult {
	r := &CompileResult{}

	if len(d.Nodes) == 0 {
		r.Errors = append(r.Errors, "diagram has no nodes")
		return r
	}

	ed := &ExecutableDiagram{
		ID:       d.ID,
		nodeByID: make(map[string]*Node, len(d.Nodes)),
		inByTgt:  make(map[string][]*Edge),
		outBySrc: make(map[string][]*Edge),
	}

	seen := make(map[string]bool, len(d.Nodes))
	for i := range d.Nodes {
		dn := &d.Nodes[i]
		if seen[dn.ID] {
			r.Errors = append(r.Errors, fmt.Sprintf("duplicate node id: %s", dn.ID))
			continue
		}
		seen[dn.ID] = true

		if !validNodeTypes[dn.Type] {
			r.Errors = append(r.Errors, fmt.Sprintf("node %s: unknown node type %q", dn.ID, dn.Type))
			continue
		}

		node, errs := convertNode(dn)
		r.Errors = append(r.Errors, errs...)
		ed.nodeByID[node.ID] = node
		ed.Nodes = append(ed.Nodes, node)
	}

	for i := range d.Arrows {
		a := &d.Arrows[i]
		srcNode, srcHandle, err := resolveHandle(a.Source)
		if err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("arrow %s: %v", a.ID, err))
			continue
		}
		tgtNode, tgtHandle, err := resolveHandle(a.Target)
		if err != nil {
			r.Errors = append(r.Errors, fmt.Sprintf("arrow %s: %v", a.ID, err))
			continue
		}
		if _, ok := ed.nodeByID[srcNode]; !ok {
			r.Errors = append(r.Errors, fmt.Sprintf("arrow %s: source node %q does not exist", a.ID, srcNode))
			continue
		}
		if _, ok := ed.nodeByID[tgtNode]; !ok {
			r.Errors = append(r.Errors, fmt.Sprintf("arrow %s: target node %q does not exist", a.ID, tgtNode))
			continue
		}

		packing := a.Packing
		if packing == "" {
			packing = PackingPack
		}
		sourceOutput := srcHandle
		if sourceOutput == "" {
			sourceOutput = "default"
		}
		targetInput := tgtHandle
		if targetInput == "" {
			targetInput = "default"
		}

		rules := inferTransformRules(ed.nodeByID[srcNode], a.TransformRules)

		edge := &Edge{
			ID:             a.ID,
			SourceNodeID:   srcNode,
			SourceOutput:   sourceOutput,
			TargetNodeID:   tgtNode,
			TargetInput:    targetInput,
			TransformRules: rules,
			Packing:        packing,
			Metadata:       a.Metadata,
		}
		ed.Edges = append(ed.Edges, edge)
		ed.inByTgt[tgtNode] = append(ed.inByTgt[tgtNode], edge)
		ed.outBySrc[srcNode] = append(ed.outBySrc[srcNode], edge)
	}

	for _, n := range ed.Nodes {
		if len(ed.outBySrc[n.ID]) == 0 {
			n.IsTerminal = true
		}
		if len(ed.inByTgt[n.ID]) > 1 {
			n.WaitForAll = true
		}
	}

	errs, warnings := validate(ed)
	r.Errors = append(r.Errors, errs...)
	r.Warnings = append(r.Warnings, warnings...)

	r.Diagram = ed
	return r
}

// resolveHandle splits a "<node-id>:<handle-label>" reference (or a
// bare node id) into its node id and handle label.
func resolveHandle(ref string) (nodeID, handle string, err error) {
	if ref == "" {
		return "", "", fmt.Errorf("empty handle reference")
	}
	if idx := strings.Index(ref, ":"); idx >= 0 {
		return ref[:idx], ref[idx+1:], nil
	}
	return ref, "", nil
}

// inferTransformRules combines explicit arrow-level rules with rules
// implied by the source node's type, e.g. a condition node's outgoing
// edge implicitly carries branch_on_condition behavior.
func inferTransformRules(source *Node, explicit []string) []string {
	rules := append([]string(nil), explicit...)
	if source != nil && source.Type == NodeTypeCondition {
		rules = append(rules, "branch_on_condition")
	}
	return rules
}

func convertNode(dn *DeclNode) (*Node, []string) {
	n := &Node{ID: dn.ID, Type: dn.Type}
	var errs []string

	if v, ok := dn.Config["required_inputs"]; ok {
		if list, ok := v.([]string); ok {
			n.RequiredInputs = list
		} else if list, ok := v.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					n.RequiredInputs = append(n.RequiredInputs, s)
				}
			}
		}
	}
	if v, ok := dn.Config["defaults"]; ok {
		if m, ok := v.(map[string]any); ok {
			n.Defaults = m
		}
	}

	switch dn.Type {
	case NodeTypePersonJob:
		n.PersonJob = convertPersonJob(dn.Config)
	case NodeTypeCondition:
		cfg, cerrs := convertCondition(dn.Config)
		n.Condition = cfg
		errs = append(errs, withNodePrefix(dn.ID, cerrs)...)
	case NodeTypeCodeJob:
		n.CodeJob = convertCodeJob(dn.Config)
	case NodeTypeAPIJob:
		n.APIJob = convertAPIJob(dn.Config)
	case NodeTypeDB:
		n.DB = convertDB(dn.Config)
	case NodeTypeStart:
		n.Start = convertStart(dn.Config)
	case NodeTypeEnd:
		n.End = convertEnd(dn.Config)
	}

	return n, errs
}

func withNodePrefix(nodeID string, msgs []string) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = fmt.Sprintf("node %s: %s", nodeID, m)
	}
	return out
}

func str(cfg map[string]any, key string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func integer(cfg map[string]any, key string, def int) int {
	if v, ok := cfg[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return def
}

func strSlice(cfg map[string]any, key string) []string {
	v, ok := cfg[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func convertPersonJob(cfg map[string]any) *PersonJobConfig {
	maxIter := integer(cfg, "max_iterations", 100)
	return &PersonJobConfig{
		PersonID:                str(cfg, "person_id"),
		Model:                   str(cfg, "model"),
		APIKeyRef:               str(cfg, "api_key_ref"),
		SystemPrompt:            str(cfg, "system_prompt"),
		DefaultPromptTemplate:   str(cfg, "default_prompt"),
		FirstOnlyPromptTemplate: str(cfg, "first_only_prompt"),
		MemoryPolicy:            MemoryPolicy(str(cfg, "memory_policy")),
		Tools:                   strSlice(cfg, "tools"),
		MaxIterations:           maxIter,
	}
}

func convertCondition(cfg map[string]any) (*ConditionConfig, []string) {
	kind := ConditionEvaluatorKind(str(cfg, "evaluator"))
	var errs []string
	switch kind {
	case EvaluatorCustomExpression, EvaluatorMaxIterations, EvaluatorNodesExecuted, EvaluatorLLMDecision:
	default:
		errs = append(errs, fmt.Sprintf("condition node: unknown evaluator %q", kind))
	}
	return &ConditionConfig{
		Evaluator:     kind,
		Expression:    str(cfg, "expression"),
		TargetNodeIDs: strSlice(cfg, "node_indices"),
		Prompt:        str(cfg, "prompt"),
		PersonID:      str(cfg, "person_id"),
		Model:         str(cfg, "model"),
		APIKeyRef:     str(cfg, "api_key_ref"),
		ExposeIndexAs: str(cfg, "expose_index_as"),
	}, errs
}

func convertCodeJob(cfg map[string]any) *CodeJobConfig {
	timeout := integer(cfg, "timeout", 30)
	return &CodeJobConfig{
		Language:       CodeLanguage(str(cfg, "language")),
		Code:           str(cfg, "code"),
		TimeoutSeconds: timeout,
	}
}

func convertAPIJob(cfg map[string]any) *APIJobConfig {
	headers := map[string]string{}
	if v, ok := cfg["headers"].(map[string]any); ok {
		for k, val := range v {
			if s, ok := val.(string); ok {
				headers[k] = s
			}
		}
	}
	params := map[string]string{}
	if v, ok := cfg["query_params"].(map[string]any); ok {
		for k, val := range v {
			if s, ok := val.(string); ok {
				params[k] = s
			}
		}
	}
	return &APIJobConfig{
		Method:      str(cfg, "method"),
		URL:         str(cfg, "url"),
		Headers:     headers,
		QueryParams: params,
		Body:        cfg["body"],
		AuthType:    str(cfg, "auth_type"),
		AuthRef:     str(cfg, "auth_ref"),
	}
}

func convertDB(cfg map[string]any) *DBConfig {
	return &DBConfig{
		Operation: DBOperation(str(cfg, "operation")),
		Path:      str(cfg, "path"),
	}
}

func convertStart(cfg map[string]any) *StartConfig {
	custom := map[string]any{}
	if v, ok := cfg["custom_data"].(map[string]any); ok {
		custom = v
	}
	return &StartConfig{
		CustomData:    custom,
		HookTrigger:   cfg["hook_trigger"] == true,
		HookEventName: str(cfg, "hook_event_name"),
	}
}

func convertEnd(cfg map[string]any) *EndConfig {
	return &EndConfig{SaveToFile: str(cfg, "save_to_file")}
}
