// Package diagram implements the compiler: it turns a declarative
// Diagram into an immutable ExecutableDiagram (nodes + edges +
// validation results) that the scheduler runs against.
package diagram

// NodeType is the closed set of node type tags a diagram may use.
type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeEnd          NodeType = "end"
	NodeTypePersonJob    NodeType = "person_job"
	NodeTypeCondition    NodeType = "condition"
	NodeTypeCodeJob      NodeType = "code_job"
	NodeTypeAPIJob       NodeType = "api_job"
	NodeTypeDB           NodeType = "db"
	NodeTypeHook         NodeType = "hook"
	NodeTypeUserResponse NodeType = "user_response"
	NodeTypeNotion       NodeType = "notion"
	NodeTypeBatch        NodeType = "batch"
)

var validNodeTypes = map[NodeType]bool{
	NodeTypeStart: true, NodeTypeEnd: true, NodeTypePersonJob: true,
	NodeTypeCondition: true, NodeTypeCodeJob: true, NodeTypeAPIJob: true,
	NodeTypeDB: true, NodeTypeHook: true, NodeTypeUserResponse: true,
	NodeTypeNotion: true, NodeTypeBatch: true,
}

// ConditionEvaluatorKind is the closed set of condition evaluators.
type ConditionEvaluatorKind string

const (
	EvaluatorCustomExpression ConditionEvaluatorKind = "custom_expression"
	EvaluatorMaxIterations    ConditionEvaluatorKind = "max_iterations"
	EvaluatorNodesExecuted    ConditionEvaluatorKind = "nodes_executed"
	EvaluatorLLMDecision      ConditionEvaluatorKind = "llm_decision"
)

// CodeLanguage is the closed set of code_job languages.
type CodeLanguage string

const (
	LanguagePython     CodeLanguage = "python"
	LanguageJavaScript CodeLanguage = "javascript"
	LanguageBash       CodeLanguage = "bash"
)

// MemoryPolicy governs how a person_job node treats prior messages.
type MemoryPolicy string

const (
	MemoryNoForget      MemoryPolicy = "no_forget"
	MemoryOnEveryTurn   MemoryPolicy = "on_every_turn"
	MemoryUponRequest   MemoryPolicy = "upon_request"
)

// Packing selects how the Transform stage combines a surviving edge's
// value into the accumulator.
type Packing string

const (
	PackingPack   Packing = "pack"
	PackingSpread Packing = "spread"
)

// --- Declarative input types (what the compiler consumes) ---

// Diagram is the declarative graph a diagram author produces: a node
// list, an arrow list, a persons list, and metadata.
type Diagram struct {
	ID       string
	Nodes    []DeclNode
	Arrows   []DeclArrow
	Persons  []Person
	Metadata map[string]any
}

// DeclNode is one declared node before compilation.
type DeclNode struct {
	ID     string
	Type   NodeType
	Config map[string]any
}

// DeclArrow is one declared arrow before handle resolution. Source
// and Target are handle references of the form "<node-id>:<handle-label>"
// or a bare node id (implying the "default" handle).
type DeclArrow struct {
	ID             string
	Source         string
	Target         string
	TransformRules []string
	Packing        Packing
	Metadata       map[string]any
}

// Person is an LLM-agent configuration referenced by person_job nodes.
type Person struct {
	ID           string
	Model        string
	APIKeyRef    string
	SystemPrompt string
}

// --- Type-specific node configuration ---

// PersonJobConfig configures a person_job node.
type PersonJobConfig struct {
	PersonID                string
	Model                   string
	APIKeyRef               string
	SystemPrompt            string
	DefaultPromptTemplate   string
	FirstOnlyPromptTemplate string
	MemoryPolicy            MemoryPolicy
	Tools                   []string
	MaxIterations           int
}

// ConditionConfig configures a condition node.
type ConditionConfig struct {
	Evaluator     ConditionEvaluatorKind
	Expression    string   // custom_expression
	TargetNodeIDs []string // nodes_executed
	Prompt        string   // llm_decision
	PersonID      string   // llm_decision
	Model         string   // llm_decision
	APIKeyRef     string   // llm_decision
	ExposeIndexAs string
}

// CodeJobConfig configures a code_job node.
type CodeJobConfig struct {
	Language       CodeLanguage
	Code           string
	TimeoutSeconds int
}

// APIJobConfig configures an api_job node.
type APIJobConfig struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string]string
	Body        any
	AuthType    string // bearer | basic | api_key
	AuthRef     string
}

// DBOperation is the allowlisted set of db node operations.
type DBOperation string

const (
	DBOpPrompt DBOperation = "prompt"
	DBOpRead   DBOperation = "read"
	DBOpWrite  DBOperation = "write"
	DBOpAppend DBOperation = "append"
)

// DBConfig configures a db node.
type DBConfig struct {
	Operation DBOperation
	Path      string
}

// StartConfig configures a start node.
type StartConfig struct {
	CustomData    map[string]any
	HookTrigger   bool
	HookEventName string
}

// EndConfig configures an end node.
type EndConfig struct {
	SaveToFile string
}

// --- Compiled (immutable) types ---

// Node is an ExecutableNode: immutable after compilation.
type Node struct {
	ID              string
	Type            NodeType
	PersonJob       *PersonJobConfig
	Condition       *ConditionConfig
	CodeJob         *CodeJobConfig
	APIJob          *APIJobConfig
	DB              *DBConfig
	Start           *StartConfig
	End             *EndConfig
	RequiredInputs  []string
	Defaults        map[string]any
	IsTerminal      bool
	WaitForAll      bool
}

// IsAbsorber reports whether this node is a start or condition node,
// whose output comes from control-flow logic rather than external
// work. The scheduler does not consult it: every node type, these
// included, is dispatched to its registered handler.
func (n *Node) IsAbsorber() bool {
	switch n.Type {
	case NodeTypeStart, NodeTypeCondition:
		return true
	default:
		return false
	}
}

// Edge is an ExecutableEdge: immutable after compilation.
type Edge struct {
	ID             string
	SourceNodeID   string
	SourceOutput   string
	TargetNodeID   string
	TargetInput    string
	TransformRules []string
	Packing        Packing
	Metadata       map[string]any
}

// ExecutableDiagram is the compiler's immutable output.
type ExecutableDiagram struct {
	ID        string
	Nodes     []*Node
	Edges     []*Edge
	nodeByID  map[string]*Node
	inByTgt   map[string][]*Edge
	outBySrc  map[string][]*Edge
}

// NodeByID looks up a compiled node by id.
func (d *ExecutableDiagram) NodeByID(id string) (*Node, bool) {
	n, ok := d.nodeByID[id]
	return n, ok
}

// IncomingEdges returns every edge whose target is the given node id.
func (d *ExecutableDiagram) IncomingEdges(nodeID string) []*Edge {
	return d.inByTgt[nodeID]
}

// OutgoingEdges returns every edge whose source is the given node id.
func (d *ExecutableDiagram) OutgoingEdges(nodeID string) []*Edge {
	return d.outBySrc[nodeID]
}

// StartNodes returns all nodes of type start.
func (d *ExecutableDiagram) StartNodes() []*Node {
	var out []*Node
	for _, n := range d.Nodes {
		if n.Type == NodeTypeStart {
			out = append(out, n)
		}
	}
	return out
}

// TerminalNodes returns all nodes with no outgoing edges.
func (d *ExecutableDiagram) TerminalNodes() []*Node {
	var out []*Node
	for _, n := range d.Nodes {
		if n.IsTerminal {
			out = append(out, n)
		}
	}
	return out
}
