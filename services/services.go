// Package services declares the narrow external-service ports the
// scheduler looks up by name and hands to handlers. The engine core
// depends only on these interfaces; concrete implementations
// (HTTP-backed LLM client, local filesystem, etc.) are an explicit
// non-goal of this module and are left to the host application to
// provide.
package services

import "context"

// FileInfo describes one entry returned by DiagramStorage.ListFiles.
type FileInfo struct {
	Path    string
	Size    int64
	ModTime int64
}

// DiagramStorage resolves diagram identifiers to their backing
// declarative data and manages the file-backed storage layer that
// authoring tools operate on.
type DiagramStorage interface {
	FindByID(ctx context.Context, id string) (path string, err error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	ListFiles(ctx context.Context) ([]FileInfo, error)
	DeleteFile(ctx context.Context, path string) error
}

// LLMMessage is one turn sent to the LLM service.
type LLMMessage struct {
	Role    string
	Content string
}

// LLMResult is what a completion call returns.
type LLMResult struct {
	Text        string
	TokenUsage  TokenUsage
	ToolOutputs []any
}

// TokenUsage mirrors store.TokenUsage's shape without importing store,
// keeping this package dependency-free of the engine's internal state.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// LLMOptions carries optional per-call tuning (temperature, max
// tokens, tool bindings); left opaque to the port.
type LLMOptions map[string]any

// LLM is the person_job handler's model-completion port.
type LLM interface {
	Complete(ctx context.Context, messages []LLMMessage, model, apiKeyID string, options LLMOptions) (LLMResult, error)
	AvailableModels(ctx context.Context, service, apiKeyID string) ([]string, error)
}

// APIKeyRecord is one stored credential.
type APIKeyRecord struct {
	ID      string
	Service string
	Key     string
}

// APIKey manages stored credentials referenced by id from node config.
type APIKey interface {
	Get(ctx context.Context, id string) (APIKeyRecord, error)
	List(ctx context.Context) ([]APIKeyRecord, error)
	Create(ctx context.Context, service, key string) (APIKeyRecord, error)
	Delete(ctx context.Context, id string) error
}

// File is the db/end/code_job handlers' filesystem port.
type File interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, content []byte) error
	Append(ctx context.Context, path string, content []byte) error
}

// TemplateResult is what Template.Process returns.
type TemplateResult struct {
	Content     string
	MissingKeys []string
	Errors      []string
}

// Template renders `{{var}}`/`{{a.b.c}}`/`{{a[idx]}}`/`{{#if}}`/`{{#each}}`
// style templates against a value map.
type Template interface {
	Process(ctx context.Context, template string, values map[string]any) (TemplateResult, error)
}

// ConversationMessage is one turn in a person's conversation history.
type ConversationMessage struct {
	Role        string
	Content     string
	ExecutionID string
}

// Conversation is the person_job handler's memory-policy port.
type Conversation interface {
	GetMessages(ctx context.Context, personID, forgetMode string) ([]ConversationMessage, error)
	AddMessage(ctx context.Context, personID, role, content, executionID string) error
	ClearAll(ctx context.Context) error
}

// HTTPResponse is what HTTPClient.Do returns.
type HTTPResponse struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

// HTTPClient is the api_job handler's outbound transport port.
type HTTPClient interface {
	Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (HTTPResponse, error)
}

// Registry is the named service-handle lookup the scheduler passes to
// handlers.
type Registry struct {
	DiagramStorage DiagramStorage
	LLM            LLM
	APIKey         APIKey
	File           File
	Template       Template
	Conversation   Conversation
	HTTPClient     HTTPClient
}
