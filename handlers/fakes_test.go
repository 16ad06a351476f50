package handlers

import (
	"context"
	"fmt"
	"sync"

	"github.com/dipeo/engine/services"
)

// fakeFile is an in-memory services.File backing db/end handler tests.
type fakeFile struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeFile() *fakeFile { return &fakeFile{files: make(map[string][]byte)} }

func (f *fakeFile) Read(ctx context.Context, path string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("fakeFile: %s not found", path)
	}
	return data, nil
}

func (f *fakeFile) Write(ctx context.Context, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append([]byte(nil), content...)
	return nil
}

func (f *fakeFile) Append(ctx context.Context, path string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = append(f.files[path], content...)
	return nil
}

// fakeTemplate renders a template by returning it unchanged, or
// reports the configured missing keys when any are set, keeping
// code_job/person_job tests free of a real templating engine.
type fakeTemplate struct {
	missing []string
}

func (f fakeTemplate) Process(ctx context.Context, template string, values map[string]any) (services.TemplateResult, error) {
	if len(f.missing) > 0 {
		return services.TemplateResult{MissingKeys: f.missing}, nil
	}
	return services.TemplateResult{Content: template}, nil
}

// fakeLLM is a minimal services.LLM stub recording the messages it was
// last called with.
type fakeLLM struct {
	reply       string
	lastMessage []services.LLMMessage
}

func (f *fakeLLM) Complete(ctx context.Context, messages []services.LLMMessage, model, apiKeyID string, options services.LLMOptions) (services.LLMResult, error) {
	f.lastMessage = messages
	text := f.reply
	if text == "" {
		text = "ack"
	}
	return services.LLMResult{Text: text, TokenUsage: services.TokenUsage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2}}, nil
}

func (f *fakeLLM) AvailableModels(ctx context.Context, service, apiKeyID string) ([]string, error) {
	return nil, nil
}

// fakeConversation is an in-memory services.Conversation.
type fakeConversation struct {
	mu       sync.Mutex
	messages map[string][]services.ConversationMessage
}

func newFakeConversation() *fakeConversation {
	return &fakeConversation{messages: make(map[string][]services.ConversationMessage)}
}

func (c *fakeConversation) GetMessages(ctx context.Context, personID, forgetMode string) ([]services.ConversationMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]services.ConversationMessage(nil), c.messages[personID]...), nil
}

func (c *fakeConversation) AddMessage(ctx context.Context, personID, role, content, executionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[personID] = append(c.messages[personID], services.ConversationMessage{Role: role, Content: content, ExecutionID: executionID})
	return nil
}

func (c *fakeConversation) ClearAll(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = make(map[string][]services.ConversationMessage)
	return nil
}

// fakeHTTPClient is a scripted services.HTTPClient stub.
type fakeHTTPClient struct {
	status  int
	body    []byte
	err     error
	lastURL string
}

func (f *fakeHTTPClient) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (services.HTTPResponse, error) {
	f.lastURL = url
	if f.err != nil {
		return services.HTTPResponse{}, f.err
	}
	status := f.status
	if status == 0 {
		status = 200
	}
	return services.HTTPResponse{StatusCode: status, Body: f.body, Headers: headers}, nil
}

// fakeAPIKey is an in-memory services.APIKey.
type fakeAPIKey struct {
	records map[string]services.APIKeyRecord
}

func newFakeAPIKey(records map[string]services.APIKeyRecord) *fakeAPIKey {
	return &fakeAPIKey{records: records}
}

func (a *fakeAPIKey) Get(ctx context.Context, id string) (services.APIKeyRecord, error) {
	rec, ok := a.records[id]
	if !ok {
		return services.APIKeyRecord{}, fmt.Errorf("fakeAPIKey: %s not found", id)
	}
	return rec, nil
}

func (a *fakeAPIKey) List(ctx context.Context) ([]services.APIKeyRecord, error) {
	out := make([]services.APIKeyRecord, 0, len(a.records))
	for _, r := range a.records {
		out = append(out, r)
	}
	return out, nil
}

func (a *fakeAPIKey) Create(ctx context.Context, service, key string) (services.APIKeyRecord, error) {
	return services.APIKeyRecord{}, fmt.Errorf("fakeAPIKey: Create not supported")
}

func (a *fakeAPIKey) Delete(ctx context.Context, id string) error {
	delete(a.records, id)
	return nil
}
