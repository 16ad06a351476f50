package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dipeo/engine/diagram"
	"github.com/dipeo/engine/envelope"
	"github.com/dipeo/engine/services"
	"github.com/dipeo/engine/store"
)

func TestPersonJobHandlerCallsLLMAndRecordsTokenUsage(t *testing.T) {
	h := &PersonJobHandler{}
	node := &diagram.Node{ID: "p1", Type: diagram.NodeTypePersonJob, PersonJob: &diagram.PersonJobConfig{
		PersonID:              "person1",
		DefaultPromptTemplate: "say hi",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"p1"}, nil)
	llm := &fakeLLM{reply: "hello there"}
	svc := &services.Registry{LLM: llm, Template: fakeTemplate{}}

	result := h.Execute(context.Background(), node, execCtx, nil, nil, svc)
	require.NoError(t, result.Err)
	assert.Equal(t, "hello there", result.Output["default"])
	require.NotNil(t, result.TokenUsage)
	assert.Equal(t, 2, result.TokenUsage.TotalTokens)
}

func TestPersonJobHandlerUsesFirstOnlyTemplateOnFirstExecution(t *testing.T) {
	h := &PersonJobHandler{}
	node := &diagram.Node{ID: "p1", Type: diagram.NodeTypePersonJob, PersonJob: &diagram.PersonJobConfig{
		PersonID:                "person1",
		DefaultPromptTemplate:   "default prompt",
		FirstOnlyPromptTemplate: "first prompt",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"p1"}, nil)
	llm := &fakeLLM{}
	svc := &services.Registry{LLM: llm, Template: fakeTemplate{}}

	// The scheduler moves a node to running (raising its execution
	// count) before it calls the handler; mirror that here.
	_, err := execCtx.ToRunning("p1")
	require.NoError(t, err)
	result := h.Execute(context.Background(), node, execCtx, nil, nil, svc)
	require.NoError(t, result.Err)
	require.NotEmpty(t, llm.lastMessage)
	assert.Equal(t, "first prompt", llm.lastMessage[len(llm.lastMessage)-1].Content)

	require.NoError(t, execCtx.ToCompleted("p1", envelope.Envelope{}, nil))
	require.NoError(t, execCtx.Reset("p1"))
	_, err = execCtx.ToRunning("p1")
	require.NoError(t, err)

	result = h.Execute(context.Background(), node, execCtx, nil, nil, svc)
	require.NoError(t, result.Err)
	assert.Equal(t, "default prompt", llm.lastMessage[len(llm.lastMessage)-1].Content)
}

func TestPersonJobHandlerMissingServiceFails(t *testing.T) {
	h := &PersonJobHandler{}
	node := &diagram.Node{ID: "p1", Type: diagram.NodeTypePersonJob, PersonJob: &diagram.PersonJobConfig{
		PersonID: "person1", DefaultPromptTemplate: "say hi",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"p1"}, nil)

	result := h.Execute(context.Background(), node, execCtx, nil, nil, &services.Registry{})
	require.Error(t, result.Err)
	assert.Equal(t, errType("missing_service"), result.ErrType)
}

func TestPersonJobHandlerIncludesConversationHistory(t *testing.T) {
	h := &PersonJobHandler{}
	node := &diagram.Node{ID: "p1", Type: diagram.NodeTypePersonJob, PersonJob: &diagram.PersonJobConfig{
		PersonID: "person1", DefaultPromptTemplate: "continue",
	}}
	execCtx := store.New("exec-1", "diag-1", []string{"p1"}, nil)
	llm := &fakeLLM{reply: "ack2"}
	conv := newFakeConversation()
	require.NoError(t, conv.AddMessage(context.Background(), "person1", "user", "earlier question", "exec-0"))
	require.NoError(t, conv.AddMessage(context.Background(), "person1", "assistant", "earlier answer", "exec-0"))
	svc := &services.Registry{LLM: llm, Template: fakeTemplate{}, Conversation: conv}

	result := h.Execute(context.Background(), node, execCtx, nil, nil, svc)
	require.NoError(t, result.Err)
	assert.NotNil(t, result.Output["conversation"])

	msgs, err := conv.GetMessages(context.Background(), "person1", "")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "user", msgs[2].Role)
	assert.Equal(t, "assistant", msgs[3].Role)
	assert.Equal(t, "ack2", msgs[3].Content)
}
