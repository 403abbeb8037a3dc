package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestOpenAIChatComplete verifies messages and overrides reach the API and the reply is returned
func TestOpenAIChatComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "three follow ups"}}]
		}`))
	}))
	defer srv.Close()

	client := openai.NewClient(
		openaioption.WithBaseURL(srv.URL+"/"),
		openaioption.WithAPIKey("test"),
		openaioption.WithMaxRetries(0),
	)
	m := NewOpenAIFromClient(&client)

	temp := 0.1
	text, err := m.ChatComplete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "Summary: s\n\nTranscript: t"},
	}, Options{Model: "gpt-4o", Temperature: &temp, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, "three follow ups", text)

	assert.Equal(t, "gpt-4o", got["model"])
	assert.InDelta(t, 0.1, got["temperature"], 1e-9)
	assert.EqualValues(t, 50, got["max_completion_tokens"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

// TestOpenAIEmptyChoices verifies a reply without content is an error
func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer srv.Close()

	client := openai.NewClient(openaioption.WithBaseURL(srv.URL+"/"), openaioption.WithAPIKey("test"))
	_, err := NewOpenAIFromClient(&client).ChatComplete(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, Options{})
	require.ErrorIs(t, err, ErrEmptyCompletion)
}

// TestAnthropicChatComplete verifies system messages move to the system prompt
func TestAnthropicChatComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-20241022",
			"content": [{"type": "text", "text": "decisions were made"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	client := anthropic.NewClient(
		anthropicoption.WithBaseURL(srv.URL+"/"),
		anthropicoption.WithAPIKey("test"),
		anthropicoption.WithMaxRetries(0),
	)
	m := NewAnthropicFromClient(&client, func(o *AnthropicOptions) { o.MaxTokens = 200 })

	text, err := m.ChatComplete(context.Background(), []Message{
		{Role: RoleSystem, Content: "analyze"},
		{Role: RoleUser, Content: "Summary: s"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "decisions were made", text)

	assert.EqualValues(t, 200, got["max_tokens"])
	system, ok := got["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "analyze", system[0].(map[string]any)["text"])
	msgs, ok := got["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
}

// TestFuncAdapter verifies Func satisfies ChatCompleter
func TestFuncAdapter(t *testing.T) {
	var c ChatCompleter = Func(func(_ context.Context, msgs []Message, _ Options) (string, error) {
		return msgs[len(msgs)-1].Content, nil
	})
	text, err := c.ChatComplete(context.Background(), []Message{{Role: RoleUser, Content: "echo"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "echo", text)
}
