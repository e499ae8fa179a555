package provider

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmorch/internal/domain"
)

func newTestAnthropicClient(t *testing.T, handler http.HandlerFunc) (*AnthropicClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	client, err := NewAnthropicClient("test-key", server.URL, domain.DefaultConnectionSettings(), nil)
	require.NoError(t, err)
	return client, server
}

func TestAnthropicChatSendsHeadersAndParsesResponse(t *testing.T) {
	var apiKey, version string
	client, server := newTestAnthropicClient(t, func(w http.ResponseWriter, r *http.Request) {
		apiKey = r.Header.Get("x-api-key")
		version = r.Header.Get("anthropic-version")
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "hi there"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 8, "output_tokens": 3},
		})
	})
	defer server.Close()

	resp, err := client.Chat(t.Context(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "test-key", apiKey)
	assert.Equal(t, anthropicAPIVersion, version)
	assert.Equal(t, "hi there", resp.Content)
	assert.Equal(t, domain.FinishReasonStop, resp.FinishReason)
	assert.EqualValues(t, 11, resp.Usage.TotalTokens)
}

func TestAnthropicChatMapsToolUseStopReason(t *testing.T) {
	client, server := newTestAnthropicClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": ""}},
			"stop_reason": "tool_use",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	})
	defer server.Close()

	resp, err := client.Chat(t.Context(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.FinishReasonToolCalls, resp.FinishReason)
}

func TestAnthropicToolResultMessageSerializesAsUserToolResult(t *testing.T) {
	var capturedBody map[string]any
	client, server := newTestAnthropicClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&capturedBody)
		json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": "ok"}},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 1, "output_tokens": 1},
		})
	})
	defer server.Close()

	_, err := client.Chat(t.Context(), domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: "tool", ToolCallID: "call_1", Content: []domain.ContentBlock{{Type: "text", Text: "42 degrees"}}},
		},
	})
	require.NoError(t, err)

	messages := capturedBody["messages"].([]any)
	require.Len(t, messages, 1)
	msg := messages[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	content := msg["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", content["type"])
	assert.Equal(t, "call_1", content["tool_use_id"])
	assert.Equal(t, "42 degrees", content["content"])
}

func TestAnthropicEmbedIsUnsupported(t *testing.T) {
	client, err := NewAnthropicClient("k", "", domain.DefaultConnectionSettings(), nil)
	require.NoError(t, err)

	_, _, err = client.Embed(t.Context(), "claude-3", []string{"a"}, domain.LLMOptions{})
	require.Error(t, err)
	var oe *domain.OrchestratorError
	require.True(t, domain.AsOrchestratorError(err, &oe))
	assert.Equal(t, domain.ErrInvalidRequestError, oe.Code)
}

func TestAnthropicStreamChatEmitsTextUsageAndFinish(t *testing.T) {
	client, server := newTestAnthropicClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":7}}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"input_tokens\":7,\"output_tokens\":2}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "data: {\"type\":\"message_stop\"}\n\n")
		flusher.Flush()
	})
	defer server.Close()

	events, err := client.StreamChat(t.Context(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)

	var text string
	var sawFinish bool
	for ev := range events {
		switch e := ev.(type) {
		case domain.TextChunk:
			text += e.Content
		case domain.FinishStreamEvent:
			sawFinish = true
			assert.Equal(t, domain.FinishReasonStop, e.Reason)
		}
	}
	assert.Equal(t, "hi", text)
	assert.True(t, sawFinish)
}

func TestNewAnthropicClientRequiresAPIKey(t *testing.T) {
	_, err := NewAnthropicClient("", "", domain.DefaultConnectionSettings(), nil)
	require.Error(t, err)
}
