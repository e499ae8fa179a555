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

func TestLocalChatParsesResponseAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"message":           map[string]any{"content": "hello from llama"},
			"prompt_eval_count": 12,
			"eval_count":        4,
		})
	}))
	defer server.Close()

	client, err := NewLocalClient(server.URL, domain.DefaultConnectionSettings(), nil)
	require.NoError(t, err)

	resp, err := client.Chat(t.Context(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "hi"}}}},
		Options:  domain.LLMOptions{Model: "llama3"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello from llama", resp.Content)
	assert.Equal(t, domain.FinishReasonStop, resp.FinishReason)
	assert.EqualValues(t, 16, resp.Usage.TotalTokens)
}

func TestLocalStreamChatDecodesNDJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"Hel"},"done":false}`)
		flusher.Flush()
		fmt.Fprintln(w, `{"message":{"content":"lo"},"done":false}`)
		flusher.Flush()
		fmt.Fprintln(w, `{"message":{"content":""},"done":true,"prompt_eval_count":5,"eval_count":2}`)
		flusher.Flush()
	}))
	defer server.Close()

	client, err := NewLocalClient(server.URL, domain.DefaultConnectionSettings(), nil)
	require.NoError(t, err)

	events, err := client.StreamChat(t.Context(), domain.ChatRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "hi"}}}},
	})
	require.NoError(t, err)

	var text string
	var sawFinish, sawUsage bool
	for ev := range events {
		switch e := ev.(type) {
		case domain.TextChunk:
			text += e.Content
		case domain.UsageEvent:
			sawUsage = true
			assert.EqualValues(t, 7, e.TotalTokens)
		case domain.FinishStreamEvent:
			sawFinish = true
		}
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, sawFinish)
	assert.True(t, sawUsage)
}

func TestLocalListModelsMergesLiveCatalogWithSeeds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"models": []map[string]any{{"name": "llama3"}, {"name": "brand-new-model"}},
		})
	}))
	defer server.Close()

	seed := domain.ModelMetadata{
		ID: "local/llama3", Provider: domain.ProviderLocal, Name: "llama3",
		ContextWindow: 8192, Capabilities: []domain.Capability{domain.CapabilityChat},
		Availability: domain.Availability{Status: domain.ModelStatusAvailable},
	}
	client, err := NewLocalClient(server.URL, domain.DefaultConnectionSettings(), []domain.ModelMetadata{seed})
	require.NoError(t, err)

	models, err := client.ListModels(t.Context())
	require.NoError(t, err)
	require.Len(t, models, 2)

	byName := map[string]domain.ModelMetadata{}
	for _, m := range models {
		byName[m.Name] = m
	}
	assert.Equal(t, "local/llama3", byName["llama3"].ID)
	assert.Equal(t, "local/brand-new-model", byName["brand-new-model"].ID)
}

func TestLocalListModelsFallsBackToStaticCatalogOnError(t *testing.T) {
	client, err := NewLocalClient("http://127.0.0.1:0", domain.DefaultConnectionSettings(), []domain.ModelMetadata{
		{ID: "local/seed", Name: "seed"},
	})
	require.NoError(t, err)

	models, err := client.ListModels(t.Context())
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "local/seed", models[0].ID)
}

func TestLocalEmbedAccumulatesPerInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{0.5, 0.5}})
	}))
	defer server.Close()

	client, err := NewLocalClient(server.URL, domain.DefaultConnectionSettings(), nil)
	require.NoError(t, err)

	embeddings, usage, err := client.Embed(t.Context(), "nomic-embed-text", []string{"a", "bb"}, domain.LLMOptions{})
	require.NoError(t, err)
	require.Len(t, embeddings, 2)
	assert.NotNil(t, usage)
}
