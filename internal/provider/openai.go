package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"llmorch/internal/domain"
)

// OpenAIClient is the reference OpenAI-compatible backend. Grounded on the
// teacher's internal/provider.OpenAIClient, adapted to the uniform Provider
// contract: ChatRequest/LLMOptions replace the teacher's flattened request,
// the shared SSEReader replaces its ad hoc buffer parsing, and every error
// path returns an *domain.OrchestratorError via httperr.go instead of a bare
// fmt.Errorf. The Responses-API-specific GenerateResponse is dropped.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	models []domain.ModelMetadata
}

// NewOpenAIClient returns a client seeded with a static model catalog;
// ListModels always serves from it.
func NewOpenAIClient(apiKey, baseURL string, settings domain.ConnectionSettings, models []domain.ModelMetadata) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, domain.NewError(domain.ErrAuthError, "OpenAI API key is required").WithProvider(domain.ProviderOpenAI)
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: BuildHTTPClient(settings),
		models:     models,
	}, nil
}

func (c *OpenAIClient) Name() domain.Provider { return domain.ProviderOpenAI }

func (c *OpenAIClient) Capabilities() []domain.Capability {
	return []domain.Capability{
		domain.CapabilityChat, domain.CapabilityStreaming, domain.CapabilityToolCalling,
		domain.CapabilityFunctionCalling, domain.CapabilityJSONMode, domain.CapabilityVision,
		domain.CapabilityEmbedding, domain.CapabilityCodeGeneration, domain.CapabilityMultimodal,
	}
}

func (c *OpenAIClient) Initialize(ctx context.Context) error { return nil }
func (c *OpenAIClient) Dispose(ctx context.Context) error    { return nil }

func (c *OpenAIClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// ListModels returns the static catalog this client was constructed with.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]domain.ModelMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ModelMetadata, len(c.models))
	copy(out, c.models)
	return out, nil
}

func (c *OpenAIClient) ValidateRequest(req domain.ChatRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewError(domain.ErrInvalidRequestError, "at least one message is required").WithProvider(domain.ProviderOpenAI)
	}
	return nil
}

func (c *OpenAIClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return domain.ChatResponse{}, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderOpenAI)
	}

	resp, err := c.do(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Type     string `json:"type"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int32 `json:"prompt_tokens"`
			CompletionTokens int32 `json:"completion_tokens"`
			TotalTokens      int32 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.ChatResponse{}, domain.NewError(domain.ErrProviderError, err.Error()).WithProvider(domain.ProviderOpenAI)
	}

	out := domain.ChatResponse{
		Model:    req.Options.Model,
		Provider: domain.ProviderOpenAI,
		Usage: &domain.UsageEvent{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
	}
	if len(result.Choices) > 0 {
		choice := result.Choices[0]
		out.Content = choice.Message.Content
		out.FinishReason = mapFinishReason(choice.FinishReason)
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID: tc.ID, Type: tc.Type,
				Function: domain.FunctionCall{Name: tc.Function.Name, Arguments: args},
			})
		}
	}
	return out, nil
}

func (c *OpenAIClient) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	payload := c.buildRequest(req, true)
	payload["stream_options"] = map[string]any{"include_usage": true}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderOpenAI)
	}

	resp, err := c.do(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return nil, err
	}

	events := make(chan domain.StreamEvent, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		sse := NewSSEReader(resp.Body)
		finishSent := false
		var pendingReason string

		for {
			event, err := sse.ReadEvent()
			if err != nil {
				if err != io.EOF && !finishSent {
					events <- domain.FinishStreamEvent{Reason: domain.FinishReasonError}
				}
				return
			}
			if event.Data == "[DONE]" {
				if !finishSent && pendingReason != "" {
					events <- domain.FinishStreamEvent{Reason: mapFinishReason(pendingReason)}
				}
				return
			}
			finishSent = parseOpenAIChunk(event.Data, events, pendingReason, &pendingReason) || finishSent
		}
	}()
	return events, nil
}

// parseOpenAIChunk emits TextChunk/ToolCallDelta/UsageEvent for one SSE data
// payload, buffering the finish reason until usage (sent in the final chunk)
// arrives. Returns whether a FinishStreamEvent was emitted.
func parseOpenAIChunk(data string, events chan<- domain.StreamEvent, prevPending string, pendingReason *string) bool {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Function struct {
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"delta"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int32 `json:"prompt_tokens"`
			CompletionTokens int32 `json:"completion_tokens"`
			TotalTokens      int32 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return false
	}

	finished := false
	if chunk.Usage.TotalTokens > 0 {
		events <- domain.UsageEvent{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
		if *pendingReason != "" {
			events <- domain.FinishStreamEvent{Reason: mapFinishReason(*pendingReason)}
			*pendingReason = ""
			finished = true
		}
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			events <- domain.TextChunk{Content: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			if tc.Function.Arguments != "" {
				events <- domain.ToolCallDelta{ID: tc.ID, Delta: tc.Function.Arguments}
			}
		}
		if choice.FinishReason != "" {
			*pendingReason = choice.FinishReason
		}
	}
	return finished
}

func (c *OpenAIClient) Embed(ctx context.Context, modelID string, input []string, options domain.LLMOptions) ([][]float32, *domain.UsageEvent, error) {
	payload := map[string]any{"model": modelID, "input": input}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderOpenAI)
	}

	resp, err := c.do(ctx, http.MethodPost, "/embeddings", body)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
		Usage struct {
			PromptTokens int32 `json:"prompt_tokens"`
			TotalTokens  int32 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, nil, domain.NewError(domain.ErrProviderError, err.Error()).WithProvider(domain.ProviderOpenAI)
	}

	embeddings := make([][]float32, len(result.Data))
	for _, d := range result.Data {
		embeddings[d.Index] = d.Embedding
	}
	usage := &domain.UsageEvent{PromptTokens: result.Usage.PromptTokens, TotalTokens: result.Usage.TotalTokens}
	return embeddings, usage, nil
}

// ProcessBatch fans out Chat calls with bounded concurrency, grounded on the
// teacher's per-client sequential loop but generalized with errgroup so batch
// items run concurrently instead of one at a time. See batch.go.
func (c *OpenAIClient) ProcessBatch(ctx context.Context, reqs []domain.ChatRequest) ([]domain.ChatResponse, error) {
	return processBatch(ctx, reqs, c.Chat)
}

func (c *OpenAIClient) buildRequest(req domain.ChatRequest, stream bool) map[string]any {
	out := map[string]any{
		"model":  req.Options.Model,
		"stream": stream,
	}
	if req.Options.MaxTokens != nil {
		out["max_tokens"] = *req.Options.MaxTokens
	}
	if req.Options.Temperature != nil {
		out["temperature"] = *req.Options.Temperature
	}
	if req.Options.TopP != nil {
		out["top_p"] = *req.Options.TopP
	}
	if len(req.Options.Stop) > 0 {
		out["stop"] = req.Options.Stop
	}
	if req.Options.JSONMode {
		out["response_format"] = map[string]string{"type": "json_object"}
	}

	var messages []map[string]any
	if req.Options.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.Options.SystemPrompt})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openAIMessage(msg))
	}
	out["messages"] = messages

	if len(req.Options.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Options.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Function.Name,
					"description": t.Function.Description,
					"parameters":  t.Function.Parameters,
				},
			})
		}
		out["tools"] = tools
	}
	return out
}

func openAIMessage(msg domain.ChatMessage) map[string]any {
	out := map[string]any{"role": msg.Role}

	if msg.ToolCallID != "" {
		out["role"] = "tool"
		out["tool_call_id"] = msg.ToolCallID
		if len(msg.Content) > 0 {
			out["content"] = msg.Content[0].Text
		}
		return out
	}

	if len(msg.Content) == 1 && msg.Content[0].Type == "text" {
		out["content"] = msg.Content[0].Text
	} else {
		var parts []map[string]any
		for _, block := range msg.Content {
			switch block.Type {
			case "text":
				parts = append(parts, map[string]any{"type": "text", "text": block.Text})
			case "image":
				parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]string{"url": block.ImageURL}})
			}
		}
		out["content"] = parts
	}

	if len(msg.ToolCalls) > 0 {
		var calls []map[string]any
		for _, tc := range msg.ToolCalls {
			argsJSON, _ := json.Marshal(tc.Function.Arguments)
			calls = append(calls, map[string]any{
				"id": tc.ID, "type": "function",
				"function": map[string]any{"name": tc.Function.Name, "arguments": string(argsJSON)},
			})
		}
		out["tool_calls"] = calls
	}
	return out
}

func mapFinishReason(s string) domain.FinishReason {
	switch s {
	case "tool_calls":
		return domain.FinishReasonToolCalls
	case "length":
		return domain.FinishReasonLength
	case "content_filter":
		return domain.FinishReasonContentFilter
	default:
		return domain.FinishReasonStop
	}
}

// do sends a JSON request and returns the raw response on 2xx, else an
// *domain.OrchestratorError mapped through httperr.go.
func (c *OpenAIClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderOpenAI)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(domain.ProviderOpenAI, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, mapHTTPError(domain.ProviderOpenAI, resp.StatusCode, extractOpenAIMessage(raw), resp.Header)
	}
	return resp, nil
}

func extractOpenAIMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	return strings.TrimSpace(string(raw))
}
