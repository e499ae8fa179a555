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

const anthropicAPIVersion = "2023-06-01"

// AnthropicClient is the reference Anthropic Messages API backend. Grounded
// on the teacher's internal/provider.AnthropicClient: system prompt as a top
// level field, content-block messages, tool_use/tool_result blocks, and the
// message_start/content_block_delta/message_delta SSE event switch are all
// kept. Adapted to the uniform Provider contract and the shared SSEReader.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	models []domain.ModelMetadata
}

func NewAnthropicClient(apiKey, baseURL string, settings domain.ConnectionSettings, models []domain.ModelMetadata) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, domain.NewError(domain.ErrAuthError, "Anthropic API key is required").WithProvider(domain.ProviderAnthropic)
	}
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: BuildHTTPClient(settings),
		models:     models,
	}, nil
}

func (c *AnthropicClient) Name() domain.Provider { return domain.ProviderAnthropic }

func (c *AnthropicClient) Capabilities() []domain.Capability {
	return []domain.Capability{
		domain.CapabilityChat, domain.CapabilityStreaming, domain.CapabilityToolCalling,
		domain.CapabilityFunctionCalling, domain.CapabilityVision, domain.CapabilityAdvancedReasoning,
		domain.CapabilityComplexReasoning, domain.CapabilityCodeGeneration, domain.CapabilityCreativeWriting,
	}
}

func (c *AnthropicClient) Initialize(ctx context.Context) error { return nil }
func (c *AnthropicClient) Dispose(ctx context.Context) error    { return nil }

func (c *AnthropicClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/count_tokens", bytes.NewReader([]byte("{}")))
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

func (c *AnthropicClient) ListModels(ctx context.Context) ([]domain.ModelMetadata, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ModelMetadata, len(c.models))
	copy(out, c.models)
	return out, nil
}

func (c *AnthropicClient) ValidateRequest(req domain.ChatRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewError(domain.ErrInvalidRequestError, "at least one message is required").WithProvider(domain.ProviderAnthropic)
	}
	return nil
}

func (c *AnthropicClient) Embed(ctx context.Context, modelID string, input []string, options domain.LLMOptions) ([][]float32, *domain.UsageEvent, error) {
	return nil, nil, domain.NewError(domain.ErrInvalidRequestError, "Anthropic does not support embeddings").WithProvider(domain.ProviderAnthropic)
}

func (c *AnthropicClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return domain.ChatResponse{}, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderAnthropic)
	}

	resp, err := c.do(ctx, body)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int32 `json:"input_tokens"`
			OutputTokens int32 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.ChatResponse{}, domain.NewError(domain.ErrProviderError, err.Error()).WithProvider(domain.ProviderAnthropic)
	}

	var content strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	return domain.ChatResponse{
		Content:  content.String(),
		Model:    req.Options.Model,
		Provider: domain.ProviderAnthropic,
		Usage: &domain.UsageEvent{
			PromptTokens:     result.Usage.InputTokens,
			CompletionTokens: result.Usage.OutputTokens,
			TotalTokens:      result.Usage.InputTokens + result.Usage.OutputTokens,
		},
		FinishReason: mapAnthropicStopReason(result.StopReason),
	}, nil
}

func (c *AnthropicClient) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	payload := c.buildRequest(req, true)
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderAnthropic)
	}

	resp, err := c.do(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan domain.StreamEvent, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		sse := NewSSEReader(resp.Body)
		for {
			event, err := sse.ReadEvent()
			if err != nil {
				if err != io.EOF {
					events <- domain.FinishStreamEvent{Reason: domain.FinishReasonError}
				}
				return
			}
			if stop := parseAnthropicEvent(event.Data, events); stop {
				return
			}
		}
	}()
	return events, nil
}

// parseAnthropicEvent emits events for one SSE data payload and reports
// whether the message is complete.
func parseAnthropicEvent(data string, events chan<- domain.StreamEvent) bool {
	var event struct {
		Type  string `json:"type"`
		Delta struct {
			Type       string `json:"type"`
			Text       string `json:"text"`
			PartialJSON string `json:"partial_json"`
			StopReason string `json:"stop_reason"`
		} `json:"delta"`
		ContentBlock struct {
			Type string `json:"type"`
			ID   string `json:"id"`
		} `json:"content_block"`
		Message struct {
			Usage struct {
				InputTokens int32 `json:"input_tokens"`
			} `json:"usage"`
		} `json:"message"`
		Usage struct {
			InputTokens  int32 `json:"input_tokens"`
			OutputTokens int32 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return false
	}

	switch event.Type {
	case "message_start":
		if event.Message.Usage.InputTokens > 0 {
			events <- domain.UsageEvent{PromptTokens: event.Message.Usage.InputTokens}
		}
	case "content_block_delta":
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text != "" {
				events <- domain.TextChunk{Content: event.Delta.Text}
			}
		case "input_json_delta":
			if event.Delta.PartialJSON != "" {
				events <- domain.ToolCallDelta{ID: event.ContentBlock.ID, Delta: event.Delta.PartialJSON}
			}
		}
	case "message_delta":
		if event.Usage.OutputTokens > 0 {
			events <- domain.UsageEvent{
				PromptTokens:     event.Usage.InputTokens,
				CompletionTokens: event.Usage.OutputTokens,
				TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
			}
		}
		if event.Delta.StopReason != "" {
			events <- domain.FinishStreamEvent{Reason: mapAnthropicStopReason(event.Delta.StopReason)}
			return true
		}
	case "message_stop":
		return true
	}
	return false
}

// ProcessBatch fans out Chat calls with bounded concurrency. See batch.go.
func (c *AnthropicClient) ProcessBatch(ctx context.Context, reqs []domain.ChatRequest) ([]domain.ChatResponse, error) {
	return processBatch(ctx, reqs, c.Chat)
}

func (c *AnthropicClient) buildRequest(req domain.ChatRequest, stream bool) map[string]any {
	out := map[string]any{
		"model":      req.Options.Model,
		"max_tokens": 8192,
		"stream":     stream,
	}
	if req.Options.MaxTokens != nil {
		out["max_tokens"] = *req.Options.MaxTokens
	}
	if req.Options.Temperature != nil {
		out["temperature"] = *req.Options.Temperature
	}
	if req.Options.SystemPrompt != "" {
		out["system"] = req.Options.SystemPrompt
	}

	var messages []map[string]any
	for _, msg := range req.Messages {
		messages = append(messages, anthropicMessage(msg))
	}
	out["messages"] = messages

	if len(req.Options.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Options.Tools {
			tools = append(tools, map[string]any{
				"name":         t.Function.Name,
				"description":  t.Function.Description,
				"input_schema": t.Function.Parameters,
			})
		}
		out["tools"] = tools
	}
	return out
}

// anthropicMessage converts one ChatMessage into Anthropic's role+content
// shape. A message carrying a ToolCallID is a tool result and is sent as a
// user-role tool_result content block, per the teacher's Content.ToolResult
// handling.
func anthropicMessage(msg domain.ChatMessage) map[string]any {
	if msg.ToolCallID != "" {
		var text string
		if len(msg.Content) > 0 {
			text = msg.Content[0].Text
		}
		return map[string]any{
			"role": "user",
			"content": []map[string]any{{
				"type":        "tool_result",
				"tool_use_id": msg.ToolCallID,
				"content":     text,
			}},
		}
	}

	var content []map[string]any
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content = append(content, map[string]any{"type": "text", "text": block.Text})
		case "image":
			if block.ImageURL != "" {
				content = append(content, map[string]any{
					"type":   "image",
					"source": map[string]any{"type": "url", "url": block.ImageURL},
				})
			}
		}
	}
	for _, tc := range msg.ToolCalls {
		content = append(content, map[string]any{
			"type": "tool_use", "id": tc.ID, "name": tc.Function.Name, "input": tc.Function.Arguments,
		})
	}

	return map[string]any{"role": msg.Role, "content": content}
}

func mapAnthropicStopReason(s string) domain.FinishReason {
	switch s {
	case "tool_use":
		return domain.FinishReasonToolCalls
	case "max_tokens":
		return domain.FinishReasonLength
	default:
		return domain.FinishReasonStop
	}
}

func (c *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
}

func (c *AnthropicClient) do(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderAnthropic)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(domain.ProviderAnthropic, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, mapHTTPError(domain.ProviderAnthropic, resp.StatusCode, extractAnthropicMessage(raw), resp.Header)
	}
	return resp, nil
}

func extractAnthropicMessage(raw []byte) string {
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
