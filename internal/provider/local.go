package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"llmorch/internal/domain"
)

// LocalClient is the reference on-prem backend (an Ollama-compatible HTTP
// server), the only provider the Registry will route restricted-privacy
// requirements to. Grounded on the teacher's internal/provider.OllamaClient:
// NDJSON streaming (one JSON object per line, terminated by "done": true)
// rather than SSE, no API key, default baseURL localhost:11434.
type LocalClient struct {
	baseURL    string
	httpClient *http.Client

	mu     sync.RWMutex
	models []domain.ModelMetadata
}

func NewLocalClient(baseURL string, settings domain.ConnectionSettings, models []domain.ModelMetadata) (*LocalClient, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &LocalClient{
		baseURL:    baseURL,
		httpClient: BuildHTTPClient(settings),
		models:     models,
	}, nil
}

func (c *LocalClient) Name() domain.Provider { return domain.ProviderLocal }

func (c *LocalClient) Capabilities() []domain.Capability {
	return []domain.Capability{domain.CapabilityChat, domain.CapabilityStreaming, domain.CapabilityEmbedding, domain.CapabilityToolCalling}
}

func (c *LocalClient) Initialize(ctx context.Context) error { return nil }
func (c *LocalClient) Dispose(ctx context.Context) error    { return nil }

func (c *LocalClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// ListModels queries the server's pulled-model catalog, falling back to the
// static catalog this client was constructed with on error.
func (c *LocalClient) ListModels(ctx context.Context) ([]domain.ModelMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return c.staticModels(), nil
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.staticModels(), nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.staticModels(), nil
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return c.staticModels(), nil
	}

	seeds := c.staticModels()
	seedByName := make(map[string]domain.ModelMetadata, len(seeds))
	for _, m := range seeds {
		seedByName[m.Name] = m
	}

	out := make([]domain.ModelMetadata, 0, len(result.Models))
	for _, m := range result.Models {
		if seed, ok := seedByName[m.Name]; ok {
			out = append(out, seed)
			continue
		}
		out = append(out, defaultLocalMetadata(m.Name))
	}
	return out, nil
}

func (c *LocalClient) staticModels() []domain.ModelMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.ModelMetadata, len(c.models))
	copy(out, c.models)
	return out
}

// defaultLocalMetadata synthesizes metadata for a pulled model this client
// has no static entry for: on-prem deployments need not enumerate their
// whole catalog up front.
func defaultLocalMetadata(name string) domain.ModelMetadata {
	return domain.ModelMetadata{
		ID:              "local/" + name,
		Provider:        domain.ProviderLocal,
		Name:            name,
		DisplayName:     name,
		ContextWindow:   8192,
		MaxOutputTokens: 2048,
		Capabilities:    []domain.Capability{domain.CapabilityChat},
		Availability:    domain.Availability{Status: domain.ModelStatusAvailable},
	}
}

func (c *LocalClient) ValidateRequest(req domain.ChatRequest) error {
	if len(req.Messages) == 0 {
		return domain.NewError(domain.ErrInvalidRequestError, "at least one message is required").WithProvider(domain.ProviderLocal)
	}
	return nil
}

func (c *LocalClient) Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return domain.ChatResponse{}, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderLocal)
	}

	resp, err := c.do(ctx, body)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	defer resp.Body.Close()

	var result struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Function struct {
					Name      string         `json:"name"`
					Arguments map[string]any `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		PromptEvalCount int32 `json:"prompt_eval_count"`
		EvalCount       int32 `json:"eval_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.ChatResponse{}, domain.NewError(domain.ErrProviderError, err.Error()).WithProvider(domain.ProviderLocal)
	}

	out := domain.ChatResponse{
		Content:  result.Message.Content,
		Model:    req.Options.Model,
		Provider: domain.ProviderLocal,
		Usage: &domain.UsageEvent{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		},
		FinishReason: domain.FinishReasonStop,
	}
	for i, tc := range result.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID: fmt.Sprintf("call_%d", i), Type: "function",
			Function: domain.FunctionCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments},
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = domain.FinishReasonToolCalls
	}
	return out, nil
}

func (c *LocalClient) StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	body, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderLocal)
	}

	resp, err := c.do(ctx, body)
	if err != nil {
		return nil, err
	}

	events := make(chan domain.StreamEvent, 64)
	go func() {
		defer close(events)
		defer resp.Body.Close()

		decoder := json.NewDecoder(resp.Body)
		for {
			var chunk struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
				Done            bool  `json:"done"`
				PromptEvalCount int32 `json:"prompt_eval_count"`
				EvalCount       int32 `json:"eval_count"`
			}
			if err := decoder.Decode(&chunk); err != nil {
				if err != io.EOF {
					events <- domain.FinishStreamEvent{Reason: domain.FinishReasonError}
				}
				return
			}
			if chunk.Message.Content != "" {
				events <- domain.TextChunk{Content: chunk.Message.Content}
			}
			if chunk.Done {
				if chunk.PromptEvalCount > 0 || chunk.EvalCount > 0 {
					events <- domain.UsageEvent{
						PromptTokens:     chunk.PromptEvalCount,
						CompletionTokens: chunk.EvalCount,
						TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
					}
				}
				events <- domain.FinishStreamEvent{Reason: domain.FinishReasonStop}
				return
			}
		}
	}()
	return events, nil
}

func (c *LocalClient) Embed(ctx context.Context, modelID string, input []string, options domain.LLMOptions) ([][]float32, *domain.UsageEvent, error) {
	embeddings := make([][]float32, 0, len(input))
	var totalTokens int32

	for _, text := range input {
		body, _ := json.Marshal(map[string]any{"model": modelID, "prompt": text})
		resp, err := c.do(ctx, body, "/api/embeddings")
		if err != nil {
			return nil, nil, err
		}

		var result struct {
			Embedding []float32 `json:"embedding"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, nil, domain.NewError(domain.ErrProviderError, decodeErr.Error()).WithProvider(domain.ProviderLocal)
		}
		embeddings = append(embeddings, result.Embedding)
		totalTokens += int32(len(text) / 4)
	}

	return embeddings, &domain.UsageEvent{PromptTokens: totalTokens, TotalTokens: totalTokens}, nil
}

// ProcessBatch fans out Chat calls with bounded concurrency. See batch.go.
func (c *LocalClient) ProcessBatch(ctx context.Context, reqs []domain.ChatRequest) ([]domain.ChatResponse, error) {
	return processBatch(ctx, reqs, c.Chat)
}

func (c *LocalClient) buildRequest(req domain.ChatRequest, stream bool) map[string]any {
	out := map[string]any{"model": req.Options.Model, "stream": stream}

	var messages []map[string]any
	if req.Options.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.Options.SystemPrompt})
	}
	for _, msg := range req.Messages {
		m := map[string]any{"role": msg.Role, "content": flattenText(msg.Content)}
		if len(msg.ToolCalls) > 0 {
			var calls []map[string]any
			for _, tc := range msg.ToolCalls {
				calls = append(calls, map[string]any{"function": map[string]any{"name": tc.Function.Name, "arguments": tc.Function.Arguments}})
			}
			m["tool_calls"] = calls
		}
		if msg.ToolCallID != "" {
			m["tool_call_id"] = msg.ToolCallID
		}
		messages = append(messages, m)
	}
	out["messages"] = messages

	if len(req.Options.Tools) > 0 {
		var tools []map[string]any
		for _, t := range req.Options.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name": t.Function.Name, "description": t.Function.Description, "parameters": t.Function.Parameters,
				},
			})
		}
		out["tools"] = tools
	}

	options := map[string]any{}
	if req.Options.Temperature != nil {
		options["temperature"] = *req.Options.Temperature
	}
	if req.Options.MaxTokens != nil {
		options["num_predict"] = *req.Options.MaxTokens
	}
	if len(options) > 0 {
		out["options"] = options
	}
	return out
}

func flattenText(blocks []domain.ContentBlock) string {
	if len(blocks) == 1 && blocks[0].Type == "text" {
		return blocks[0].Text
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

func (c *LocalClient) do(ctx context.Context, body []byte, path ...string) (*http.Response, error) {
	endpoint := "/api/chat"
	if len(path) > 0 {
		endpoint = path[0]
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewError(domain.ErrInvalidRequestError, err.Error()).WithProvider(domain.ProviderLocal)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, mapTransportError(domain.ProviderLocal, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(resp.Body)
		return nil, mapHTTPError(domain.ProviderLocal, resp.StatusCode, strings.TrimSpace(string(raw)), resp.Header)
	}
	return resp, nil
}
