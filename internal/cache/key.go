package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"llmorch/internal/domain"
)

// relevantOptions is the subset of LLMOptions that materially affects output;
// routing and identity fields are deliberately excluded so that two requests
// differing only in requestId/userId/taskType still share a cache entry.
type relevantOptions struct {
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    *int32   `json:"max_tokens,omitempty"`
	TopP         *float32 `json:"top_p,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Stop         []string `json:"stop,omitempty"`
	JSONMode     bool     `json:"json_mode,omitempty"`
}

func extractRelevant(o domain.LLMOptions) relevantOptions {
	stop := append([]string(nil), o.Stop...)
	sort.Strings(stop)
	return relevantOptions{
		Temperature:  o.Temperature,
		MaxTokens:    o.MaxTokens,
		TopP:         o.TopP,
		SystemPrompt: o.SystemPrompt,
		Stop:         stop,
		JSONMode:     o.JSONMode,
	}
}

// hashValue produces a deterministic, content-sensitive hex digest of v.
// json.Marshal on a struct (not a map) is stable field order, so this is
// independent of map-iteration order.
func hashValue(v any) string {
	b, _ := json.Marshal(v)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ChatKey builds the cache key for a chat completion, per the stable shape
// "llm:<modelId>:<hash(messages)>:<hash(relevantOptions)>".
func ChatKey(modelID string, messages []domain.ChatMessage, options domain.LLMOptions) string {
	return "llm:" + modelID + ":" + hashValue(messages) + ":" + hashValue(extractRelevant(options))
}

// EmbeddingKey builds the cache key for an embedding request, per
// "embedding:<hash(input[s])>:model:<modelId>:options:<hash(relevantOptions)>".
func EmbeddingKey(modelID string, input []string, options domain.LLMOptions) string {
	return "embedding:" + hashValue(input) + ":model:" + modelID + ":options:" + hashValue(extractRelevant(options))
}
