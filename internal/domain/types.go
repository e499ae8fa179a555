// Package domain defines the core domain types shared across the orchestrator,
// registry, policy, selector, cache, and provider packages.
package domain

// =============================================================================
// Provider Types
// =============================================================================

// Provider identifies an LLM backend.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderLocal     Provider = "local"
)

// AllProviders returns every provider this module ships a reference client for.
func AllProviders() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic, ProviderLocal}
}

// ParseProvider parses a provider string, accepting common aliases.
func ParseProvider(s string) (Provider, bool) {
	switch s {
	case "openai", "gpt":
		return ProviderOpenAI, true
	case "anthropic", "claude":
		return ProviderAnthropic, true
	case "local", "ollama":
		return ProviderLocal, true
	default:
		return "", false
	}
}

// =============================================================================
// Capability & Model Metadata
// =============================================================================

// Capability names a discrete model feature from the closed enumeration the
// registry, policies and requirements inference all reason over.
type Capability string

const (
	CapabilityChat              Capability = "chat"
	CapabilityEmbedding         Capability = "embedding"
	CapabilityVision            Capability = "vision"
	CapabilityToolCalling       Capability = "tool_calling"
	CapabilityStreaming         Capability = "streaming"
	CapabilityFunctionCalling   Capability = "function_calling"
	CapabilityJSONMode          Capability = "json_mode"
	CapabilityAdvancedReasoning Capability = "advanced_reasoning"
	CapabilityComplexReasoning  Capability = "complex_reasoning"
	CapabilityCodeGeneration    Capability = "code_generation"
	CapabilityMultimodal        Capability = "multimodal"
	CapabilityCreativeWriting   Capability = "creative_writing"
)

// LatencyClass is the caller's urgency hint, used by SpeedPolicy.
type LatencyClass string

const (
	LatencyLow    LatencyClass = "low"
	LatencyMedium LatencyClass = "medium"
	LatencyHigh   LatencyClass = "high"
)

// PrivacyLevel bounds which models a request may be routed to.
type PrivacyLevel string

const (
	PrivacyInternal   PrivacyLevel = "internal"
	PrivacyRestricted PrivacyLevel = "restricted" // must stay on a local/on-prem provider
)

// ModelStatus is a model's availability state.
type ModelStatus string

const (
	ModelStatusAvailable  ModelStatus = "available"
	ModelStatusBeta       ModelStatus = "beta"
	ModelStatusLimited    ModelStatus = "limited"
	ModelStatusDeprecated ModelStatus = "deprecated"
)

// Pricing is cost per 1,000,000 tokens, non-negative.
type Pricing struct {
	InputTokens  float64 `json:"input_tokens" toml:"input_tokens"`
	OutputTokens float64 `json:"output_tokens" toml:"output_tokens"`
}

// Performance is an operator-supplied speed profile; it is not measured online.
type Performance struct {
	AverageLatencyMs uint32 `json:"average_latency_ms" toml:"average_latency_ms"`
	TokensPerSecond  uint32 `json:"tokens_per_second" toml:"tokens_per_second"`
}

// Availability describes where a model is servable and its rollout state.
type Availability struct {
	Regions []string    `json:"regions" toml:"regions"`
	Status  ModelStatus `json:"status" toml:"status"`
}

// Limits are optional rate ceilings the selector does not enforce directly
// but that downstream collaborators may read.
type Limits struct {
	RequestsPerMinute *uint32 `json:"requests_per_minute,omitempty" toml:"requests_per_minute,omitempty"`
	RequestsPerDay    *uint32 `json:"requests_per_day,omitempty" toml:"requests_per_day,omitempty"`
	TokensPerMinute   *uint32 `json:"tokens_per_minute,omitempty" toml:"tokens_per_minute,omitempty"`
}

// ModelMetadata describes one routable model: its identity, capabilities,
// pricing, performance profile and operational limits. The registry indexes
// instances of this type; the selector and scoring policies read it.
type ModelMetadata struct {
	ID          string `json:"id" toml:"id"` // globally unique, e.g. "openai/gpt-4o"
	Provider    Provider
	Name        string
	DisplayName string
	Description string

	ContextWindow   uint32 `json:"context_window" toml:"context_window"` // > 0
	MaxOutputTokens uint32 `json:"max_output_tokens" toml:"max_output_tokens"`

	Capabilities []Capability `json:"capabilities" toml:"capabilities"` // non-empty
	Pricing      Pricing      `json:"pricing" toml:"pricing"`
	Performance  Performance  `json:"performance" toml:"performance"`
	Availability Availability `json:"availability" toml:"availability"`
	Limits       Limits       `json:"limits" toml:"limits"`
}

// HasCapability reports whether the model advertises cap.
func (m ModelMetadata) HasCapability(cap Capability) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// IsLocal reports whether the model's provider is the local/on-prem backend,
// the only provider eligible for PrivacyRestricted requests.
func (m ModelMetadata) IsLocal() bool {
	return m.Provider == ProviderLocal
}

// ModelRequirements is what the orchestrator infers about what a request
// needs from a model. Never supplied raw by callers.
type ModelRequirements struct {
	TaskType           string
	TaskComplexity     string // "simple", "medium", "complex"
	ContextWindow      uint32 // estimated input tokens plus LLMOptions.MaxTokens when set; no output reserve or safety margin is added
	LatencyRequirement LatencyClass
	PrivacyLevel       PrivacyLevel
	Capabilities       []Capability
	MaxCost            *float64           // nil means unset
	PreferredProvider  Provider           // "" means unset
	PolicyWeights      map[string]float64 // per-policy weight override, keyed by policy name
}

// =============================================================================
// Chat Types
// =============================================================================

// ChatMessage is one turn in a conversation.
type ChatMessage struct {
	Role       string         `json:"role"` // "system", "user", "assistant", "tool"
	Content    []ContentBlock `json:"content"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

// ContentBlock is one piece of message content.
type ContentBlock struct {
	Type     string `json:"type"` // "text", "image"
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// Tool is a function the model may call.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-issued call to a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is the concrete name+arguments of a ToolCall.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// LLMOptions is the caller-tunable configuration bag accepted by every
// orchestrator entry point. Generation fields shape the provider request;
// routing fields drive requirements inference; caching/retry/identity fields
// are read directly by the orchestrator pipeline.
type LLMOptions struct {
	// Generation
	Model             string   `json:"model,omitempty"` // preferred model id hint
	Temperature       *float32 `json:"temperature,omitempty"`
	MaxTokens         *int32   `json:"max_tokens,omitempty"`
	TopP              *float32 `json:"top_p,omitempty"`
	FrequencyPenalty  *float32 `json:"frequency_penalty,omitempty"`
	PresencePenalty   *float32 `json:"presence_penalty,omitempty"`
	Stop              []string `json:"stop,omitempty"`
	Stream            bool     `json:"stream,omitempty"`
	Tools             []Tool   `json:"tools,omitempty"`
	SystemPrompt      string   `json:"system_prompt,omitempty"`
	JSONMode          bool     `json:"json_mode,omitempty"`
	JSONSchema        map[string]any `json:"json_schema,omitempty"` // optional schema the JSON-mode response must satisfy

	// Routing
	TaskType       string             `json:"task_type,omitempty"`
	TaskComplexity string             `json:"task_complexity,omitempty"`
	Urgency        LatencyClass       `json:"urgency,omitempty"`
	PrivacyLevel   PrivacyLevel       `json:"privacy_level,omitempty"`
	MaxCost        *float64           `json:"max_cost,omitempty"`
	PolicyWeights  map[string]float64 `json:"policy_weights,omitempty"`

	// Caching
	UseCache *bool `json:"use_cache,omitempty"` // nil means default true
	CacheTTL *int  `json:"cache_ttl,omitempty"` // seconds

	// Retry
	MaxRetries *int `json:"max_retries,omitempty"`
	RetryDelay *int `json:"retry_delay,omitempty"` // ms

	// Identity
	RequestID string   `json:"request_id,omitempty"`
	UserID    string   `json:"user_id,omitempty"`
	SessionID string   `json:"session_id,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

// UseCacheOrDefault returns whether caching is enabled, defaulting to true.
func (o LLMOptions) UseCacheOrDefault() bool {
	return o.UseCache == nil || *o.UseCache
}

// ChatRequest is the orchestrator's entry-point request shape.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	Options  LLMOptions    `json:"options"`
}

// =============================================================================
// Response & Streaming Types
// =============================================================================

// UsageEvent carries token accounting for a completion.
type UsageEvent struct {
	PromptTokens     int32   `json:"prompt_tokens"`
	CompletionTokens int32   `json:"completion_tokens"`
	TotalTokens      int32   `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd,omitempty"`
}

// FinishReason indicates why generation stopped.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonToolCalls     FinishReason = "tool_calls"
	FinishReasonLength        FinishReason = "length"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonError         FinishReason = "error"
)

// ChatResponse is the full, non-streaming completion result.
type ChatResponse struct {
	Content      string       `json:"content,omitempty"`
	ToolCalls    []ToolCall   `json:"tool_calls,omitempty"`
	Usage        *UsageEvent  `json:"usage,omitempty"`
	Model        string       `json:"model,omitempty"`
	Provider     Provider     `json:"provider,omitempty"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`
	Cached       bool         `json:"cached,omitempty"`
	LatencyMs    int64        `json:"latency_ms,omitempty"`
}

// StreamEvent is one event in a streaming completion.
type StreamEvent interface {
	eventType() string
}

// TextChunk is an incremental content chunk.
type TextChunk struct {
	Content string `json:"content"`
}

func (TextChunk) eventType() string { return "text" }

// ToolCallDelta is a partial tool-call argument chunk.
type ToolCallDelta struct {
	ID    string `json:"id"`
	Delta string `json:"delta"`
}

func (ToolCallDelta) eventType() string { return "tool_call_delta" }

func (UsageEvent) eventType() string { return "usage" }

// FinishStreamEvent terminates a stream.
type FinishStreamEvent struct {
	Reason FinishReason `json:"reason"`
}

func (FinishStreamEvent) eventType() string { return "finish" }

// =============================================================================
// Connection Settings
// =============================================================================

// ConnectionSettings controls the HTTP client a provider builds.
type ConnectionSettings struct {
	MaxConnections     int  `toml:"max_connections"`
	MaxIdleConnections int  `toml:"max_idle_connections"`
	IdleTimeoutSec     int  `toml:"idle_timeout_sec"`
	RequestTimeoutSec  int  `toml:"request_timeout_sec"`
	EnableHTTP2        bool `toml:"enable_http2"`
	EnableKeepAlive    bool `toml:"enable_keep_alive"`
}

// DefaultConnectionSettings returns sensible defaults.
func DefaultConnectionSettings() ConnectionSettings {
	return ConnectionSettings{
		MaxConnections:     10,
		MaxIdleConnections: 5,
		IdleTimeoutSec:     90,
		RequestTimeoutSec:  60,
		EnableHTTP2:        true,
		EnableKeepAlive:    true,
	}
}

// ProviderConfig holds credentials and settings for one provider instance.
type ProviderConfig struct {
	Provider           Provider           `toml:"-"`
	Enabled            bool               `toml:"enabled"`
	APIKey             string             `toml:"api_key"`
	BaseURL            string             `toml:"base_url"`
	ConnectionSettings ConnectionSettings `toml:"connection"`
}
