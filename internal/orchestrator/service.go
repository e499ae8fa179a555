package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"llmorch/internal/cache"
	"llmorch/internal/domain"
	"llmorch/internal/policy"
	"llmorch/internal/provider"
	"llmorch/internal/registry"
	"llmorch/internal/resilience"
	"llmorch/internal/selector"
	"llmorch/internal/telemetry"
)

// Service is the Orchestrator: the single entry point that turns a
// ChatRequest into a routed, cached, retried completion. Grounded on the
// teacher's gateway.Service.ChatComplete, whose ten numbered pipeline
// sections (cache check, routing, client lookup, resilient execution, cost
// calculation, cache store, health/usage/tool-call tracking) this
// restructures around the registry/scorer/selector/cache components instead
// of the teacher's config-driven router and semantic cache.
type Service struct {
	registry  *registry.Registry
	providers *provider.Manager
	scorer    *policy.Scorer
	cache     cache.Cache
	estimator TokenEstimator
	retry     resilience.Config
	routing   RoutingConfig
	metrics   *telemetry.Metrics

	defaultChatCacheTTL      time.Duration
	defaultEmbeddingCacheTTL time.Duration
}

// New wires an Orchestrator from its collaborators. cache may be nil to
// disable response caching entirely (LLMOptions.UseCache is then ignored).
// metrics may be nil, in which case every telemetry call is a no-op: the
// orchestrator still runs, just unobserved, the way a teacher deployment
// without a Prometheus registry would.
func New(reg *registry.Registry, providers *provider.Manager, scorer *policy.Scorer, respCache cache.Cache, estimator TokenEstimator, retryConfig resilience.Config, routing RoutingConfig, metrics *telemetry.Metrics) *Service {
	return &Service{
		registry:                 reg,
		providers:                providers,
		scorer:                   scorer,
		cache:                    respCache,
		estimator:                estimator,
		retry:                    retryConfig,
		routing:                  routing,
		metrics:                  metrics,
		defaultChatCacheTTL:      time.Hour,
		defaultEmbeddingCacheTTL: 24 * time.Hour,
	}
}

// ChatCompletion runs the full pipeline: requirements inference, candidate
// selection, cache lookup, request validation, dispatch with retry, cache
// store, telemetry, and structured logging of the outcome.
func (s *Service) ChatCompletion(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
	start := time.Now()
	req = s.withRequestID(req)
	recorder := s.recordRequest("chat", req.Options.Model)

	model, selErr := s.selectModel(ctx, req)
	if selErr != nil {
		code := "UNKNOWN_ERROR"
		var oe *domain.OrchestratorError
		if domain.AsOrchestratorError(selErr, &oe) {
			code = string(oe.Code)
		}
		s.recordRoutingFailure(code)
		recorder.RecordError(code)
		return domain.ChatResponse{}, selErr
	}
	s.recordRoutingDecision(req.Options.TaskType, model.ID)

	cacheable := req.Options.UseCacheOrDefault() && s.cache != nil
	var key string
	if cacheable {
		key = cache.ChatKey(model.ID, req.Messages, req.Options)
		if cached, ok := s.cache.Get(key); ok {
			resp := cached.(domain.ChatResponse)
			resp.Cached = true
			resp.LatencyMs = time.Since(start).Milliseconds()
			s.recordCacheHit(model.ID)
			if resp.Usage != nil {
				recorder.RecordSuccess(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens), resp.Usage.CostUSD)
			} else {
				recorder.RecordSuccess(0, 0, 0)
			}
			s.logChatTerminal(slog.LevelDebug, "chat completion served from cache", req, model, resp, 0)
			return resp, nil
		}
		s.recordCacheMiss(model.ID)
	}

	client, err := s.providers.ForModel(model)
	if err != nil {
		recorder.RecordError(string(domain.ErrProviderUnavailable))
		return domain.ChatResponse{}, err
	}

	dispatchReq := req
	dispatchReq.Options.Model = model.ID

	if verr := client.ValidateRequest(dispatchReq); verr != nil {
		wrapped := domain.NewError(domain.ErrInvalidRequestError, verr.Error()).WithProvider(model.Provider).WithModel(model.ID)
		recorder.RecordError(string(domain.ErrInvalidRequestError))
		slog.Error("chat request failed validation", "request_id", req.Options.RequestID, "model", model.ID, "error", verr)
		return domain.ChatResponse{}, wrapped
	}

	var resp domain.ChatResponse
	attempts := 0
	retryCfg := s.retryConfigFor(req.Options)
	err = resilience.Retry(ctx, retryCfg, func(attempt int) error {
		attempts = attempt + 1
		if attempt > 0 {
			s.recordRetryAttempt(string(model.Provider), "chat")
			slog.Warn("retrying chat completion", "request_id", req.Options.RequestID, "model", model.ID, "attempt", attempt)
		}
		var attemptErr error
		resp, attemptErr = client.Chat(ctx, dispatchReq)
		return attemptErr
	})
	if err != nil {
		errCode := "UNKNOWN_ERROR"
		var oe *domain.OrchestratorError
		if domain.AsOrchestratorError(err, &oe) {
			errCode = string(oe.Code)
		}
		recorder.RecordError(errCode)
		slog.Error("chat completion failed", "request_id", req.Options.RequestID, "model", model.ID, "attempts", attempts, "error", err)
		return domain.ChatResponse{}, err
	}

	resp.LatencyMs = time.Since(start).Milliseconds()
	if resp.Provider == "" {
		resp.Provider = model.Provider
	}
	applyCost(&resp, model)

	if req.Options.JSONMode {
		if verr := provider.ValidateJSONOutput(resp.Content, req.Options.JSONSchema); verr != nil {
			recorder.RecordError(string(domain.ErrInvalidRequestError))
			slog.Error("json_mode response failed validation", "request_id", req.Options.RequestID, "model", model.ID, "error", verr)
			return domain.ChatResponse{}, verr
		}
	}

	if cacheable && resp.FinishReason != domain.FinishReasonToolCalls && !hasToolMessages(req.Messages) {
		s.cache.Set(key, resp, s.cacheTTL(req.Options, s.defaultChatCacheTTL))
	}

	if resp.Usage != nil {
		recorder.RecordSuccess(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens), resp.Usage.CostUSD)
	} else {
		recorder.RecordSuccess(0, 0, 0)
	}
	s.logChatTerminal(slog.LevelInfo, "chat completion", req, model, resp, attempts)
	return resp, nil
}

// logChatTerminal emits the terminal structured log event for a chat
// completion, carrying every field the propagation/observability contract
// requires: requestId, sessionId, userId, model, provider, processingTime,
// cached, tokenUsage, attempts.
func (s *Service) logChatTerminal(level slog.Level, msg string, req domain.ChatRequest, model domain.ModelMetadata, resp domain.ChatResponse, attempts int) {
	var tokenUsage int32
	if resp.Usage != nil {
		tokenUsage = resp.Usage.TotalTokens
	}
	slog.Log(context.Background(), level, msg,
		"request_id", req.Options.RequestID,
		"session_id", req.Options.SessionID,
		"user_id", req.Options.UserID,
		"model", model.ID,
		"provider", model.Provider,
		"processing_time_ms", resp.LatencyMs,
		"cached", resp.Cached,
		"token_usage", tokenUsage,
		"attempts", attempts,
	)
}

// StreamChatCompletion mirrors ChatCompletion's selection and dispatch, but
// never serves from or writes to the cache: a streaming consumer sees
// chunks as they are produced by the provider, not replayed from a prior
// response.
func (s *Service) StreamChatCompletion(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	req = s.withRequestID(req)
	req.Options.Stream = true
	recorder := s.recordRequest("stream_chat", req.Options.Model)

	model, err := s.selectModel(ctx, req)
	if err != nil {
		code := "UNKNOWN_ERROR"
		var oe *domain.OrchestratorError
		if domain.AsOrchestratorError(err, &oe) {
			code = string(oe.Code)
		}
		s.recordRoutingFailure(code)
		recorder.RecordError(code)
		return nil, err
	}
	s.recordRoutingDecision(req.Options.TaskType, model.ID)

	client, err := s.providers.ForModel(model)
	if err != nil {
		recorder.RecordError(string(domain.ErrProviderUnavailable))
		return nil, err
	}

	dispatchReq := req
	dispatchReq.Options.Model = model.ID

	if verr := client.ValidateRequest(dispatchReq); verr != nil {
		wrapped := domain.NewError(domain.ErrInvalidRequestError, verr.Error()).WithProvider(model.Provider).WithModel(model.ID)
		recorder.RecordError(string(domain.ErrInvalidRequestError))
		slog.Error("stream chat request failed validation", "request_id", req.Options.RequestID, "model", model.ID, "error", verr)
		return nil, wrapped
	}

	// Streaming is attempted once: retrying a partially-delivered stream
	// would replay already-emitted deltas to the consumer, so there is no
	// retry loop here, per the propagation policy.
	events, serr := client.StreamChat(ctx, dispatchReq)
	if serr != nil {
		recorder.RecordError(string(domain.ErrProviderError))
	} else {
		recorder.RecordSuccess(0, 0, 0)
	}
	slog.Info("stream chat completion",
		"request_id", req.Options.RequestID,
		"session_id", req.Options.SessionID,
		"user_id", req.Options.UserID,
		"model", model.ID,
		"provider", model.Provider,
	)
	return events, serr
}

// Embedding selects a model advertising CapabilityEmbedding and dispatches
// with the same cache/retry treatment as ChatCompletion.
func (s *Service) Embedding(ctx context.Context, input []string, options domain.LLMOptions) ([][]float32, *domain.UsageEvent, error) {
	if options.RequestID == "" {
		options.RequestID = uuid.NewString()
	}
	recorder := s.recordRequest("embedding", options.Model)

	requirements := domain.ModelRequirements{
		TaskType:           "embedding",
		LatencyRequirement: orDefault(options.Urgency, domain.LatencyMedium),
		PrivacyLevel:       orDefaultPrivacy(options.PrivacyLevel),
		Capabilities:       []domain.Capability{domain.CapabilityEmbedding},
		MaxCost:            options.MaxCost,
		PreferredProvider:  derivePreferredProvider(options.Model, orDefaultPrivacy(options.PrivacyLevel), "embedding", "", s.routing),
		PolicyWeights:      options.PolicyWeights,
	}

	model, err := s.selectForRequirements(requirements, options.Model)
	if err != nil {
		code := "UNKNOWN_ERROR"
		var oe *domain.OrchestratorError
		if domain.AsOrchestratorError(err, &oe) {
			code = string(oe.Code)
		}
		s.recordRoutingFailure(code)
		recorder.RecordError(code)
		return nil, nil, err
	}
	s.recordRoutingDecision("embedding", model.ID)

	cacheable := options.UseCacheOrDefault() && s.cache != nil
	var key string
	if cacheable {
		key = cache.EmbeddingKey(model.ID, input, options)
		if cached, ok := s.cache.Get(key); ok {
			result := cached.(embeddingCacheEntry)
			s.recordCacheHit(model.ID)
			recorder.RecordSuccess(0, 0, 0)
			slog.Info("embedding served from cache",
				"request_id", options.RequestID, "session_id", options.SessionID, "user_id", options.UserID,
				"model", model.ID, "provider", model.Provider, "cached", true,
			)
			return result.Embeddings, result.Usage, nil
		}
		s.recordCacheMiss(model.ID)
	}

	client, err := s.providers.ForModel(model)
	if err != nil {
		recorder.RecordError(string(domain.ErrProviderUnavailable))
		return nil, nil, err
	}

	var embeddings [][]float32
	var usage *domain.UsageEvent
	attempts := 0
	retryCfg := s.retryConfigFor(options)
	err = resilience.Retry(ctx, retryCfg, func(attempt int) error {
		attempts = attempt + 1
		if attempt > 0 {
			s.recordRetryAttempt(string(model.Provider), "embedding")
		}
		var attemptErr error
		embeddings, usage, attemptErr = client.Embed(ctx, model.ID, input, options)
		return attemptErr
	})
	if err != nil {
		errCode := "UNKNOWN_ERROR"
		var oe *domain.OrchestratorError
		if domain.AsOrchestratorError(err, &oe) {
			errCode = string(oe.Code)
		}
		recorder.RecordError(errCode)
		slog.Error("embedding failed", "request_id", options.RequestID, "model", model.ID, "attempts", attempts, "error", err)
		return nil, nil, err
	}

	if cacheable {
		ttl := s.cacheTTL(options, s.defaultEmbeddingCacheTTL)
		s.cache.Set(key, embeddingCacheEntry{Embeddings: embeddings, Usage: usage}, ttl)
	}

	var tokenUsage int32
	var costUSD float64
	if usage != nil {
		tokenUsage = usage.TotalTokens
		costUSD = usage.CostUSD
	}
	recorder.RecordSuccess(int64(tokenUsage), 0, costUSD)
	slog.Info("embedding",
		"request_id", options.RequestID,
		"session_id", options.SessionID,
		"user_id", options.UserID,
		"model", model.ID,
		"provider", model.Provider,
		"cached", false,
		"token_usage", tokenUsage,
		"attempts", attempts,
	)
	return embeddings, usage, nil
}

type embeddingCacheEntry struct {
	Embeddings [][]float32
	Usage      *domain.UsageEvent
}

func (s *Service) selectModel(ctx context.Context, req domain.ChatRequest) (domain.ModelMetadata, error) {
	estimated := s.estimator.Estimate(req.Messages, req.Options.SystemPrompt)
	requirements := inferRequirements(req, estimated, s.routing)
	return s.selectForRequirements(requirements, req.Options.Model)
}

func (s *Service) selectForRequirements(requirements domain.ModelRequirements, modelHint string) (domain.ModelMetadata, error) {
	if s.registry.Len() == 0 {
		return domain.ModelMetadata{}, domain.NewError(domain.ErrNoModelsRegistered, "no models are registered")
	}

	candidates := s.registry.ListByRequirements(requirements)
	if len(candidates) == 0 {
		return domain.ModelMetadata{}, domain.NewError(domain.ErrModelSelectionFailed, "no candidates satisfy hard requirements")
	}

	preferredID := ""
	if modelHint != "" {
		preferredID = modelHint
	}

	result, err := selector.Select(s.scorer, candidates, requirements, preferredID)
	if err != nil {
		return domain.ModelMetadata{}, err
	}
	return result.Model, nil
}

func (s *Service) withRequestID(req domain.ChatRequest) domain.ChatRequest {
	if req.Options.RequestID == "" {
		req.Options.RequestID = uuid.NewString()
	}
	return req
}

func (s *Service) retryConfigFor(options domain.LLMOptions) resilience.Config {
	cfg := s.retry
	if options.MaxRetries != nil {
		cfg.MaxRetries = *options.MaxRetries
	}
	if options.RetryDelay != nil {
		cfg.BaseDelay = time.Duration(*options.RetryDelay) * time.Millisecond
	}
	return cfg
}

// cacheTTL returns the caller's explicit options.CacheTTL when set, else def
// — the chat default (1h) or embedding default (24h) per spec.md §4.6 step 6.
func (s *Service) cacheTTL(options domain.LLMOptions, def time.Duration) time.Duration {
	if options.CacheTTL != nil {
		return time.Duration(*options.CacheTTL) * time.Second
	}
	return def
}

// requestRecorder wraps a telemetry.RequestRecorder so call sites never need
// to nil-check: when metrics are disabled, r is nil and every method is a
// no-op.
type requestRecorder struct {
	r *telemetry.RequestRecorder
}

func (rr requestRecorder) RecordSuccess(inputTokens, outputTokens int64, costUSD float64) {
	if rr.r != nil {
		rr.r.RecordSuccess(inputTokens, outputTokens, costUSD)
	}
}

func (rr requestRecorder) RecordError(errorType string) {
	if rr.r != nil {
		rr.r.RecordError(errorType)
	}
}

// recordRequest starts a telemetry.RequestRecorder if metrics are configured,
// else returns a recorder whose methods are safely no-ops.
func (s *Service) recordRequest(method, model string) requestRecorder {
	if s.metrics == nil {
		return requestRecorder{}
	}
	return requestRecorder{r: s.metrics.NewRequestRecorder(method, model, "")}
}

func (s *Service) recordRoutingDecision(taskType, selectedModel string) {
	if s.metrics != nil {
		s.metrics.RecordRoutingDecision(taskType, selectedModel)
	}
}

func (s *Service) recordRoutingFailure(reason string) {
	if s.metrics != nil {
		s.metrics.RecordRoutingFailure(reason)
	}
}

func (s *Service) recordCacheHit(model string) {
	if s.metrics != nil {
		s.metrics.RecordCacheHit(model)
	}
}

func (s *Service) recordCacheMiss(model string) {
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(model)
	}
}

func (s *Service) recordRetryAttempt(provider, reason string) {
	if s.metrics != nil {
		s.metrics.RecordRetryAttempt(provider, reason)
	}
}

func applyCost(resp *domain.ChatResponse, model domain.ModelMetadata) {
	if resp.Usage == nil {
		return
	}
	resp.Usage.CostUSD = float64(resp.Usage.PromptTokens)/1_000_000*model.Pricing.InputTokens +
		float64(resp.Usage.CompletionTokens)/1_000_000*model.Pricing.OutputTokens
}

func hasToolMessages(messages []domain.ChatMessage) bool {
	for _, m := range messages {
		if m.Role == "tool" {
			return true
		}
	}
	return false
}

func orDefault(v domain.LatencyClass, def domain.LatencyClass) domain.LatencyClass {
	if v == "" {
		return def
	}
	return v
}

func orDefaultPrivacy(v domain.PrivacyLevel) domain.PrivacyLevel {
	if v == "" {
		return domain.PrivacyInternal
	}
	return v
}
