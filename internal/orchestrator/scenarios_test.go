package orchestrator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmorch/internal/cache"
	"llmorch/internal/domain"
	"llmorch/internal/policy"
	"llmorch/internal/provider"
	"llmorch/internal/registry"
	"llmorch/internal/resilience"
)

// The model calibration and six end-to-end scenarios below are taken
// verbatim from the orchestrator's testable-properties section: three
// models sharing a single "test" provider, distinguished only by
// capability set, input price, and latency.
const scenarioProvider = domain.Provider("test")

func scenarioModelA() domain.ModelMetadata {
	return domain.ModelMetadata{
		ID: "A", Provider: scenarioProvider, Name: "model-a",
		ContextWindow: 8192, MaxOutputTokens: 2048,
		Capabilities: []domain.Capability{domain.CapabilityChat},
		Pricing:      domain.Pricing{InputTokens: 0.1, OutputTokens: 0.1},
		Performance:  domain.Performance{AverageLatencyMs: 2000, TokensPerSecond: 20},
		Availability: domain.Availability{Status: domain.ModelStatusAvailable},
	}
}

func scenarioModelB() domain.ModelMetadata {
	return domain.ModelMetadata{
		ID: "B", Provider: scenarioProvider, Name: "model-b",
		ContextWindow: 8192, MaxOutputTokens: 2048,
		Capabilities: []domain.Capability{domain.CapabilityChat, domain.CapabilityCodeGeneration},
		Pricing:      domain.Pricing{InputTokens: 0.5, OutputTokens: 0.5},
		Performance:  domain.Performance{AverageLatencyMs: 1000, TokensPerSecond: 40},
		Availability: domain.Availability{Status: domain.ModelStatusAvailable},
	}
}

func scenarioModelC() domain.ModelMetadata {
	return domain.ModelMetadata{
		ID: "C", Provider: scenarioProvider, Name: "model-c",
		ContextWindow: 8192, MaxOutputTokens: 2048,
		Capabilities: []domain.Capability{domain.CapabilityChat, domain.CapabilityCodeGeneration, domain.CapabilityVision},
		Pricing:      domain.Pricing{InputTokens: 1.0, OutputTokens: 1.0},
		Performance:  domain.Performance{AverageLatencyMs: 500, TokensPerSecond: 80},
		Availability: domain.Availability{Status: domain.ModelStatusAvailable},
	}
}

// scenarioSetup registers A, B, C and wires a single fakeProvider for the
// shared "test" provider; chatCalls counts every dispatched call regardless
// of which of the three models was selected.
func scenarioSetup(t *testing.T, chatFn func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)) (*Service, *fakeProvider) {
	t.Helper()
	reg := registry.New()
	for _, m := range []domain.ModelMetadata{scenarioModelA(), scenarioModelB(), scenarioModelC()} {
		require.NoError(t, reg.Register(m))
	}
	fp := &fakeProvider{name: scenarioProvider, chatFn: chatFn}
	providers := provider.NewManager()
	providers.Register(fp)

	svc := New(reg, providers, policy.Default(), cache.New(), HeuristicEstimator{}, resilience.Config{MaxRetries: 3, BaseDelay: 0, MaxDelay: 30 * time.Second}, RoutingConfig{}, nil)
	return svc, fp
}

func helloRequest() domain.ChatRequest {
	return domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "Hello"}}},
		},
	}
}

// Scenario 1: default chat selection picks a viable model and dispatches
// exactly once; the spec's own assertion is loose by design (B if cost
// weighting dominates, C if speed does — not a fixed winner).
func TestScenarioDefaultChatSelection(t *testing.T) {
	svc, fp := scenarioSetup(t, func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
		return domain.ChatResponse{Content: "hi", FinishReason: domain.FinishReasonStop, Model: req.Options.Model}, nil
	})

	resp, err := svc.ChatCompletion(t.Context(), helloRequest())
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Model)
	assert.EqualValues(t, 1, fp.chatCalls)
}

// Scenario 2: a hard cost budget of 0.15 gates out B and C on CostPolicy,
// leaving A the clear winner even though CostPolicy isn't mandatory.
func TestScenarioHardCostBudgetSelectsA(t *testing.T) {
	svc, _ := scenarioSetup(t, func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
		return domain.ChatResponse{Content: "ok", FinishReason: domain.FinishReasonStop, Model: req.Options.Model}, nil
	})

	maxCost := 0.15
	useCache := false
	req := helloRequest()
	req.Options.MaxCost = &maxCost
	req.Options.UseCache = &useCache

	resp, err := svc.ChatCompletion(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "A", resp.Model)
}

// Scenario 3: weighting almost entirely toward speed (and away from cost)
// selects C, the lowest-latency model.
func TestScenarioSpeedBiasedWeightsSelectsC(t *testing.T) {
	svc, _ := scenarioSetup(t, func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
		return domain.ChatResponse{Content: "ok", FinishReason: domain.FinishReasonStop, Model: req.Options.Model}, nil
	})

	req := helloRequest()
	req.Options.PolicyWeights = map[string]float64{"SpeedPolicy": 1.0, "CostPolicy": 0.01, "CapabilityPolicy": 1.0}

	resp, err := svc.ChatCompletion(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "C", resp.Model)
}

// Scenario 4: an explicit preferred model id that satisfies every required
// capability is honored outright, bypassing the rest of the field.
func TestScenarioPreferredIDHonoredWhenCapable(t *testing.T) {
	svc, _ := scenarioSetup(t, func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
		return domain.ChatResponse{Content: "ok", FinishReason: domain.FinishReasonStop, Model: req.Options.Model}, nil
	})

	req := helloRequest()
	req.Options.Model = "A"

	resp, err := svc.ChatCompletion(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "A", resp.Model)
}

// Scenario 5: a message describing an image infers the vision capability,
// which A lacks; the preferred-id shortcut is bypassed (A is filtered out of
// the candidate set entirely) and the Selector falls back to C, the only
// vision-capable model.
func TestScenarioPreferredIDOverriddenWhenIncapable(t *testing.T) {
	svc, _ := scenarioSetup(t, func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
		return domain.ChatResponse{Content: "ok", FinishReason: domain.FinishReasonStop, Model: req.Options.Model}, nil
	})

	req := domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: "user", Content: []domain.ContentBlock{
				{Type: "text", Text: "Describe this image"},
				{Type: "image", ImageURL: "https://example.com/cat.png"},
			}},
		},
		Options: domain.LLMOptions{Model: "A"},
	}

	resp, err := svc.ChatCompletion(t.Context(), req)
	require.NoError(t, err)
	assert.Equal(t, "C", resp.Model)
}

// Scenario 6: a RATE_LIMIT error carrying retryAfterSeconds=2 is retried
// once and succeeds; the observed sleep falls within the [0.8, 1.2] jitter
// window around the 2-second hint.
func TestScenarioRateLimitRetrySucceedsWithinJitterWindow(t *testing.T) {
	var attempts int32
	svc, fp := scenarioSetup(t, func(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return domain.ChatResponse{}, domain.NewError(domain.ErrRateLimit, "slow down").
				WithProvider(scenarioProvider).WithRetryAfterSeconds(2)
		}
		return domain.ChatResponse{Content: "ok", FinishReason: domain.FinishReasonStop, Model: req.Options.Model}, nil
	})

	start := time.Now()
	resp, err := svc.ChatCompletion(t.Context(), helloRequest())
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 2, fp.chatCalls)
	assert.GreaterOrEqual(t, elapsed.Seconds(), 1.6)
	assert.LessOrEqual(t, elapsed.Seconds(), 2.4)
}
