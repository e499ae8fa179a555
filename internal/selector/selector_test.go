package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmorch/internal/domain"
	"llmorch/internal/policy"
)

func candidate(id string, provider domain.Provider, price float64, latencyMs uint32) domain.ModelMetadata {
	return domain.ModelMetadata{
		ID:           id,
		Provider:     provider,
		Capabilities: []domain.Capability{domain.CapabilityChat},
		Pricing:      domain.Pricing{InputTokens: price, OutputTokens: price * 2},
		Performance:  domain.Performance{AverageLatencyMs: latencyMs},
	}
}

func TestSelectPicksHighestScore(t *testing.T) {
	scorer := policy.Default()
	candidates := []domain.ModelMetadata{
		candidate("cheap-fast", domain.ProviderOpenAI, 0.1, 200),
		candidate("expensive-slow", domain.ProviderOpenAI, 5.0, 4000),
	}
	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityChat}}

	result, err := Select(scorer, candidates, req, "")
	require.NoError(t, err)
	assert.Equal(t, "cheap-fast", result.Model.ID)
}

func TestSelectPreferredIDShortcutsOnPerfectCapabilityScore(t *testing.T) {
	scorer := policy.Default()
	candidates := []domain.ModelMetadata{
		candidate("a", domain.ProviderOpenAI, 5.0, 4000),
		candidate("preferred", domain.ProviderOpenAI, 5.0, 4000),
	}
	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityChat}}

	result, err := Select(scorer, candidates, req, "preferred")
	require.NoError(t, err)
	assert.Equal(t, "preferred", result.Model.ID)
	assert.Empty(t, result.Scored, "shortcut path skips scoring the rest of the field")
}

func TestSelectTieBreakPrefersMatchingProvider(t *testing.T) {
	scorer := policy.Default()
	candidates := []domain.ModelMetadata{
		candidate("openai/m", domain.ProviderOpenAI, 1.0, 500),
		candidate("anthropic/m", domain.ProviderAnthropic, 1.0, 500),
	}
	req := domain.ModelRequirements{
		Capabilities:      []domain.Capability{domain.CapabilityChat},
		PreferredProvider: domain.ProviderAnthropic,
	}

	result, err := Select(scorer, candidates, req, "")
	require.NoError(t, err)
	assert.Equal(t, "anthropic/m", result.Model.ID)
}

func TestSelectTieBreakPrefersLowerPrice(t *testing.T) {
	scorer := policy.Default()
	candidates := []domain.ModelMetadata{
		// Both prices fall in the same CostPolicy tier, so the scores tie; the
		// cheaper model sorts after the pricier one by id.
		candidate("a-pricier", domain.ProviderOpenAI, 1.0, 500),
		candidate("b-cheaper", domain.ProviderOpenAI, 0.9, 500),
	}
	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityChat}}

	result, err := Select(scorer, candidates, req, "")
	require.NoError(t, err)
	assert.Equal(t, "b-cheaper", result.Model.ID)
}

func TestSelectTieBreakFallsBackToLexicographicID(t *testing.T) {
	scorer := policy.Default()
	candidates := []domain.ModelMetadata{
		candidate("zeta", domain.ProviderOpenAI, 1.0, 500),
		candidate("alpha", domain.ProviderOpenAI, 1.0, 500),
	}
	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityChat}}

	result, err := Select(scorer, candidates, req, "")
	require.NoError(t, err)
	assert.Equal(t, "alpha", result.Model.ID)
}

func TestSelectReturnsModelSelectionFailedWhenNoneViable(t *testing.T) {
	scorer := policy.Default()
	candidates := []domain.ModelMetadata{
		candidate("no-vision", domain.ProviderOpenAI, 1.0, 500),
	}
	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityVision}}

	_, err := Select(scorer, candidates, req, "")
	require.Error(t, err)

	var oe *domain.OrchestratorError
	require.True(t, domain.AsOrchestratorError(err, &oe))
	assert.Equal(t, domain.ErrModelSelectionFailed, oe.Code)
}

func TestSelectPreferredIDFallsThroughWhenNotPerfect(t *testing.T) {
	scorer := policy.Default()
	candidates := []domain.ModelMetadata{
		candidate("preferred-no-vision", domain.ProviderOpenAI, 1.0, 500),
		candidate("other-has-vision", domain.ProviderOpenAI, 1.0, 500),
	}
	candidates[1].Capabilities = append(candidates[1].Capabilities, domain.CapabilityVision)

	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityChat, domain.CapabilityVision}}

	result, err := Select(scorer, candidates, req, "preferred-no-vision")
	require.NoError(t, err)
	assert.Equal(t, "other-has-vision", result.Model.ID)
}
