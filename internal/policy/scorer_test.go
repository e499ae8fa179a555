package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"llmorch/internal/domain"
)

func model(id string, price float64, latencyMs uint32, caps ...domain.Capability) domain.ModelMetadata {
	return domain.ModelMetadata{
		ID:           id,
		Capabilities: caps,
		Pricing:      domain.Pricing{InputTokens: price, OutputTokens: price * 2},
		Performance:  domain.Performance{AverageLatencyMs: latencyMs},
	}
}

func TestCapabilityPolicyScoresFractionOfRequiredCapabilities(t *testing.T) {
	m := model("m", 1, 500, domain.CapabilityChat)
	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityChat, domain.CapabilityVision}}

	eval := CapabilityPolicy{}.Evaluate(m, req)
	assert.Equal(t, 0.5, eval.Score)
	assert.True(t, eval.IsMandatory)
}

func TestCapabilityPolicyNoRequirementsScoresPerfect(t *testing.T) {
	m := model("m", 1, 500)
	eval := CapabilityPolicy{}.Evaluate(m, domain.ModelRequirements{})
	assert.Equal(t, 1.0, eval.Score)
}

func TestCostPolicyHardMaxCostGate(t *testing.T) {
	cheap := model("cheap", 0.1, 500, domain.CapabilityChat)
	expensive := model("expensive", 5.0, 500, domain.CapabilityChat)
	maxCost := 1.0
	req := domain.ModelRequirements{MaxCost: &maxCost}

	assert.Equal(t, 1.0, CostPolicy{}.Evaluate(cheap, req).Score)
	assert.Equal(t, 0.0, CostPolicy{}.Evaluate(expensive, req).Score)
}

func TestCostPolicyTieredWithoutMaxCost(t *testing.T) {
	cheap := model("cheap", 0.1, 500, domain.CapabilityChat)
	pricey := model("pricey", 3.0, 500, domain.CapabilityChat)
	req := domain.ModelRequirements{}

	assert.Greater(t, CostPolicy{}.Evaluate(cheap, req).Score, CostPolicy{}.Evaluate(pricey, req).Score)
}

func TestSpeedPolicyRewardsBeatingClassCeiling(t *testing.T) {
	fast := model("fast", 1, 200, domain.CapabilityChat)
	slow := model("slow", 1, 4000, domain.CapabilityChat)
	req := domain.ModelRequirements{LatencyRequirement: domain.LatencyLow}

	fastScore := SpeedPolicy{}.Evaluate(fast, req).Score
	slowScore := SpeedPolicy{}.Evaluate(slow, req).Score
	assert.Greater(t, fastScore, slowScore)
	assert.GreaterOrEqual(t, slowScore, 0.1)
}

func TestScorerOverallIsWeightedMean(t *testing.T) {
	s := Default()
	m := model("m", 0.1, 200, domain.CapabilityChat)
	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityChat}}

	scored := s.Score(m, req)
	assert.True(t, scored.IsViable)
	// (1.0*1.0 + 1.0*0.8 + 0.96*0.7) / (1.0 + 0.8 + 0.7)
	assert.InDelta(t, 0.9888, scored.OverallScore, 1e-9)
	assert.Contains(t, scored.PerPolicyScores, "CapabilityPolicy")
	assert.Contains(t, scored.PerPolicyScores, "CostPolicy")
	assert.Contains(t, scored.PerPolicyScores, "SpeedPolicy")
}

func TestScorerNotViableWhenMandatoryFails(t *testing.T) {
	s := Default()
	m := model("m", 0.1, 200, domain.CapabilityChat)
	req := domain.ModelRequirements{Capabilities: []domain.Capability{domain.CapabilityChat, domain.CapabilityVision, domain.CapabilityEmbedding}}

	scored := s.Score(m, req)
	assert.False(t, scored.IsViable)
}

func TestPolicyWeightOverride(t *testing.T) {
	m := model("m", 0.1, 200, domain.CapabilityChat)
	req := domain.ModelRequirements{
		Capabilities:  []domain.Capability{domain.CapabilityChat},
		PolicyWeights: map[string]float64{"CostPolicy": 5.0},
	}
	eval := CostPolicy{}.Evaluate(m, req)
	assert.Equal(t, 5.0, eval.Weight)
}
