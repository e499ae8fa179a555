package policy

import (
	"fmt"

	"llmorch/internal/domain"
)

var maxLatencyByClass = map[domain.LatencyClass]float64{
	domain.LatencyLow:    500,
	domain.LatencyMedium: 2000,
	domain.LatencyHigh:   5000,
}

// SpeedPolicy scores a model against the request's latency class, rewarding
// models that beat the class's ceiling and penalizing (without zeroing) ones
// that exceed it.
type SpeedPolicy struct{}

func (SpeedPolicy) Name() string          { return "SpeedPolicy" }
func (SpeedPolicy) DefaultWeight() float64 { return 0.7 }
func (SpeedPolicy) IsMandatory() bool      { return false }

func (p SpeedPolicy) Evaluate(model domain.ModelMetadata, req domain.ModelRequirements) Evaluation {
	class := req.LatencyRequirement
	if class == "" {
		class = domain.LatencyMedium
	}
	max, ok := maxLatencyByClass[class]
	if !ok {
		max = maxLatencyByClass[domain.LatencyMedium]
	}

	actual := float64(model.Performance.AverageLatencyMs)
	if actual <= 0 {
		actual = max
	}

	var score float64
	if actual <= max {
		score = 0.6 + 0.4*(1-actual/max)
		if score > 1 {
			score = 1
		}
	} else {
		score = 0.5 * max / actual
		if score < 0.1 {
			score = 0.1
		}
	}

	return Evaluation{
		PolicyName: p.Name(), Score: score, Weight: weightFor(p, req), IsMandatory: false,
		Reasoning: fmt.Sprintf("latency %.0fms vs %s-class max %.0fms", actual, class, max),
	}
}
