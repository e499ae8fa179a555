package policy

import "llmorch/internal/domain"

// ScoredModel is the Scorer's verdict for one candidate model.
type ScoredModel struct {
	Model           domain.ModelMetadata
	OverallScore    float64
	PerPolicyScores map[string]Evaluation
	IsViable        bool
	Reasoning       []string
}

// Scorer aggregates a fixed list of policies into an overall score and
// viability flag for a candidate model. New factors are added by appending
// policies to the list passed to New, not by editing Score.
type Scorer struct {
	policies []Policy
}

// New returns a Scorer running the given policies, in order, over every
// candidate. Reference policies (Capability, Cost, Speed) should always be
// included; operators may append more.
func New(policies ...Policy) *Scorer {
	return &Scorer{policies: policies}
}

// Default returns a Scorer wired with the three required reference policies.
func Default() *Scorer {
	return New(CapabilityPolicy{}, CostPolicy{}, SpeedPolicy{})
}

// Score evaluates model against req across every policy and aggregates the
// result: overall score is the weighted mean of individual scores, and the
// model is viable iff no mandatory policy scored below 0.5.
func (s *Scorer) Score(model domain.ModelMetadata, req domain.ModelRequirements) ScoredModel {
	perPolicy := make(map[string]Evaluation, len(s.policies))
	reasoning := make([]string, 0, len(s.policies))

	var weightedSum, weightTotal float64
	viable := true

	for _, p := range s.policies {
		eval := p.Evaluate(model, req)
		perPolicy[eval.PolicyName] = eval
		reasoning = append(reasoning, eval.PolicyName+": "+eval.Reasoning)

		weightedSum += eval.Score * eval.Weight
		weightTotal += eval.Weight

		if eval.IsMandatory && eval.Score < 0.5 {
			viable = false
		}
	}

	overall := 0.0
	if weightTotal > 0 {
		overall = weightedSum / weightTotal
	}

	return ScoredModel{
		Model:           model,
		OverallScore:    overall,
		PerPolicyScores: perPolicy,
		IsViable:        viable,
		Reasoning:       reasoning,
	}
}
