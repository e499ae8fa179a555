package policy

import (
	"fmt"

	"llmorch/internal/domain"
)

// CostPolicy scores a model on its input price per 1M tokens. When the
// request sets a hard MaxCost, the policy is a pass/fail gate; otherwise it
// falls back to a tiered preference for cheaper models.
type CostPolicy struct{}

func (CostPolicy) Name() string          { return "CostPolicy" }
func (CostPolicy) DefaultWeight() float64 { return 0.8 }
func (CostPolicy) IsMandatory() bool      { return false }

func (p CostPolicy) Evaluate(model domain.ModelMetadata, req domain.ModelRequirements) Evaluation {
	price := model.Pricing.InputTokens

	if req.MaxCost != nil {
		if price <= *req.MaxCost {
			return Evaluation{
				PolicyName: p.Name(), Score: 1, Weight: weightFor(p, req), IsMandatory: false,
				Reasoning: fmt.Sprintf("input price %.3f within max cost %.3f", price, *req.MaxCost),
			}
		}
		return Evaluation{
			PolicyName: p.Name(), Score: 0, Weight: weightFor(p, req), IsMandatory: false,
			Reasoning: fmt.Sprintf("input price %.3f exceeds max cost %.3f", price, *req.MaxCost),
		}
	}

	var score float64
	switch {
	case price <= 0.2:
		score = 1.0
	case price <= 0.6:
		score = 0.8
	case price <= 1.0:
		score = 0.6
	case price <= 2.0:
		score = 0.4
	default:
		score = 0.2
	}

	return Evaluation{
		PolicyName: p.Name(), Score: score, Weight: weightFor(p, req), IsMandatory: false,
		Reasoning: fmt.Sprintf("tiered cost score for input price %.3f", price),
	}
}
