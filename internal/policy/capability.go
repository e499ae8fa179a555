package policy

import (
	"fmt"

	"llmorch/internal/domain"
)

// CapabilityPolicy is mandatory: a model must satisfy (or nearly satisfy)
// every capability a request declares required. It also backs the
// Selector's preferred-id shortcut, which requires a score of exactly 1.
type CapabilityPolicy struct{}

func (CapabilityPolicy) Name() string          { return "CapabilityPolicy" }
func (CapabilityPolicy) DefaultWeight() float64 { return 1.0 }
func (CapabilityPolicy) IsMandatory() bool      { return true }

func (p CapabilityPolicy) Evaluate(model domain.ModelMetadata, req domain.ModelRequirements) Evaluation {
	if len(req.Capabilities) == 0 {
		return Evaluation{
			PolicyName:  p.Name(),
			Score:       1,
			Weight:      weightFor(p, req),
			IsMandatory: true,
			Reasoning:   "no required capabilities",
		}
	}

	present := 0
	for _, c := range req.Capabilities {
		if model.HasCapability(c) {
			present++
		}
	}

	score := float64(present) / float64(len(req.Capabilities))
	return Evaluation{
		PolicyName:  p.Name(),
		Score:       score,
		Weight:      weightFor(p, req),
		IsMandatory: true,
		Reasoning:   fmt.Sprintf("%d/%d required capabilities present", present, len(req.Capabilities)),
	}
}
