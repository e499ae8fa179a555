// Package policy implements the Scoring Policies and Scorer (C5, C6): a
// pluggable pipeline that ranks registry entries against per-request
// requirements. Grounded on the teacher's internal/policy package shape — a
// named service with a structured per-check result type — generalized here
// from access-control enforcement to model scoring.
package policy

import "llmorch/internal/domain"

// Evaluation is the result of one policy scoring a model against requirements.
type Evaluation struct {
	PolicyName  string
	Score       float64 // in [0, 1]
	Weight      float64
	IsMandatory bool
	Reasoning   string
}

// Policy is a stateless evaluator: given a model and requirements, it
// returns an Evaluation. Implementations must not hold per-request state.
type Policy interface {
	Name() string
	DefaultWeight() float64
	IsMandatory() bool
	Evaluate(model domain.ModelMetadata, req domain.ModelRequirements) Evaluation
}

// weightFor resolves the effective weight for a policy: the caller's
// per-policy override if present, else the policy's own default.
func weightFor(p Policy, req domain.ModelRequirements) float64 {
	if req.PolicyWeights != nil {
		if w, ok := req.PolicyWeights[p.Name()]; ok {
			return w
		}
	}
	return p.DefaultWeight()
}
