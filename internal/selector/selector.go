// Package selector implements the Selector (C7): given candidates,
// requirements, and an optional preferred id, it returns the best viable
// model. Grounded on the teacher's internal/routing.Router.selectBestCandidate
// (loop over candidates, pick by score) and Route's strategy dispatch, but
// replaces the teacher's non-deterministic ranking with the deterministic
// tie-break this specification requires: score desc, then preferred-provider
// match, then lower input price, then lexicographically smaller id.
package selector

import (
	"sort"

	"llmorch/internal/domain"
	"llmorch/internal/policy"
)

// Result is everything the orchestrator needs to log a selection decision.
type Result struct {
	Model      domain.ModelMetadata
	Scored     []policy.ScoredModel // every candidate's score, for diagnostics
}

// Select picks the best viable model from candidates for req. If
// preferredID is non-empty and present among candidates, its CapabilityPolicy
// score is checked first; a perfect score returns it immediately without
// scoring the rest of the field.
func Select(scorer *policy.Scorer, candidates []domain.ModelMetadata, req domain.ModelRequirements, preferredID string) (Result, error) {
	if preferredID != "" {
		for _, c := range candidates {
			if c.ID != preferredID {
				continue
			}
			capEval := (policy.CapabilityPolicy{}).Evaluate(c, req)
			if capEval.Score == 1 {
				return Result{Model: c}, nil
			}
			break
		}
	}

	scored := make([]policy.ScoredModel, 0, len(candidates))
	for _, c := range candidates {
		scored = append(scored, scorer.Score(c, req))
	}

	viable := make([]policy.ScoredModel, 0, len(scored))
	for _, s := range scored {
		if s.IsViable {
			viable = append(viable, s)
		}
	}

	if len(viable) == 0 {
		return Result{Scored: scored}, &domain.OrchestratorError{
			Code:    domain.ErrModelSelectionFailed,
			Message: "no viable model among candidates",
		}
	}

	sort.SliceStable(viable, func(i, j int) bool {
		a, b := viable[i], viable[j]
		if a.OverallScore != b.OverallScore {
			return a.OverallScore > b.OverallScore
		}
		aPref := a.Model.Provider == req.PreferredProvider
		bPref := b.Model.Provider == req.PreferredProvider
		if aPref != bPref {
			return aPref
		}
		if a.Model.Pricing.InputTokens != b.Model.Pricing.InputTokens {
			return a.Model.Pricing.InputTokens < b.Model.Pricing.InputTokens
		}
		return a.Model.ID < b.Model.ID
	})

	return Result{Model: viable[0].Model, Scored: scored}, nil
}
