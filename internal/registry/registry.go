// Package registry implements the in-memory Model Registry: the catalog of
// ModelMetadata the Selector queries. Grounded on the teacher's
// internal/provider.Manager (maps guarded by sync.RWMutex, one exclusive
// section per write) and internal/provider/model_cache.go's multi-key
// indexing idiom, trimmed of the tenant dimension neither the registry nor
// this module's scope requires.
package registry

import (
	"sort"
	"sync"

	"llmorch/internal/domain"
)

// Registry is the source of truth for which models exist, what they can do,
// and at what cost/latency. It holds no per-request state.
type Registry struct {
	mu sync.RWMutex

	models         map[string]domain.ModelMetadata
	byProvider     map[domain.Provider]map[string]struct{}
	byCapability   map[domain.Capability]map[string]struct{}
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		models:       make(map[string]domain.ModelMetadata),
		byProvider:   make(map[domain.Provider]map[string]struct{}),
		byCapability: make(map[domain.Capability]map[string]struct{}),
	}
}

// Seed bulk-loads a static catalog, e.g. read from configuration at startup.
// Invalid entries are skipped; the first validation error is returned after
// all valid entries have been registered.
func (r *Registry) Seed(models ...domain.ModelMetadata) error {
	var firstErr error
	for _, m := range models {
		if err := r.Register(m); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Register validates and inserts m, updating the provider and capability
// indices. Registration with a duplicate id replaces the existing entry.
func (r *Registry) Register(m domain.ModelMetadata) error {
	if err := validate(m); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.unindexLocked(m.ID)
	r.models[m.ID] = m
	r.indexLocked(m)
	return nil
}

// Get returns the metadata for id, or false if it does not exist.
func (r *Registry) Get(id string) (domain.ModelMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	return m, ok
}

// List returns all metadata; order is unspecified.
func (r *Registry) List() []domain.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ModelMetadata, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	return out
}

// ListByProvider returns models registered under provider p.
func (r *Registry) ListByProvider(p domain.Provider) []domain.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byProvider[p]
	out := make([]domain.ModelMetadata, 0, len(ids))
	for id := range ids {
		out = append(out, r.models[id])
	}
	return out
}

// ListByCapability returns models advertising capability c.
func (r *Registry) ListByCapability(c domain.Capability) []domain.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.byCapability[c]
	out := make([]domain.ModelMetadata, 0, len(ids))
	for id := range ids {
		out = append(out, r.models[id])
	}
	return out
}

// ListByRequirements returns registered models satisfying req's hard filters:
// every required capability present, sufficient context window, provider
// match when requirements.PreferredProvider is set, an available/beta
// status, and — when req.PrivacyLevel is restricted — only local models.
func (r *Registry) ListByRequirements(req domain.ModelRequirements) []domain.ModelMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.ModelMetadata, 0, len(r.models))
	for _, m := range r.models {
		if !hasAllCapabilities(m, req.Capabilities) {
			continue
		}
		if m.ContextWindow < req.ContextWindow {
			continue
		}
		if req.PreferredProvider != "" && m.Provider != req.PreferredProvider {
			continue
		}
		if m.Availability.Status != domain.ModelStatusAvailable && m.Availability.Status != domain.ModelStatusBeta {
			continue
		}
		if req.PrivacyLevel == domain.PrivacyRestricted && !m.IsLocal() {
			continue
		}
		out = append(out, m)
	}

	// Deterministic base ordering; the Selector re-sorts by score.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Update merges partial fields into the existing entry for id, revalidates,
// and re-indexes atomically (capability index is never observed dangling:
// the old entry is removed from both indices before the merged one is added).
func (r *Registry) Update(id string, apply func(m *domain.ModelMetadata)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.models[id]
	if !ok {
		return &domain.OrchestratorError{Code: domain.ErrModelNotFound, Message: "model not found: " + id}
	}

	merged := existing
	apply(&merged)
	merged.ID = id // id is immutable via Update

	if err := validate(merged); err != nil {
		return err
	}

	r.unindexLocked(id)
	r.models[id] = merged
	r.indexLocked(merged)
	return nil
}

// Remove deletes id from the main store and both indices.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unindexLocked(id)
	delete(r.models, id)
}

// Len reports how many models are registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

func (r *Registry) indexLocked(m domain.ModelMetadata) {
	if _, ok := r.byProvider[m.Provider]; !ok {
		r.byProvider[m.Provider] = make(map[string]struct{})
	}
	r.byProvider[m.Provider][m.ID] = struct{}{}

	for _, c := range m.Capabilities {
		if _, ok := r.byCapability[c]; !ok {
			r.byCapability[c] = make(map[string]struct{})
		}
		r.byCapability[c][m.ID] = struct{}{}
	}
}

func (r *Registry) unindexLocked(id string) {
	existing, ok := r.models[id]
	if !ok {
		return
	}
	if ids, ok := r.byProvider[existing.Provider]; ok {
		delete(ids, id)
	}
	for _, c := range existing.Capabilities {
		if ids, ok := r.byCapability[c]; ok {
			delete(ids, id)
		}
	}
}

func hasAllCapabilities(m domain.ModelMetadata, required []domain.Capability) bool {
	for _, c := range required {
		if !m.HasCapability(c) {
			return false
		}
	}
	return true
}

func validate(m domain.ModelMetadata) error {
	if m.ID == "" {
		return &domain.OrchestratorError{Code: domain.ErrInvalidRequestError, Message: "model id must not be empty"}
	}
	if len(m.Capabilities) == 0 {
		return invalidMetadata(m.ID, "capabilities must not be empty")
	}
	if m.ContextWindow == 0 {
		return invalidMetadata(m.ID, "contextWindow must be > 0")
	}
	if m.Pricing.InputTokens < 0 || m.Pricing.OutputTokens < 0 {
		return invalidMetadata(m.ID, "pricing must be non-negative")
	}
	return nil
}

func invalidMetadata(id, reason string) error {
	return &domain.OrchestratorError{
		Code:    domain.ErrInvalidModelMetadata,
		Message: id + ": " + reason,
		Model:   id,
	}
}
