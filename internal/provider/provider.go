// Package provider implements the uniform Provider contract (C4) and its
// reference backends (OpenAI, Anthropic, a local/on-prem client). Grounded on
// the teacher's internal/provider.Manager, trimmed of the tenant dimension
// and the database-backed per-tenant client cache neither this module's
// scope nor its in-memory registry requires.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"llmorch/internal/domain"
)

// Provider is the uniform contract every backend implements. The
// orchestrator never imports a concrete client type directly.
type Provider interface {
	Name() domain.Provider
	Capabilities() []domain.Capability

	Initialize(ctx context.Context) error
	Dispose(ctx context.Context) error
	IsAvailable(ctx context.Context) bool

	ListModels(ctx context.Context) ([]domain.ModelMetadata, error)
	ValidateRequest(req domain.ChatRequest) error

	Chat(ctx context.Context, req domain.ChatRequest) (domain.ChatResponse, error)
	StreamChat(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamEvent, error)
	Embed(ctx context.Context, modelID string, input []string, options domain.LLMOptions) ([][]float32, *domain.UsageEvent, error)

	// ProcessBatch runs Chat over every request, preserving input order.
	// Reference implementation: batch.go's errgroup-bounded fan-out.
	ProcessBatch(ctx context.Context, reqs []domain.ChatRequest) ([]domain.ChatResponse, error)
}

// BuildHTTPClient creates an HTTP client tuned by the given connection
// settings. Every reference provider builds its transport through this.
func BuildHTTPClient(settings domain.ConnectionSettings) *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        settings.MaxIdleConnections,
		MaxIdleConnsPerHost: settings.MaxIdleConnections,
		MaxConnsPerHost:     settings.MaxConnections,
		IdleConnTimeout:     time.Duration(settings.IdleTimeoutSec) * time.Second,
		DisableKeepAlives:   !settings.EnableKeepAlive,
		ForceAttemptHTTP2:   settings.EnableHTTP2,
	}

	return &http.Client{
		Timeout:   time.Duration(settings.RequestTimeoutSec) * time.Second,
		Transport: transport,
	}
}

// Manager holds one client per provider, registered at startup and read for
// the lifetime of the process. Unlike the teacher's Manager, there is no
// per-tenant dimension: a single deployment serves a single set of provider
// credentials.
type Manager struct {
	mu      sync.RWMutex
	clients map[domain.Provider]Provider
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{clients: make(map[domain.Provider]Provider)}
}

// Register adds or replaces the client for p.Name().
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients[p.Name()] = p
}

// Get returns the client registered for name.
func (m *Manager) Get(name domain.Provider) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[name]
	if !ok {
		return nil, domain.NewError(domain.ErrProviderUnavailable, fmt.Sprintf("provider %s not configured", name)).WithProvider(name)
	}
	return client, nil
}

// ForModel returns the client for the provider that owns modelID, as
// recorded by the registry entry itself (the Manager holds no model→provider
// mapping of its own).
func (m *Manager) ForModel(model domain.ModelMetadata) (Provider, error) {
	return m.Get(model.Provider)
}

// All returns every registered client, in no particular order.
func (m *Manager) All() []Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Provider, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

// DisposeAll shuts down every registered client, collecting the first error
// encountered while still attempting the rest.
func (m *Manager) DisposeAll(ctx context.Context) error {
	m.mu.RLock()
	clients := make([]Provider, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, c := range clients {
		if err := c.Dispose(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
