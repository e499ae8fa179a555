// Package telemetry provides Prometheus metrics for the orchestrator.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the orchestrator's Prometheus metrics. Grounded on the
// teacher's telemetry.Metrics, trimmed of the tenant/policy/API-key
// dimensions that belonged to its multi-tenant gateway shell: this module
// has no tenant concept, so every vector drops the tenant_id label.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	TokensInput  *prometheus.CounterVec
	TokensOutput *prometheus.CounterVec
	CostUSD      *prometheus.CounterVec

	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	RoutingDecisions *prometheus.CounterVec
	RoutingFailures  *prometheus.CounterVec

	RetryAttempts *prometheus.CounterVec
}

// NewMetrics creates and registers the orchestrator's metrics. A nil
// registry registers against prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_requests_total", Help: "Total number of orchestrator requests"},
			[]string{"method", "model", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmorch_request_duration_seconds",
				Help:    "Request duration in seconds",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"method", "model"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{Name: "llmorch_requests_in_flight", Help: "Number of requests currently being processed"},
		),
		TokensInput: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_tokens_input_total", Help: "Total input tokens processed"},
			[]string{"model", "provider"},
		),
		TokensOutput: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_tokens_output_total", Help: "Total output tokens generated"},
			[]string{"model", "provider"},
		),
		CostUSD: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_cost_usd_total", Help: "Total cost in USD"},
			[]string{"model", "provider"},
		),
		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_provider_requests_total", Help: "Total requests per provider"},
			[]string{"provider", "model"},
		),
		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_provider_errors_total", Help: "Total errors per provider"},
			[]string{"provider", "error_type"},
		),
		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmorch_provider_latency_seconds",
				Help:    "Provider API latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "model"},
		),
		CacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_cache_hits_total", Help: "Total response cache hits"},
			[]string{"model"},
		),
		CacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_cache_misses_total", Help: "Total response cache misses"},
			[]string{"model"},
		),
		RoutingDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_routing_decisions_total", Help: "Total model selection decisions"},
			[]string{"task_type", "selected_model"},
		),
		RoutingFailures: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_routing_failures_total", Help: "Total model selection failures"},
			[]string{"reason"},
		),
		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{Name: "llmorch_retry_attempts_total", Help: "Total retry attempts"},
			[]string{"provider", "reason"},
		),
	}
}

// Handler returns an HTTP handler exposing metrics in Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RequestRecorder tracks one in-flight request from start to completion.
type RequestRecorder struct {
	metrics   *Metrics
	method    string
	model     string
	provider  string
	startTime time.Time
}

// NewRequestRecorder starts tracking a request, incrementing the in-flight gauge.
func (m *Metrics) NewRequestRecorder(method, model, provider string) *RequestRecorder {
	m.RequestsInFlight.Inc()
	return &RequestRecorder{metrics: m, method: method, model: model, provider: provider, startTime: time.Now()}
}

// RecordSuccess records a successful request's duration, tokens, and cost.
func (r *RequestRecorder) RecordSuccess(inputTokens, outputTokens int64, costUSD float64) {
	duration := time.Since(r.startTime).Seconds()

	r.metrics.RequestsInFlight.Dec()
	r.metrics.RequestsTotal.WithLabelValues(r.method, r.model, "success").Inc()
	r.metrics.RequestDuration.WithLabelValues(r.method, r.model).Observe(duration)

	r.metrics.TokensInput.WithLabelValues(r.model, r.provider).Add(float64(inputTokens))
	r.metrics.TokensOutput.WithLabelValues(r.model, r.provider).Add(float64(outputTokens))
	r.metrics.CostUSD.WithLabelValues(r.model, r.provider).Add(costUSD)

	r.metrics.ProviderRequests.WithLabelValues(r.provider, r.model).Inc()
	r.metrics.ProviderLatency.WithLabelValues(r.provider, r.model).Observe(duration)
}

// RecordError records a failed request.
func (r *RequestRecorder) RecordError(errorType string) {
	duration := time.Since(r.startTime).Seconds()

	r.metrics.RequestsInFlight.Dec()
	r.metrics.RequestsTotal.WithLabelValues(r.method, r.model, "error").Inc()
	r.metrics.RequestDuration.WithLabelValues(r.method, r.model).Observe(duration)

	r.metrics.ProviderErrors.WithLabelValues(r.provider, errorType).Inc()
}

// RecordCacheHit records a response cache hit for a model.
func (m *Metrics) RecordCacheHit(model string) { m.CacheHits.WithLabelValues(model).Inc() }

// RecordCacheMiss records a response cache miss for a model.
func (m *Metrics) RecordCacheMiss(model string) { m.CacheMisses.WithLabelValues(model).Inc() }

// RecordRoutingDecision records which model was selected for a task type.
func (m *Metrics) RecordRoutingDecision(taskType, selectedModel string) {
	m.RoutingDecisions.WithLabelValues(taskType, selectedModel).Inc()
}

// RecordRoutingFailure records a model selection failure and its reason.
func (m *Metrics) RecordRoutingFailure(reason string) {
	m.RoutingFailures.WithLabelValues(reason).Inc()
}

// RecordRetryAttempt records a retry attempt against a provider.
func (m *Metrics) RecordRetryAttempt(provider, reason string) {
	m.RetryAttempts.WithLabelValues(provider, reason).Inc()
}
