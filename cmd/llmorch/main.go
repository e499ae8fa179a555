// Package main is the entry point for the LLM orchestrator.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"llmorch/internal/cache"
	"llmorch/internal/config"
	"llmorch/internal/domain"
	"llmorch/internal/orchestrator"
	"llmorch/internal/policy"
	"llmorch/internal/provider"
	"llmorch/internal/registry"
	"llmorch/internal/resilience"
	"llmorch/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Address for the Prometheus metrics endpoint")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.LoadOrDefault(*configPath)
	slog.Info("starting llmorch", "config", *configPath)

	metrics := telemetry.NewMetrics(nil)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		slog.Info("metrics endpoint listening", "addr", *metricsAddr)
		if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server error", "error", err)
		}
	}()

	reg := registry.New()
	for _, m := range cfg.Models {
		if err := reg.Register(m); err != nil {
			slog.Error("failed to register model", "model", m.ID, "error", err)
		}
	}
	slog.Info("model registry seeded", "count", reg.Len())

	providers := provider.NewManager()
	if err := wireProviders(providers, cfg, reg); err != nil {
		slog.Error("failed to wire providers", "error", err)
		os.Exit(1)
	}

	scorer := policy.Default()
	respCache := cache.New()
	estimator := orchestrator.NewTiktokenEstimator("cl100k_base")

	retryBase, retryMax := cfg.Retry.RetryDuration()
	retryCfg := resilience.Config{MaxRetries: cfg.Retry.MaxRetries, BaseDelay: retryBase, MaxDelay: retryMax}

	routing := orchestrator.RoutingConfig{}
	if p, ok := domain.ParseProvider(cfg.Routing.ComplexReasoningProvider); ok {
		routing.ComplexReasoningProvider = p
	}
	if p, ok := domain.ParseProvider(cfg.Routing.CodeGenerationProvider); ok {
		routing.CodeGenerationProvider = p
	}

	orch := orchestrator.New(reg, providers, scorer, respCache, estimator, retryCfg, routing, metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	slog.Info("llmorch ready", "metrics_endpoint", fmt.Sprintf("http://localhost%s/metrics", *metricsAddr))

	demo(ctx, orch)

	<-ctx.Done()
	disposeCtx, disposeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer disposeCancel()
	if err := providers.DisposeAll(disposeCtx); err != nil {
		slog.Warn("error disposing providers", "error", err)
	}
	slog.Info("llmorch stopped")
}

// wireProviders registers one client per enabled provider in cfg, following
// the reference backends' own defaults when settings are left zero.
func wireProviders(providers *provider.Manager, cfg *config.Config, reg *registry.Registry) error {
	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		models := modelsForProvider(reg, name)

		switch name {
		case "openai":
			client, err := provider.NewOpenAIClient(pc.APIKey, pc.BaseURL, pc.ConnectionSettings, models)
			if err != nil {
				return fmt.Errorf("openai: %w", err)
			}
			providers.Register(client)
		case "anthropic":
			client, err := provider.NewAnthropicClient(pc.APIKey, pc.BaseURL, pc.ConnectionSettings, models)
			if err != nil {
				return fmt.Errorf("anthropic: %w", err)
			}
			providers.Register(client)
		case "local":
			client, err := provider.NewLocalClient(pc.BaseURL, pc.ConnectionSettings, models)
			if err != nil {
				return fmt.Errorf("local: %w", err)
			}
			providers.Register(client)
		default:
			slog.Warn("unknown provider in configuration, skipping", "provider", name)
			continue
		}
		slog.Info("registered provider", "provider", name)
	}
	return nil
}

func modelsForProvider(reg *registry.Registry, name string) []domain.ModelMetadata {
	p, ok := domain.ParseProvider(name)
	if !ok {
		return nil
	}
	return reg.ListByProvider(p)
}

// demo issues a single illustrative chat completion on startup, exercising
// the full selection/cache/retry/telemetry pipeline against whatever
// providers and models were configured. The Orchestrator records its own
// metrics and structured logs for this call; demo only reports the outcome.
func demo(ctx context.Context, orch *orchestrator.Service) {
	if orch == nil {
		return
	}
	req := domain.ChatRequest{
		Messages: []domain.ChatMessage{
			{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "Say hello in one short sentence."}}},
		},
		Options: domain.LLMOptions{},
	}

	resp, err := orch.ChatCompletion(ctx, req)
	if err != nil {
		slog.Warn("demo chat completion skipped", "error", err)
		return
	}
	slog.Info("demo chat completion", "model", resp.Model, "provider", resp.Provider, "content", resp.Content)
}
