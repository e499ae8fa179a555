// Package orchestrator implements the Orchestrator (C8): the entry point
// that turns a ChatRequest into a routed, cached, retried completion.
package orchestrator

import (
	"strings"

	"llmorch/internal/domain"
)

// inferRequirements derives a ModelRequirements from a request when the
// caller did not supply enough routing hints on LLMOptions directly.
// Grounded on the teacher's internal/routing.Router.detectTaskType and
// analyzeComplexity (keyword matching for task type, a three-factor weighted
// heuristic for complexity), adapted to the richer ModelRequirements this
// module's registry and policies consume instead of the teacher's flat
// provider/model pair.
func inferRequirements(req domain.ChatRequest, estimatedTokens uint32, routing RoutingConfig) domain.ModelRequirements {
	opts := req.Options

	taskType := opts.TaskType
	if taskType == "" {
		taskType = detectTaskType(req.Messages)
	}

	complexity := opts.TaskComplexity
	if complexity == "" {
		complexity = classifyComplexity(analyzeComplexity(req.Messages, opts.Tools))
	}

	urgency := opts.Urgency
	if urgency == "" {
		urgency = domain.LatencyMedium
	}

	privacy := opts.PrivacyLevel
	if privacy == "" {
		privacy = domain.PrivacyInternal
	}

	caps := requiredCapabilities(req.Messages, opts, taskType)

	contextWindow := estimatedTokens
	if opts.MaxTokens != nil {
		contextWindow += uint32(*opts.MaxTokens)
	}

	return domain.ModelRequirements{
		TaskType:           taskType,
		TaskComplexity:     complexity,
		ContextWindow:      contextWindow,
		LatencyRequirement: urgency,
		PrivacyLevel:       privacy,
		Capabilities:       caps,
		MaxCost:            opts.MaxCost,
		PreferredProvider:  derivePreferredProvider(opts.Model, privacy, taskType, complexity, routing),
		PolicyWeights:      opts.PolicyWeights,
	}
}

// requiredCapabilities always requires chat, and adds capabilities implied
// by the request shape (tools present, JSON mode, streaming, an image part
// in any message) or by the detected task type (code generation, creative
// writing, reasoning).
func requiredCapabilities(messages []domain.ChatMessage, opts domain.LLMOptions, taskType string) []domain.Capability {
	caps := []domain.Capability{domain.CapabilityChat}

	if len(opts.Tools) > 0 {
		caps = append(caps, domain.CapabilityToolCalling, domain.CapabilityFunctionCalling)
	}
	if opts.JSONMode {
		caps = append(caps, domain.CapabilityJSONMode)
	}
	if opts.Stream {
		caps = append(caps, domain.CapabilityStreaming)
	}
	if hasImageContent(messages) {
		caps = append(caps, domain.CapabilityVision)
	}

	switch taskType {
	case "code":
		caps = append(caps, domain.CapabilityCodeGeneration)
	case "creative":
		caps = append(caps, domain.CapabilityCreativeWriting)
	case "analysis", "math":
		caps = append(caps, domain.CapabilityComplexReasoning)
	}

	return caps
}

// hasImageContent reports whether any message carries an image content
// block, the signal spec.md §4.6 step 1 requires for inferring the vision
// capability.
func hasImageContent(messages []domain.ChatMessage) bool {
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == "image" {
				return true
			}
		}
	}
	return false
}

// detectTaskType keyword-matches the concatenated message text against a
// fixed set of task categories, most-specific first; "default" if none hit.
func detectTaskType(messages []domain.ChatMessage) string {
	var text strings.Builder
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == "text" {
				text.WriteString(strings.ToLower(block.Text))
				text.WriteByte(' ')
			}
		}
	}
	haystack := text.String()

	keywords := []struct {
		taskType string
		words    []string
	}{
		{"code", []string{"function", "class", "code", "programming", "debug", "implement", "compile", "syntax"}},
		{"translation", []string{"translate", "language", "french", "spanish", "german", "mandarin", "japanese"}},
		{"creative", []string{"write", "story", "poem", "creative", "imagine", "fiction", "narrative"}},
		{"analysis", []string{"analyze", "explain", "summarize", "review", "evaluate", "assess"}},
		{"math", []string{"calculate", "equation", "formula", "mathematical", "compute", "solve"}},
	}

	for _, k := range keywords {
		for _, word := range k.words {
			if strings.Contains(haystack, word) {
				return k.taskType
			}
		}
	}
	return "default"
}

// analyzeComplexity scores a request 0.0-1.0 across three weighted factors:
// total message text length, tool count, and conversation depth.
func analyzeComplexity(messages []domain.ChatMessage, tools []domain.Tool) float64 {
	var totalChars int
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == "text" {
				totalChars += len(block.Text)
			}
		}
	}

	var score float64
	switch {
	case totalChars < 500:
		score += 0.1
	case totalChars < 2000:
		score += 0.2
	default:
		score += 0.3
	}

	switch {
	case len(tools) == 0:
		score += 0.0
	case len(tools) <= 5:
		score += 0.2
	default:
		score += 0.4
	}

	switch {
	case len(messages) <= 2:
		score += 0.1
	case len(messages) <= 5:
		score += 0.2
	default:
		score += 0.3
	}

	return score
}

// classifyComplexity buckets a 0.0-1.0 score into the task complexity labels
// carried on ModelRequirements.TaskComplexity, which derivePreferredProvider
// reads.
func classifyComplexity(score float64) string {
	switch {
	case score < 0.3:
		return "simple"
	case score < 0.6:
		return "medium"
	default:
		return "complex"
	}
}

// RoutingConfig carries the operator-configured providers spec.md §4.6 step 1
// calls for when a request needs complex reasoning or code generation but
// names no explicit preferred provider. Sourced from config.RoutingConfig.
type RoutingConfig struct {
	ComplexReasoningProvider domain.Provider
	CodeGenerationProvider   domain.Provider
}

// derivePreferredProvider implements spec.md §4.6 step 1's preferred-provider
// rule: an explicit "provider/model" hint wins outright; otherwise a
// privacy-restricted request is pinned to the local/on-prem provider; a
// complex-reasoning or code-generation request falls back to whatever
// provider the operator configured for that purpose; otherwise unset.
func derivePreferredProvider(modelHint string, privacy domain.PrivacyLevel, taskType, complexity string, routing RoutingConfig) domain.Provider {
	if p := providerHint(modelHint); p != "" {
		return p
	}
	if privacy == domain.PrivacyRestricted {
		return domain.ProviderLocal
	}
	if taskType == "code" && routing.CodeGenerationProvider != "" {
		return routing.CodeGenerationProvider
	}
	if complexity == "complex" && routing.ComplexReasoningProvider != "" {
		return routing.ComplexReasoningProvider
	}
	return ""
}

// providerHint extracts a preferred provider from a "provider/model" style
// model hint on LLMOptions.Model, if present.
func providerHint(modelHint string) domain.Provider {
	parts := strings.SplitN(modelHint, "/", 2)
	if len(parts) != 2 {
		return ""
	}
	p, ok := domain.ParseProvider(parts[0])
	if !ok {
		return ""
	}
	return p
}
