package orchestrator

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"llmorch/internal/domain"
)

// TokenEstimator estimates how many tokens a request's messages will
// consume, used by requirements inference for context window sizing. The
// estimate is made before a model is selected, so one estimator serves every
// request regardless of which model is later chosen. The teacher's reference
// clients estimated with a flat chars/4 heuristic; TiktokenEstimator replaces
// that with an actual encoder for its configured encoding.
type TokenEstimator interface {
	Estimate(messages []domain.ChatMessage, systemPrompt string) uint32
}

// HeuristicEstimator is the teacher's chars/4 approximation (rounded up),
// used by TiktokenEstimator as its fallback when its encoding cannot be
// loaded.
type HeuristicEstimator struct{}

func (HeuristicEstimator) Estimate(messages []domain.ChatMessage, systemPrompt string) uint32 {
	total := len(systemPrompt)
	for _, msg := range messages {
		for _, block := range msg.Content {
			total += len(block.Text)
		}
	}
	return uint32((total + 3) / 4)
}

// TiktokenEstimator wraps github.com/pkoukk/tiktoken-go, caching encodings
// by name since construction does non-trivial work (loading a BPE rank
// table).
type TiktokenEstimator struct {
	encoding string // e.g. "cl100k_base"
	fallback TokenEstimator

	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// NewTiktokenEstimator returns an estimator using the named encoding (e.g.
// "cl100k_base" for GPT-3.5/4-family models, "o200k_base" for GPT-4o), and
// falling back to a heuristic count if that encoding cannot be loaded.
func NewTiktokenEstimator(encoding string) *TiktokenEstimator {
	return &TiktokenEstimator{
		encoding: encoding,
		fallback: HeuristicEstimator{},
		encoders: make(map[string]*tiktoken.Tiktoken),
	}
}

func (e *TiktokenEstimator) Estimate(messages []domain.ChatMessage, systemPrompt string) uint32 {
	enc, err := e.encoder()
	if err != nil {
		return e.fallback.Estimate(messages, systemPrompt)
	}

	var total int
	total += len(enc.Encode(systemPrompt, nil, nil))
	for _, msg := range messages {
		for _, block := range msg.Content {
			if block.Type == "text" {
				total += len(enc.Encode(block.Text, nil, nil))
			}
		}
		total += 4 // role + message framing overhead, per OpenAI's own counting guidance
	}
	return uint32(total)
}

func (e *TiktokenEstimator) encoder() (*tiktoken.Tiktoken, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if enc, ok := e.encoders[e.encoding]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(e.encoding)
	if err != nil {
		return nil, err
	}
	e.encoders[e.encoding] = enc
	return enc, nil
}
