// Package tokencount estimates token usage when a provider omits it.
//
// It uses tiktoken-go, a Go port of OpenAI's tiktoken, with cl100k_base as the
// fallback encoding for models tiktoken does not know.
package tokencount

import (
	"log/slog"
	"strings"
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

// Counter provides thread-safe token counting for LLM models.
type Counter struct {
	mu    sync.RWMutex
	cache map[string]*tiktoken.Tiktoken
}

// NewCounter creates a new token counter instance.
func NewCounter() *Counter {
	return &Counter{cache: make(map[string]*tiktoken.Tiktoken)}
}

// Default is the process-wide counter.
var Default = NewCounter()

func (c *Counter) encoding(model string) (*tiktoken.Tiktoken, error) {
	name := normalizeModelName(model)

	c.mu.RLock()
	enc, ok := c.cache[name]
	c.mu.RUnlock()
	if ok {
		return enc, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.cache[name]; ok {
		return enc, nil
	}
	enc, err := tiktoken.EncodingForModel(name)
	if err != nil {
		slog.Debug("falling back to cl100k_base encoding", slog.String("model", model), slog.Any("error", err))
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}
	c.cache[name] = enc
	return enc, nil
}

// normalizeModelName maps provider model ids to a tiktoken-known name.
func normalizeModelName(model string) string {
	model = strings.ToLower(strings.TrimSpace(model))
	if i := strings.LastIndex(model, "/"); i >= 0 {
		model = model[i+1:]
	}
	model = strings.TrimSuffix(model, ":free")
	switch {
	case strings.HasPrefix(model, "gpt-3.5"):
		return "gpt-3.5-turbo"
	case strings.HasPrefix(model, "gpt-4o"):
		return "gpt-4o"
	default:
		// Llama, Mistral, Gemini and friends are close enough to cl100k.
		return "gpt-4"
	}
}

// Count returns the number of tokens in text.
func (c *Counter) Count(text, model string) (int, error) {
	enc, err := c.encoding(model)
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// Estimate computes usage for a system+user prompt and its completion. It
// never fails; counting errors fall back to four characters per token.
func (c *Counter) Estimate(p domain.Prompt, completion, model string) domain.TokenUsage {
	const perMessage = 4 // role marker and separators
	prompt, err := c.Count(p.Instructions, model)
	if err != nil {
		slog.Warn("failed to count prompt tokens, using estimate", slog.String("model", model), slog.Any("error", err))
		return domain.TokenUsage{
			PromptTokens:     (len(p.Instructions) + len(p.Message)) / 4,
			CompletionTokens: len(completion) / 4,
		}
	}
	msg, _ := c.Count(p.Message, model)
	out, _ := c.Count(completion, model)
	return domain.TokenUsage{
		PromptTokens:     prompt + msg + 2*perMessage + 3,
		CompletionTokens: out,
	}
}
