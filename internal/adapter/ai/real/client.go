// Package real implements the AI client backed by OpenRouter chat completions.
package real

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/config"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

const provider = "openrouter"

// Client implements domain.AIClient using OpenRouter. It returns the raw
// message text; the caller recovers the assessment from it.
type Client struct {
	cfg     config.Config
	chatHC  *http.Client
	counter *tokencount.Counter
}

// New constructs a real AI client with sensible timeouts.
func New(cfg config.Config) *Client {
	timeout := cfg.AnalysisTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &Client{
		cfg:     cfg,
		chatHC:  &http.Client{Timeout: timeout},
		counter: tokencount.Default,
	}
}

// getBackoffConfig returns a configured ExponentialBackOff based on the current environment.
func (c *Client) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()
	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier
	return expo
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete calls OpenRouter chat completions with the prompt's JSON schema as
// the requested response format.
func (c *Client) Complete(ctx domain.Context, p domain.Prompt) (domain.Completion, error) {
	if c.cfg.OpenRouterAPIKey == "" {
		slog.Error("OpenRouter API key missing", slog.String("provider", provider))
		return domain.Completion{}, fmt.Errorf("%w: OPENROUTER_API_KEY missing", domain.ErrInvalidArgument)
	}
	model := c.cfg.ChatModel
	body := map[string]any{
		"model":       model,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "system", "content": p.Instructions},
			{"role": "user", "content": p.Message},
		},
	}
	if p.Schema != nil {
		body["response_format"] = map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "resume_analysis",
				"strict": true,
				"schema": p.Schema,
			},
		}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return domain.Completion{}, fmt.Errorf("encode request: %w", err)
	}
	endpoint := c.cfg.OpenRouterBaseURL + "/chat/completions"

	var out chatResponse
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
		if err != nil {
			return backoff.Permanent(err)
		}
		r.Header.Set("Authorization", "Bearer "+c.cfg.OpenRouterAPIKey)
		r.Header.Set("Content-Type", "application/json")
		if c.cfg.OpenRouterReferer != "" {
			r.Header.Set("HTTP-Referer", c.cfg.OpenRouterReferer)
		}
		if c.cfg.OpenRouterTitle != "" {
			r.Header.Set("X-Title", c.cfg.OpenRouterTitle)
		}
		resp, err := c.chatHC.Do(r)
		if err != nil {
			observability.ObserveAIRequest(provider, "error", time.Since(start))
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		observability.ObserveAIRequest(provider, http.StatusText(resp.StatusCode), time.Since(start))

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("failed to read response body", slog.String("provider", provider), slog.Any("error", err))
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			// Retryable: let backoff handle retries
			slog.Warn("ai provider rate limited", slog.String("provider", provider), slog.Int("status", resp.StatusCode), slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
			return fmt.Errorf("rate limited: 429")
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			slog.Warn("ai provider 4xx", slog.String("provider", provider), slog.Int("status", resp.StatusCode), slog.String("model", model), slog.String("body", snippet(bodyBytes)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// 5xx and others: retryable
			slog.Error("ai provider non-2xx", slog.String("provider", provider), slog.Int("status", resp.StatusCode), slog.String("model", model), slog.String("body", snippet(bodyBytes)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			slog.Error("ai provider decode error", slog.String("provider", provider), slog.String("model", model), slog.Any("error", err))
			return err
		}
		return nil
	}

	expo := c.getBackoffConfig()
	if err := backoff.Retry(op, backoff.WithContext(expo, ctx)); err != nil {
		if ctx.Err() != nil {
			return domain.Completion{}, fmt.Errorf("openrouter api: %w", errors.Join(domain.ErrUpstreamTimeout, err))
		}
		return domain.Completion{}, fmt.Errorf("openrouter api failed: %w", err)
	}
	if len(out.Choices) == 0 {
		return domain.Completion{}, errors.New("empty choices from OpenRouter API")
	}

	text := out.Choices[0].Message.Content
	actual := model
	if out.Model != "" {
		actual = out.Model
	}
	var usage domain.TokenUsage
	if out.Usage != nil {
		usage = domain.TokenUsage{PromptTokens: out.Usage.PromptTokens, CompletionTokens: out.Usage.CompletionTokens}
	} else {
		usage = c.counter.Estimate(p, text, actual)
	}

	slog.Info("OpenRouter API call successful",
		slog.String("provider", provider),
		slog.String("requested_model", model),
		slog.String("actual_model", actual),
		slog.Int("prompt_tokens", usage.PromptTokens),
		slog.Int("completion_tokens", usage.CompletionTokens))

	res := domain.RawCompletion(text, usage)
	res.Provider, res.Model = provider, actual
	return res, nil
}

func snippet(b []byte) string {
	if len(b) > 512 {
		return string(b[:512])
	}
	return string(b)
}
