// Package gemini implements the AI client on Google's Gemini API with a
// response schema, yielding structured completions.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/resume-analyzer/internal/adapter/observability"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

const (
	provider     = "gemini"
	defaultModel = "gemini-2.5-flash"
)

// contentGenerator is the subset of genai.Models used by the client.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client wraps the Google GenAI client.
type Client struct {
	models    contentGenerator
	modelName string
}

// New creates a Client configured for the Gemini API backend.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClient(client.Models, model), nil
}

func newClient(models contentGenerator, model string) *Client {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	return &Client{models: models, modelName: model}
}

// Complete asks Gemini for a JSON response conforming to the prompt schema.
// A reply that decodes to an object is returned as a structured completion;
// anything else is handed back raw.
func (c *Client) Complete(ctx domain.Context, p domain.Prompt) (domain.Completion, error) {
	temperature := float32(0.2)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: p.Instructions}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    toSchema(p.Schema),
		Temperature:       &temperature,
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, c.modelName, genai.Text(p.Message), cfg)
	if err != nil {
		observability.ObserveAIRequest(provider, "error", time.Since(start))
		var apiErr genai.APIError
		if errors.As(err, &apiErr) && apiErr.Code == 429 {
			return domain.Completion{}, fmt.Errorf("gemini rate limited: 429: %w", err)
		}
		if ctx.Err() != nil {
			return domain.Completion{}, fmt.Errorf("generate content: %w", errors.Join(domain.ErrUpstreamTimeout, err))
		}
		return domain.Completion{}, fmt.Errorf("generate content: %w", err)
	}
	observability.ObserveAIRequest(provider, "OK", time.Since(start))

	text := responseText(resp)
	if text == "" {
		return domain.Completion{}, errors.New("gemini api returned empty response")
	}

	usage := usageOf(resp)
	if usage.Total() == 0 {
		usage = tokencount.Default.Estimate(p, text, c.modelName)
	}

	var out domain.Completion
	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err == nil && len(payload) > 0 {
		out = domain.StructuredCompletion(domain.Assessment(payload), text, usage)
	} else {
		slog.Warn("gemini returned non-object JSON, falling back to raw text", slog.Int("length", len(text)))
		out = domain.RawCompletion(text, usage)
	}
	out.Provider, out.Model = provider, c.modelName
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			b.WriteString(part.Text)
		}
		break
	}
	return strings.TrimSpace(b.String())
}

func usageOf(resp *genai.GenerateContentResponse) domain.TokenUsage {
	if resp == nil || resp.UsageMetadata == nil {
		return domain.TokenUsage{}
	}
	return domain.TokenUsage{
		PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
		CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

// toSchema converts a JSON Schema map into the genai schema subset Gemini accepts.
func toSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if v, ok := e.(string); ok {
				s.Enum = append(s.Enum, v)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = toSchema(items)
	}
	s.Minimum = toFloat(m["minimum"])
	s.Maximum = toFloat(m["maximum"])
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if pm, ok := raw.(map[string]any); ok {
				s.Properties[name] = toSchema(pm)
			}
		}
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if v, ok := r.(string); ok {
				s.Required = append(s.Required, v)
				s.PropertyOrdering = append(s.PropertyOrdering, v)
			}
		}
	}
	return s
}

func toFloat(v any) *float64 {
	switch n := v.(type) {
	case int:
		f := float64(n)
		return &f
	case float64:
		return &n
	}
	return nil
}
