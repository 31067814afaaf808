package stub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-analyzer/internal/adapter/ai"
	"github.com/fairyhunter13/resume-analyzer/internal/domain"
)

func TestClient_Complete(t *testing.T) {
	t.Parallel()
	c := &Client{}
	p := ai.BuildPrompt(domain.JobDescription{JobRole: "Go Dev", Requirements: []string{"Go", "Redis"}}, "resume")

	out, err := c.Complete(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, domain.CompletionStructured, out.Kind)
	score, ok := out.Structured.MatchScore()
	assert.True(t, ok)
	assert.Equal(t, 82, score)
	assert.Equal(t, []string{"Go", "Redis"}, out.Structured["matched_skills"])
	assert.Greater(t, out.Usage.PromptTokens, 0)
}

func TestClient_CompleteHonoursContext(t *testing.T) {
	t.Parallel()
	c := &Client{Delay: time.Second}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, domain.Prompt{})
	require.ErrorIs(t, err, context.Canceled)
}
