package gemini

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

func TestProvider_Infer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gemini-2.0-flash:generateContent"), "path %s", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{"content": {"role": "model", "parts": [{"text": "Which value feels strongest?"}]}, "finishReason": "STOP"}],
			"usageMetadata": {"promptTokenCount": 11, "candidatesTokenCount": 5, "totalTokenCount": 16}
		}`))
	}))
	defer srv.Close()

	p, err := New(context.Background(), Config{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Infer(context.Background(), ports.ProviderRequest{
		Model:        "gemini-2.0-flash",
		SystemPrompt: "You are a coach.",
		Messages:     []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Which value feels strongest?", resp.Text)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	assert.Equal(t, 11, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)
}

func TestBuildRequest(t *testing.T) {
	contents, config := buildRequest(ports.ProviderRequest{
		SystemPrompt: "sys",
		Temperature:  0.5,
		Messages: []domain.ChatMessage{
			{Role: domain.RoleAssistant, Content: "hello"},
			{Role: domain.RoleUser, Content: "hi"},
		},
	})

	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[0].Role)
	assert.Equal(t, "user", contents[1].Role)
	require.NotNil(t, config.SystemInstruction)
	require.NotNil(t, config.Temperature)
	assert.InDelta(t, 0.5, *config.Temperature, 1e-6)
	assert.Equal(t, int32(DefaultMaxTokens), config.MaxOutputTokens)
}
