package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

func TestProvider_Infer(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-haiku-4-5",
			"content": [{"type": "text", "text": "What matters most to you?"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 6}
		}`))
	}))
	defer srv.Close()

	p, err := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := p.Infer(context.Background(), ports.ProviderRequest{
		Model:        "claude-haiku-4-5",
		SystemPrompt: "You are a coach.",
		Messages:     []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}},
		Temperature:  0.7,
		MaxTokens:    200,
	})
	require.NoError(t, err)

	assert.Equal(t, "What matters most to you?", resp.Text)
	assert.Equal(t, "claude-haiku-4-5", resp.Model)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 6, resp.OutputTokens)

	assert.Equal(t, "claude-haiku-4-5", body["model"])
	assert.EqualValues(t, 200, body["max_tokens"])
	assert.EqualValues(t, 0.7, body["temperature"])
}

func TestProvider_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`))
	}))
	defer srv.Close()

	p, err := New(Config{APIKey: "bad", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Infer(context.Background(), ports.ProviderRequest{Model: "m", Messages: []domain.ChatMessage{{Role: domain.RoleUser, Content: "x"}}})
	assert.Error(t, err)
}

func TestConvertMessages_LeadingAssistant(t *testing.T) {
	msgs := convertMessages([]domain.ChatMessage{
		{Role: domain.RoleAssistant, Content: "Welcome!"},
		{Role: domain.RoleUser, Content: "Hi"},
	})
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
	assert.Equal(t, "user", string(msgs[2].Role))
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestSupports(t *testing.T) {
	p, err := New(Config{APIKey: "k", Models: []string{"claude-haiku-4-5"}})
	require.NoError(t, err)
	assert.True(t, p.Supports("claude-haiku-4-5"))
	assert.False(t, p.Supports("gpt-4o"))
}
