package openai

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
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "resp_1",
			"object": "response",
			"created_at": 1760000000,
			"model": "gpt-4o-mini",
			"status": "completed",
			"output": [{
				"type": "message",
				"id": "msg_1",
				"role": "assistant",
				"status": "completed",
				"content": [{"type": "output_text", "text": "Tell me more.", "annotations": []}]
			}],
			"usage": {"input_tokens": 9, "output_tokens": 3, "total_tokens": 12}
		}`))
	}))
	defer srv.Close()

	p, err := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1/"})
	require.NoError(t, err)

	resp, err := p.Infer(context.Background(), ports.ProviderRequest{
		Model:        "gpt-4o-mini",
		SystemPrompt: "You are a coach.",
		Messages: []domain.ChatMessage{
			{Role: domain.RoleAssistant, Content: "Welcome"},
			{Role: domain.RoleUser, Content: "hi"},
		},
		MaxTokens: 64,
	})
	require.NoError(t, err)

	assert.Equal(t, "Tell me more.", resp.Text)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, 9, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)

	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.EqualValues(t, 64, body["max_output_tokens"])
	input, ok := body["input"].([]any)
	require.True(t, ok)
	assert.Len(t, input, 3, "system prompt plus two messages")
}

func TestConvertMessages_Roles(t *testing.T) {
	items := convertMessages("sys", []domain.ChatMessage{{Role: domain.RoleUser, Content: "u"}})
	require.Len(t, items, 2)
	require.NotNil(t, items[0].OfMessage)
	assert.Equal(t, "system", string(items[0].OfMessage.Role))
	assert.Equal(t, "user", string(items[1].OfMessage.Role))
}

func TestNew_RequiresKey(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
