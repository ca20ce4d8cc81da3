package ports

import (
	"context"

	"github.com/aretw0/coachflow/pkg/domain"
)

// ProviderRequest is the input of a single vendor call.
type ProviderRequest struct {
	Model        string
	SystemPrompt string
	Messages     []domain.ChatMessage
	Temperature  float64
	MaxTokens    int
}

// ProviderResponse is the raw output of a single vendor call.
type ProviderResponse struct {
	Text         string
	Model        string
	InputTokens  int
	OutputTokens int
}

// ProviderAdapter wraps one vendor's inference API.
type ProviderAdapter interface {
	Name() string
	Infer(ctx context.Context, req ProviderRequest) (*ProviderResponse, error)
	Supports(model string) bool
	// Health returns nil when the provider is reachable.
	Health(ctx context.Context) error
}
