// Package anthropic adapts the Anthropic Messages API to ports.ProviderAdapter.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// DefaultMaxTokens is used when a request does not set MaxTokens.
const DefaultMaxTokens = 1024

// Config configures the provider.
type Config struct {
	Name    string
	APIKey  string
	BaseURL string
	// Models is the capability set. Empty accepts any model.
	Models     []string
	MaxRetries int
}

// Provider implements ports.ProviderAdapter.
type Provider struct {
	client *sdk.Client
	name   string
	apiKey string
	models map[string]bool
}

// New creates a provider from cfg.
func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := sdk.NewClient(opts...)

	name := cfg.Name
	if name == "" {
		name = "anthropic"
	}
	p := &Provider{client: &client, name: name, apiKey: cfg.APIKey}
	if len(cfg.Models) > 0 {
		p.models = make(map[string]bool, len(cfg.Models))
		for _, m := range cfg.Models {
			p.models[m] = true
		}
	}
	return p, nil
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Supports(model string) bool {
	return p.models == nil || p.models[model]
}

// Health reports the provider healthy when it has credentials; reachability
// is observed through failed attempts.
func (p *Provider) Health(ctx context.Context) error {
	if p.apiKey == "" {
		return domain.ErrProviderUnhealthy
	}
	return nil
}

// Infer sends one Messages request.
func (p *Provider) Infer(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResponse, error) {
	msg, err := p.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic generate: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(sdk.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}

	return &ports.ProviderResponse{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}, nil
}

func buildParams(req ports.ProviderRequest) sdk.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  convertMessages(req.Messages),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params
}

// convertMessages maps the transcript onto alternating user/assistant turns.
// The API requires the first turn to come from the user, so a transcript
// opening with an assistant greeting gets a placeholder user turn.
func convertMessages(messages []domain.ChatMessage) []sdk.MessageParam {
	result := make([]sdk.MessageParam, 0, len(messages)+1)
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleAssistant:
			if len(result) == 0 {
				result = append(result, sdk.NewUserMessage(sdk.NewTextBlock("Hello.")))
			}
			result = append(result, sdk.NewAssistantMessage(sdk.NewTextBlock(msg.Content)))
		default:
			result = append(result, sdk.NewUserMessage(sdk.NewTextBlock(msg.Content)))
		}
	}
	if len(result) == 0 {
		result = append(result, sdk.NewUserMessage(sdk.NewTextBlock("Begin.")))
	}
	return result
}
