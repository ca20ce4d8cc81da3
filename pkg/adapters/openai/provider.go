// Package openai adapts the OpenAI Responses API to ports.ProviderAdapter.
package openai

import (
	"context"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// DefaultMaxTokens is used when a request does not set MaxTokens.
const DefaultMaxTokens = 1024

// Config configures the provider.
type Config struct {
	Name         string
	APIKey       string
	BaseURL      string
	Organization string
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
		return nil, fmt.Errorf("openai: api key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithHeader("OpenAI-Organization", cfg.Organization))
	}
	client := sdk.NewClient(opts...)

	name := cfg.Name
	if name == "" {
		name = "openai"
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

func (p *Provider) Health(ctx context.Context) error {
	if p.apiKey == "" {
		return domain.ErrProviderUnhealthy
	}
	return nil
}

// Infer sends one Responses request.
func (p *Provider) Infer(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResponse, error) {
	result, err := p.client.Responses.New(ctx, buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("openai generate: %w", err)
	}

	return &ports.ProviderResponse{
		Text:         result.OutputText(),
		Model:        string(result.Model),
		InputTokens:  int(result.Usage.InputTokens),
		OutputTokens: int(result.Usage.OutputTokens),
	}, nil
}

func buildParams(req ports.ProviderRequest) responses.ResponseNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(req.Model),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: convertMessages(req.SystemPrompt, req.Messages),
		},
		MaxOutputTokens: sdk.Int(int64(maxTokens)),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params
}

func convertMessages(systemPrompt string, messages []domain.ChatMessage) responses.ResponseInputParam {
	result := make(responses.ResponseInputParam, 0, len(messages)+1)
	if systemPrompt != "" {
		result = append(result, responses.ResponseInputItemParamOfMessage(systemPrompt, responses.EasyInputMessageRoleSystem))
	}
	for _, msg := range messages {
		switch msg.Role {
		case domain.RoleSystem:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleSystem))
		case domain.RoleAssistant:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleAssistant))
		default:
			result = append(result, responses.ResponseInputItemParamOfMessage(msg.Content, responses.EasyInputMessageRoleUser))
		}
	}
	return result
}
