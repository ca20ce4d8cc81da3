// Package gemini adapts the Google Gen AI SDK to ports.ProviderAdapter.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

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
	Models []string
}

// Provider implements ports.ProviderAdapter.
type Provider struct {
	client *genai.Client
	name   string
	apiKey string
	models map[string]bool
}

// New creates a provider from cfg.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = "gemini"
	}
	p := &Provider{client: client, name: name, apiKey: cfg.APIKey}
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

// Infer sends one GenerateContent request.
func (p *Provider) Infer(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResponse, error) {
	contents, config := buildRequest(req)

	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	out := &ports.ProviderResponse{
		Text:  resp.Text(),
		Model: req.Model,
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if u := resp.UsageMetadata; u != nil {
		out.InputTokens = int(u.PromptTokenCount)
		out.OutputTokens = int(u.CandidatesTokenCount)
	}
	return out, nil
}

func buildRequest(req ports.ProviderRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(req.Temperature))
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if msg.Role == domain.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents, config
}
