package nodes

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/templates"
	"github.com/aretw0/coachflow/pkg/workflow"
)

// PhaseDefault is the template phase used when a topic has no template for the current phase.
const PhaseDefault = "default"

// Template phases of the non-coaching steps.
const (
	PhaseGreeting   = "greeting"
	PhaseCompletion = "completion"
	PhaseAnalysis   = "analysis"
)

// Template metadata keys that override inference settings.
const (
	MetaProvider    = "provider"
	MetaModel       = "model"
	MetaTemperature = "temperature"
)

// Config tunes the node library.
type Config struct {
	Policy       Policy
	ProviderHint string
	ModelHint    string
	Temperature  float64
	MaxTokens    int
	// MinInputLength is the minimum number of characters of an analysis input.
	MinInputLength int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Policy:         DefaultPolicy(),
		Temperature:    0.7,
		MaxTokens:      1024,
		MinInputLength: 5,
	}
}

// Register binds both built-in graphs with their node implementations.
func Register(reg *workflow.Registry, cfg Config) error {
	if err := reg.Register(workflow.ConversationalGraph(), Conversational(cfg)...); err != nil {
		return err
	}
	return reg.Register(workflow.AnalysisGraph(), Analysis(cfg)...)
}

// resolve looks up the latest template of (topic, phase), falling back to the
// topic's default template. The original miss is returned when both are absent.
func resolve(ctx context.Context, svc workflow.Services, topic, phase string) (*domain.PromptTemplate, error) {
	if svc.Templates == nil {
		return nil, &domain.TemplateNotFoundError{Topic: topic, Phase: phase}
	}
	tpl, err := svc.Templates.Resolve(ctx, topic, phase, domain.LatestVersion)
	var nf *domain.TemplateNotFoundError
	if errors.As(err, &nf) && phase != PhaseDefault {
		if fallback, ferr := svc.Templates.Resolve(ctx, topic, PhaseDefault, domain.LatestVersion); ferr == nil {
			return fallback, nil
		}
	}
	return tpl, err
}

// optional looks up a template whose absence is not an error.
func optional(ctx context.Context, svc workflow.Services, topic, phase string) *domain.PromptTemplate {
	if svc.Templates == nil {
		return nil
	}
	tpl, err := svc.Templates.Resolve(ctx, topic, phase, domain.LatestVersion)
	if err != nil {
		var nf *domain.TemplateNotFoundError
		if !errors.As(err, &nf) {
			svc.Logger.Warn("optional template lookup failed", "topic", topic, "phase", phase, "err", err)
		}
		return nil
	}
	return tpl
}

func enrich(ctx context.Context, svc workflow.Services, base map[string]any, userID, tenantID string) map[string]any {
	if svc.Enricher == nil {
		out := maps.Clone(base)
		if out == nil {
			out = make(map[string]any)
		}
		return out
	}
	return svc.Enricher.Enrich(ctx, base, userID, tenantID)
}

func render(svc workflow.Services, tpl *domain.PromptTemplate, params map[string]any) templates.Rendered {
	out := templates.Render(tpl, params)
	if len(out.Unfilled) > 0 {
		svc.Logger.Warn("template rendered with unfilled placeholders",
			"template", tpl.Key(),
			"unfilled", out.Unfilled,
		)
	}
	return out
}

// fill substitutes placeholders of a built-in prompt.
func fill(text string, params map[string]any) string {
	return templates.Render(&domain.PromptTemplate{SystemPrompt: text}, params).System
}

// request builds an inference request, letting template metadata override
// provider, model and temperature.
func (cfg Config) request(tpl *domain.PromptTemplate, system string, msgs []domain.ChatMessage) domain.InferenceRequest {
	req := domain.InferenceRequest{
		ProviderHint: cfg.ProviderHint,
		ModelHint:    cfg.ModelHint,
		SystemPrompt: system,
		Messages:     msgs,
		Temperature:  cfg.Temperature,
		MaxTokens:    cfg.MaxTokens,
	}
	if tpl == nil {
		return req
	}
	if v := tpl.Metadata[MetaProvider]; v != "" {
		req.ProviderHint = v
	}
	if v := tpl.Metadata[MetaModel]; v != "" {
		req.ModelHint = v
	}
	if v, err := strconv.ParseFloat(tpl.Metadata[MetaTemperature], 64); err == nil {
		req.Temperature = v
	}
	return req
}

func infer(ctx context.Context, svc workflow.Services, req domain.InferenceRequest) (*domain.InferenceResult, error) {
	if svc.Inference == nil {
		return nil, errors.New("no inference service configured")
	}
	return svc.Inference.Infer(ctx, req)
}

func missingContext(node string) error {
	return fmt.Errorf("node %s: workflow context has no matching schema", node)
}
