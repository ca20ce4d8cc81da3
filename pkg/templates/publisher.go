package templates

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// Publisher creates template versions and emits the cache invalidation signal.
type Publisher struct {
	store    ports.TemplatePublisher
	resolver *Resolver
	logger   *slog.Logger
}

// NewPublisher creates a publisher. resolver may be nil when no cache is in use.
func NewPublisher(store ports.TemplatePublisher, resolver *Resolver, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{store: store, resolver: resolver, logger: logger}
}

// Publish validates tpl and stores it as the new latest version of its topic and phase.
// DeclaredParameters default to the placeholders found in the prompts.
func (p *Publisher) Publish(ctx context.Context, tpl domain.PromptTemplate) (*domain.PromptTemplate, error) {
	if tpl.Topic == "" {
		return nil, &domain.ValidationError{Field: "topic", Reason: "must not be empty"}
	}
	if tpl.Phase == "" {
		return nil, &domain.ValidationError{Field: "phase", Reason: "must not be empty"}
	}
	if tpl.SystemPrompt == "" && tpl.UserPromptPattern == "" {
		return nil, &domain.ValidationError{Field: "system_prompt", Reason: "template has no prompt text"}
	}
	if len(tpl.DeclaredParameters) == 0 {
		tpl.DeclaredParameters = Placeholders(tpl.SystemPrompt + "\n" + tpl.UserPromptPattern)
	}

	published, err := p.store.Publish(ctx, &tpl)
	if err != nil {
		return nil, fmt.Errorf("failed to publish %s/%s: %w", tpl.Topic, tpl.Phase, err)
	}
	if p.resolver != nil {
		p.resolver.Invalidate(tpl.Topic, tpl.Phase)
	}

	p.logger.Info("template published", "key", published.Key())
	return published, nil
}
