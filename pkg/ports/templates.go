package ports

import (
	"context"

	"github.com/aretw0/coachflow/pkg/domain"
)

// TemplateStore is the read side of the prompt template repository.
// Versions are immutable once created.
type TemplateStore interface {
	// Get returns the template for (topic, phase, version). domain.LatestVersion
	// resolves to the version flagged latest. A miss returns *domain.TemplateNotFoundError.
	Get(ctx context.Context, topic, phase string, version int) (*domain.PromptTemplate, error)

	// ListVersions returns version metadata in ascending order.
	ListVersions(ctx context.Context, topic, phase string) ([]domain.TemplateVersion, error)

	// List returns every stored template.
	List(ctx context.Context) ([]domain.PromptTemplate, error)
}

// TemplatePublisher creates new template versions.
type TemplatePublisher interface {
	// Publish stores tpl as the next version of its (topic, phase) and flags it
	// latest, unsetting the previous latest in the same atomic step.
	Publish(ctx context.Context, tpl *domain.PromptTemplate) (*domain.PromptTemplate, error)
}

// Watchable defines an interface for template sources that can notify about backend changes.
type Watchable interface {
	// Watch returns a channel that receives the identifier of every changed document.
	Watch(ctx context.Context) (<-chan string, error)
}

// BusinessDataClient fetches supplementary business facts for prompt enrichment.
// Implementations may time out or return a not-found error; callers treat both as optional.
type BusinessDataClient interface {
	GetContext(ctx context.Context, userID, tenantID string) (*domain.BusinessContext, error)
}
