package workflow

import (
	"context"
	"log/slog"

	"github.com/aretw0/coachflow/pkg/domain"
)

// Inferer is the provider-neutral inference entry point used by nodes.
type Inferer interface {
	Infer(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResult, error)
}

// TemplateResolver resolves prompt templates by topic, phase and version.
type TemplateResolver interface {
	Resolve(ctx context.Context, topic, phase string, version int) (*domain.PromptTemplate, error)
}

// ParamEnricher merges supplementary business data into prompt parameters.
// It never fails: callers always get at least the base parameters back.
type ParamEnricher interface {
	Enrich(ctx context.Context, base map[string]any, userID, tenantID string) map[string]any
}

// Services are the collaborators handed to every node execution.
type Services struct {
	Inference Inferer
	Templates TemplateResolver
	Enricher  ParamEnricher
	Logger    *slog.Logger
}

// Result is what a node returns to the orchestrator.
type Result struct {
	// Context is the updated workflow context.
	Context domain.WorkflowContext
	// Next overrides edge resolution when set. It must name a node of the graph.
	Next string
	// Pause asks the orchestrator to stop and wait for user input after this node.
	Pause bool
	// Output is user-facing text emitted by the node, if any.
	Output string
}

// Node is one unit of work of a graph. Run receives a private copy of the
// context and must not call external services more than once.
type Node interface {
	Name() string
	Run(ctx context.Context, wc domain.WorkflowContext, svc Services) (Result, error)
}

// NodeFunc adapts a function to the Node interface.
type NodeFunc struct {
	ID string
	Fn func(ctx context.Context, wc domain.WorkflowContext, svc Services) (Result, error)
}

func (n NodeFunc) Name() string { return n.ID }

func (n NodeFunc) Run(ctx context.Context, wc domain.WorkflowContext, svc Services) (Result, error) {
	return n.Fn(ctx, wc, svc)
}
