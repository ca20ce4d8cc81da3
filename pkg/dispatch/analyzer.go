package dispatch

import (
	"context"
	"log/slog"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/workflow"
)

// Starter starts a workflow and runs it until it pauses or ends.
type Starter interface {
	Start(ctx context.Context, t domain.WorkflowType, in domain.StartInput) (*workflow.Turn, error)
}

// AnalyzeInput is a single-shot analysis request.
type AnalyzeInput struct {
	Topic    string
	Input    string
	UserID   string
	TenantID string
	Params   map[string]any
}

// Analysis is the outcome of a single-shot request.
type Analysis struct {
	WorkflowID string                 `json:"workflow_id"`
	Result     *domain.AnalysisResult `json:"result"`
	Provider   string                 `json:"provider,omitempty"`
	Model      string                 `json:"model,omitempty"`
	Usage      domain.Usage           `json:"usage"`
}

// Analyzer runs the analysis graph start-to-terminal within one call.
type Analyzer struct {
	engine Starter
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer on top of the orchestrator.
func NewAnalyzer(engine Starter, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Analyzer{engine: engine, logger: logger}
}

// Analyze runs one analysis. Input rejected by the graph's validation step is
// returned as *domain.ValidationError.
func (a *Analyzer) Analyze(ctx context.Context, in AnalyzeInput) (*Analysis, error) {
	turn, err := a.engine.Start(ctx, domain.WorkflowAnalysis, domain.StartInput{
		Topic:    in.Topic,
		UserID:   in.UserID,
		TenantID: in.TenantID,
		Text:     in.Input,
		Params:   in.Params,
	})
	if err != nil {
		return nil, err
	}

	ac := turn.State.Context.Analysis
	if ac == nil {
		return nil, &domain.InvalidStateError{Op: "analyze", Status: string(turn.State.Status)}
	}
	if ac.Error != nil {
		a.logger.Debug("Analysis input rejected", "topic", in.Topic, "field", ac.Error.Field)
		return nil, &domain.ValidationError{Field: ac.Error.Field, Reason: ac.Error.Message}
	}
	if turn.State.Status != domain.StatusCompleted || ac.Result == nil {
		return nil, &domain.InvalidStateError{
			Op:     "analyze",
			Status: string(turn.State.Status),
			Want:   []string{string(domain.StatusCompleted)},
		}
	}

	return &Analysis{
		WorkflowID: turn.State.ID,
		Result:     ac.Result,
		Provider:   ac.Provider,
		Model:      ac.Model,
		Usage:      ac.Usage,
	}, nil
}
