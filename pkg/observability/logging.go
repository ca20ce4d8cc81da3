package observability

import (
	"context"
	"log/slog"

	"github.com/aretw0/coachflow/pkg/domain"
)

// LoggingHooks returns lifecycle hooks that write one structured line per event.
func LoggingHooks(logger *slog.Logger) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(ctx context.Context, e *domain.NodeEvent) {
			logger.DebugContext(ctx, "node_enter",
				"workflow_id", e.WorkflowID,
				"node", e.Node,
				"kind", e.Kind,
			)
		},
		OnNodeLeave: func(ctx context.Context, e *domain.NodeEvent) {
			if e.Err != nil {
				logger.WarnContext(ctx, "node_leave",
					"workflow_id", e.WorkflowID,
					"node", e.Node,
					"duration", e.Duration,
					"err", e.Err,
				)
				return
			}
			logger.DebugContext(ctx, "node_leave",
				"workflow_id", e.WorkflowID,
				"node", e.Node,
				"duration", e.Duration,
			)
		},
		OnProviderAttempt: func(ctx context.Context, e *domain.ProviderEvent) {
			attrs := []any{
				"workflow_id", e.WorkflowID,
				"provider", e.Provider,
				"model", e.Model,
				"duration", e.Duration,
			}
			switch {
			case e.Skipped:
				logger.DebugContext(ctx, "provider_skipped", append(attrs, "reason", e.Err)...)
			case e.Err != nil:
				logger.WarnContext(ctx, "provider_failed", append(attrs, "err", e.Err)...)
			default:
				logger.DebugContext(ctx, "provider_ok", append(attrs,
					"input_tokens", e.InputTokens,
					"output_tokens", e.OutputTokens,
					"cost", e.Cost,
				)...)
			}
		},
		OnWorkflowPaused: func(ctx context.Context, e *domain.WorkflowEvent) {
			logger.InfoContext(ctx, "workflow_paused", "workflow_id", e.WorkflowID, "node", e.Node)
		},
		OnWorkflowDone: func(ctx context.Context, e *domain.WorkflowEvent) {
			level := slog.LevelInfo
			if e.Status == domain.StatusFailed {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "workflow_done",
				"workflow_id", e.WorkflowID,
				"workflow_type", e.WorkflowType,
				"status", e.Status,
				"node", e.Node,
			)
		},
	}
}
