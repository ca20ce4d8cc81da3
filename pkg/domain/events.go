package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventNodeEnter       EventType = "node_enter"
	EventNodeLeave       EventType = "node_leave"
	EventProviderAttempt EventType = "provider_attempt"
	EventWorkflowPaused  EventType = "workflow_paused"
	EventWorkflowDone    EventType = "workflow_done"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id,omitempty"`
}

// NodeEvent represents entry to or exit from a node.
type NodeEvent struct {
	EventBase
	WorkflowType WorkflowType  `json:"workflow_type"`
	Node         string        `json:"node"`
	Kind         NodeKind      `json:"kind"`
	Duration     time.Duration `json:"duration,omitempty"`
	Err          error         `json:"-"`
}

// ProviderEvent represents one provider attempt inside a fallback chain.
type ProviderEvent struct {
	EventBase
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	Duration     time.Duration `json:"duration"`
	Err          error         `json:"-"`
	Skipped      bool          `json:"skipped,omitempty"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
	Cost         float64       `json:"cost,omitempty"`
}

// WorkflowEvent is emitted when a workflow pauses or finishes.
type WorkflowEvent struct {
	EventBase
	WorkflowType WorkflowType   `json:"workflow_type"`
	Status       WorkflowStatus `json:"status"`
	Node         string         `json:"node"`
}

// LifecycleHooks defines callbacks for engine observability.
// Every field is optional.
type LifecycleHooks struct {
	OnNodeEnter       func(context.Context, *NodeEvent)
	OnNodeLeave       func(context.Context, *NodeEvent)
	OnProviderAttempt func(context.Context, *ProviderEvent)
	OnWorkflowPaused  func(context.Context, *WorkflowEvent)
	OnWorkflowDone    func(context.Context, *WorkflowEvent)
}

// Merge returns hooks that call h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnNodeEnter:       chain(h.OnNodeEnter, other.OnNodeEnter),
		OnNodeLeave:       chain(h.OnNodeLeave, other.OnNodeLeave),
		OnProviderAttempt: chain(h.OnProviderAttempt, other.OnProviderAttempt),
		OnWorkflowPaused:  chain(h.OnWorkflowPaused, other.OnWorkflowPaused),
		OnWorkflowDone:    chain(h.OnWorkflowDone, other.OnWorkflowDone),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
