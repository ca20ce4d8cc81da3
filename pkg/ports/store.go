package ports

import (
	"context"

	"github.com/aretw0/coachflow/pkg/domain"
)

// ConversationStore persists one record per session, keyed by session ID.
// The record embeds the session's WorkflowState.
type ConversationStore interface {
	// Get retrieves the session.
	// Returns an error matching domain.ErrSessionNotFound if the session does not exist.
	Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error)

	// Put writes the session only if the stored version equals expectedVersion
	// (0 means the record must not exist yet). On success session.Version is set
	// to expectedVersion+1. A mismatch returns *domain.ConflictError.
	Put(ctx context.Context, session *domain.ConversationSession, expectedVersion int64) error

	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of the stored sessions.
	List(ctx context.Context) ([]string, error)
}

// WorkflowStore persists workflow states for the orchestrator.
type WorkflowStore interface {
	// LoadWorkflow returns an error matching domain.ErrSessionNotFound if absent.
	LoadWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowState, error)

	// SaveWorkflow writes the state only if the stored revision equals
	// state.Revision (a missing record has revision 0). On success
	// state.Revision is incremented.
	SaveWorkflow(ctx context.Context, state *domain.WorkflowState) error
}

// ArchiveSink receives completed sessions for audit and downstream extraction.
type ArchiveSink interface {
	Archive(ctx context.Context, session *domain.ConversationSession) error
}
