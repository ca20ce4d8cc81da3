package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

// WorkflowStore persists conversational workflow states inside their session record.
// The workflow ID is the session ID. Saving requires the session to exist.
type WorkflowStore struct {
	sessions ports.ConversationStore
}

// NewWorkflowStore adapts a ConversationStore to the orchestrator's WorkflowStore port.
func NewWorkflowStore(sessions ports.ConversationStore) *WorkflowStore {
	return &WorkflowStore{sessions: sessions}
}

// LoadWorkflow returns the workflow embedded in the session record.
func (s *WorkflowStore) LoadWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowState, error) {
	sess, err := s.sessions.Get(ctx, workflowID)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, &domain.NotFoundError{Kind: "workflow", ID: workflowID}
		}
		return nil, err
	}
	if sess.Workflow == nil {
		return nil, &domain.NotFoundError{Kind: "workflow", ID: workflowID}
	}
	return sess.Workflow, nil
}

// SaveWorkflow embeds state into its session with a conditional write on both
// the workflow revision and the session version.
func (s *WorkflowStore) SaveWorkflow(ctx context.Context, state *domain.WorkflowState) error {
	sess, err := s.sessions.Get(ctx, state.ID)
	if err != nil {
		return fmt.Errorf("failed to load session for workflow %s: %w", state.ID, err)
	}

	var current int64
	if sess.Workflow != nil {
		current = sess.Workflow.Revision
	}
	if current != state.Revision {
		return &domain.ConflictError{Kind: "workflow", ID: state.ID, Expected: state.Revision, Actual: current}
	}

	next := state.Snapshot()
	next.Revision++
	sess.Workflow = next
	sess.UpdatedAt = state.UpdatedAt
	if err := s.sessions.Put(ctx, sess, sess.Version); err != nil {
		return err
	}
	state.Revision = next.Revision
	return nil
}
