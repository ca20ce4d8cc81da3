package memory

import (
	"context"
	"sync"

	"github.com/aretw0/coachflow/pkg/domain"
)

// Archive is an ArchiveSink that keeps completed sessions in memory.
type Archive struct {
	mu       sync.Mutex
	sessions []*domain.ConversationSession
}

// NewArchive creates an empty archive.
func NewArchive() *Archive {
	return &Archive{}
}

// Archive records a copy of the session.
func (a *Archive) Archive(ctx context.Context, session *domain.ConversationSession) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions = append(a.sessions, session.Snapshot())
	return nil
}

// Sessions returns the archived sessions in arrival order.
func (a *Archive) Sessions() []*domain.ConversationSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*domain.ConversationSession(nil), a.sessions...)
}
