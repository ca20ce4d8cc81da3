package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/coachflow/pkg/domain"
)

// Store implements ports.ConversationStore in memory.
// Safe for concurrent use.
type Store struct {
	data map[string]*domain.ConversationSession
	mu   sync.RWMutex
}

// NewStore creates a new in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]*domain.ConversationSession),
	}
}

// Put stores a copy of the session if the stored version matches expectedVersion.
func (s *Store) Put(ctx context.Context, session *domain.ConversationSession, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.data[session.ID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return &domain.ConflictError{Kind: "session", ID: session.ID, Expected: expectedVersion, Actual: current}
	}

	session.Version = expectedVersion + 1
	// Deep copy to ensure isolation, similar to serialization
	s.data[session.ID] = session.Snapshot()
	return nil
}

// Get retrieves a copy of the session so callers can't mutate the store by pointer.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.data[sessionID]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "session", ID: sessionID}
	}
	return session.Snapshot(), nil
}

// Delete removes the session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, sessionID)
	return nil
}

// List returns stored session IDs in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]string, 0, len(s.data))
	for id := range s.data {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)
	return sessions, nil
}
