package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/aretw0/coachflow/pkg/domain"
)

// WorkflowStore implements ports.WorkflowStore in memory.
// It backs workflows that are not owned by a session, such as single-shot analyses.
// With a capacity or TTL the oldest states are evicted.
type WorkflowStore struct {
	data *expirable.LRU[string, *domain.WorkflowState]
	mu   sync.Mutex
}

// WorkflowStoreOption configures a WorkflowStore.
type WorkflowStoreOption func(*workflowStoreConfig)

type workflowStoreConfig struct {
	capacity int
	ttl      time.Duration
}

// WithCapacity keeps at most n workflows, evicting the least recently used.
// Zero means unbounded.
func WithCapacity(n int) WorkflowStoreOption {
	return func(c *workflowStoreConfig) {
		c.capacity = n
	}
}

// WithRetention expires workflows d after their last save. Zero keeps them.
func WithRetention(d time.Duration) WorkflowStoreOption {
	return func(c *workflowStoreConfig) {
		c.ttl = d
	}
}

// NewWorkflowStore creates an empty workflow store.
func NewWorkflowStore(opts ...WorkflowStoreOption) *WorkflowStore {
	var cfg workflowStoreConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &WorkflowStore{data: expirable.NewLRU[string, *domain.WorkflowState](cfg.capacity, nil, cfg.ttl)}
}

// LoadWorkflow returns a copy of the stored state.
func (s *WorkflowStore) LoadWorkflow(ctx context.Context, workflowID string) (*domain.WorkflowState, error) {
	state, ok := s.data.Get(workflowID)
	if !ok {
		return nil, &domain.NotFoundError{Kind: "workflow", ID: workflowID}
	}
	return state.Snapshot(), nil
}

// SaveWorkflow stores a copy of state if its revision matches the stored one.
func (s *WorkflowStore) SaveWorkflow(ctx context.Context, state *domain.WorkflowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.data.Peek(state.ID); ok {
		current = existing.Revision
	}
	if current != state.Revision {
		return &domain.ConflictError{Kind: "workflow", ID: state.ID, Expected: state.Revision, Actual: current}
	}

	state.Revision++
	s.data.Add(state.ID, state.Snapshot())
	return nil
}

// Len returns the number of stored workflows.
func (s *WorkflowStore) Len() int {
	return s.data.Len()
}
