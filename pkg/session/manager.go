package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/internal/sanitizer"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
	"github.com/aretw0/coachflow/pkg/workflow"
)

// DefaultLockTTL bounds how long a crashed replica can hold a session's distributed lock.
const DefaultLockTTL = 30 * time.Second

// Engine is the subset of the workflow Orchestrator the Manager drives.
type Engine interface {
	Start(ctx context.Context, t domain.WorkflowType, in domain.StartInput) (*workflow.Turn, error)
	Resume(ctx context.Context, t domain.WorkflowType, workflowID string, in domain.UserInput) (*workflow.Turn, error)
	Continue(ctx context.Context, t domain.WorkflowType, workflowID string) (*workflow.Turn, error)
}

// InitiateInput carries the caller identity and the topic of a new session.
type InitiateInput struct {
	Topic    string
	UserID   string
	TenantID string
	// Params are passed to every prompt of the session. Caller values win over enrichment.
	Params map[string]any
}

// Reply is the result of a call that advanced the conversation.
type Reply struct {
	Session *domain.ConversationSession
	// Outputs are the assistant messages produced by this call, in order.
	Outputs []string
	Delta   *domain.StateDiff
}

// Text joins the outputs into a single message.
func (r *Reply) Text() string {
	return strings.Join(r.Outputs, "\n\n")
}

// Done reports whether the conversation reached its terminal node and can be completed.
func (r *Reply) Done() bool {
	w := r.Session.Workflow
	return w != nil && w.Status == domain.StatusCompleted
}

// Manager orchestrates session access, ensuring safe concurrent operations.
type Manager struct {
	store  ports.ConversationStore
	engine Engine

	locks   *locks
	locker  ports.DistributedLocker
	lockTTL time.Duration

	extractor *Extractor
	archive   ports.ArchiveSink
	clock     clock.PassiveClock
	logger    *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the TTL of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithExtractor sets the final extraction pass run by Complete.
func WithExtractor(e *Extractor) Option {
	return func(m *Manager) {
		m.extractor = e
	}
}

// WithArchive sends completed sessions to sink.
func WithArchive(sink ports.ArchiveSink) Option {
	return func(m *Manager) {
		m.archive = sink
	}
}

// WithClock sets the clock used for message and session timestamps.
func WithClock(c clock.PassiveClock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Session Manager. engine must persist conversational
// workflows through a WorkflowStore built on the same store.
func NewManager(store ports.ConversationStore, engine Engine, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		engine:  engine,
		locks:   newLocks(),
		lockTTL: DefaultLockTTL,
		clock:   clock.RealClock{},
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.extractor == nil {
		m.extractor = NewExtractor(nil, WithExtractorLogger(m.logger))
	}
	return m
}

// Initiate creates a session, starts its conversational workflow and returns the opening turn.
func (m *Manager) Initiate(ctx context.Context, in InitiateInput) (*Reply, error) {
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return nil, &domain.ValidationError{Field: "topic", Reason: "topic is required"}
	}

	id := uuid.NewString()
	var reply *Reply
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		sess := domain.NewSession(id, in.UserID, in.TenantID, topic, m.clock.Now())
		if err := m.store.Put(ctx, sess, 0); err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}

		turn, err := m.engine.Start(ctx, domain.WorkflowConversational, domain.StartInput{
			WorkflowID: id,
			Topic:      topic,
			UserID:     in.UserID,
			TenantID:   in.TenantID,
			Params:     in.Params,
		})
		if err != nil {
			return err
		}

		reply, err = m.apply(ctx, id, turn, func(s *domain.ConversationSession) {
			s.Status = domain.LifecycleActive
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Session initiated", "session_id", id, "topic", topic)
	return reply, nil
}

// SendMessage appends a user message and advances the conversation.
// A paused session is resumed automatically.
func (m *Manager) SendMessage(ctx context.Context, sessionID, text string) (*Reply, error) {
	clean, err := sanitizer.Clean("message", text)
	if err != nil {
		return nil, err
	}

	var reply *Reply
	err = m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		sess, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if !sess.AcceptsMessages() {
			return &domain.InvalidStateError{
				Op:     "send_message",
				Status: string(sess.Status),
				Want:   []string{string(domain.LifecycleActive), string(domain.LifecyclePaused)},
			}
		}
		if sess.Workflow == nil || sess.Workflow.Status != domain.StatusWaitingForInput {
			status := "missing"
			if sess.Workflow != nil {
				status = string(sess.Workflow.Status)
			}
			return &domain.InvalidStateError{
				Op:     "send_message",
				Status: status,
				Want:   []string{string(domain.StatusWaitingForInput)},
			}
		}

		if sess.Status == domain.LifecyclePaused {
			m.logger.Debug("Auto-resuming paused session", "session_id", sessionID)
		}
		sess.Status = domain.LifecycleActive
		sess.PauseReason = ""
		sess.Append(domain.RoleUser, clean, m.clock.Now())
		if err := m.store.Put(ctx, sess, sess.Version); err != nil {
			return err
		}

		turn, err := m.engine.Resume(ctx, domain.WorkflowConversational, sessionID, domain.UserInput{Text: clean})
		if err != nil {
			m.recordFailure(ctx, sessionID, err)
			return err
		}

		reply, err = m.apply(ctx, sessionID, turn, nil)
		return err
	})
	return reply, err
}

// Pause moves an active session to paused. The workflow state is untouched.
func (m *Manager) Pause(ctx context.Context, sessionID, reason string) (*domain.ConversationSession, error) {
	return m.transition(ctx, sessionID, "pause", domain.LifecycleActive, func(s *domain.ConversationSession) {
		s.Status = domain.LifecyclePaused
		s.PauseReason = reason
	})
}

// Resume moves a paused session back to active. The workflow state is untouched.
func (m *Manager) Resume(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	return m.transition(ctx, sessionID, "resume", domain.LifecyclePaused, func(s *domain.ConversationSession) {
		s.Status = domain.LifecycleActive
		s.PauseReason = ""
	})
}

func (m *Manager) transition(ctx context.Context, sessionID, op string, from domain.LifecycleStatus, mutate func(*domain.ConversationSession)) (*domain.ConversationSession, error) {
	var out *domain.ConversationSession
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		sess, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != from {
			return &domain.InvalidStateError{Op: op, Status: string(sess.Status), Want: []string{string(from)}}
		}
		mutate(sess)
		sess.UpdatedAt = m.clock.Now()
		if err := m.store.Put(ctx, sess, sess.Version); err != nil {
			return err
		}
		out = sess
		return nil
	})
	if err == nil {
		m.logger.Info("Session "+op+"d", "session_id", sessionID)
	}
	return out, err
}

// Complete runs the final extraction of a session whose workflow has reached
// the completion node. Completing an already completed session returns the
// stored extraction.
func (m *Manager) Complete(ctx context.Context, sessionID string) (*domain.Extraction, error) {
	var (
		out      *domain.Extraction
		archived *domain.ConversationSession
	)
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		sess, err := m.store.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == domain.LifecycleCompleted && sess.Extraction != nil {
			out = sess.Extraction
			return nil
		}

		w := sess.Workflow
		if w == nil || w.Status != domain.StatusCompleted || w.CurrentNode != domain.NodeCompletion {
			nr := &domain.NotReadyError{SessionID: sessionID}
			if w != nil {
				nr.CurrentNode, nr.Status = w.CurrentNode, w.Status
			}
			return nr
		}
		if !sess.AcceptsMessages() && sess.Status != domain.LifecycleCompleting {
			return &domain.InvalidStateError{Op: "complete", Status: string(sess.Status)}
		}

		sess.Status = domain.LifecycleCompleting
		if err := m.store.Put(ctx, sess, sess.Version); err != nil {
			return err
		}

		extraction := m.extractor.Extract(ctx, sess)
		extraction.ExtractedAt = m.clock.Now()

		sess.Extraction = extraction
		sess.Status = domain.LifecycleCompleted
		sess.Phase = domain.PhaseConfirm
		sess.UpdatedAt = extraction.ExtractedAt
		if err := m.store.Put(ctx, sess, sess.Version); err != nil {
			return err
		}
		out = extraction
		archived = sess
		return nil
	})
	if err != nil {
		return nil, err
	}

	if archived != nil {
		m.logger.Info("Session completed", "session_id", sessionID, "values", len(out.Values))
		if m.archive != nil {
			if err := m.archive.Archive(ctx, archived); err != nil {
				m.logger.Warn("Failed to archive completed session", "session_id", sessionID, "err", err)
			}
		}
	}
	return out, nil
}

// Recover continues a workflow left in running status by an interrupted call.
func (m *Manager) Recover(ctx context.Context, sessionID string) (*Reply, error) {
	var reply *Reply
	err := m.WithLock(ctx, sessionID, func(ctx context.Context) error {
		turn, err := m.engine.Continue(ctx, domain.WorkflowConversational, sessionID)
		if err != nil {
			return err
		}
		reply, err = m.apply(ctx, sessionID, turn, nil)
		return err
	})
	return reply, err
}

// Get returns the full session, including its workflow state and message log.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	return m.store.Get(ctx, sessionID)
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// apply reloads the session after the engine saved its workflow, appends the
// turn's outputs to the message log and mirrors the coaching phase.
// recordFailure closes a failed turn in the message log so the user message
// that started it is followed by a system entry instead of no reply.
func (m *Manager) recordFailure(ctx context.Context, sessionID string, cause error) {
	ctx = context.WithoutCancel(ctx)
	sess, err := m.store.Get(ctx, sessionID)
	if err == nil {
		sess.Append(domain.RoleSystem, "turn failed: "+domain.ErrorCode(cause), m.clock.Now())
		err = m.store.Put(ctx, sess, sess.Version)
	}
	if err != nil {
		m.logger.Warn("Failed to record turn failure", "session_id", sessionID, "err", err)
	}
}

func (m *Manager) apply(ctx context.Context, sessionID string, turn *workflow.Turn, mutate func(*domain.ConversationSession)) (*Reply, error) {
	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	for _, out := range turn.Outputs {
		sess.Append(domain.RoleAssistant, out, now)
	}
	if sess.Workflow != nil {
		if c := sess.Workflow.Context.Conversation; c != nil && c.Phase != "" {
			sess.Phase = c.Phase
		}
	}
	if mutate != nil {
		mutate(sess)
	}
	sess.UpdatedAt = now

	if err := m.store.Put(ctx, sess, sess.Version); err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return nil, fmt.Errorf("session %s was modified concurrently: %w", sessionID, err)
		}
		return nil, err
	}
	return &Reply{Session: sess, Outputs: turn.Outputs, Delta: turn.Delta}, nil
}
