package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Phase is the coaching sub-stage of a conversation.
type Phase string

const (
	PhaseDiscovery      Phase = "discovery"
	PhaseDisambiguation Phase = "disambiguation"
	PhasePrioritize     Phase = "prioritize"
	PhaseValidate       Phase = "validate"
	PhaseBehaviors      Phase = "behaviors"
	PhaseConfirm        Phase = "confirm"
)

// Phases lists every phase in coaching order.
var Phases = []Phase{
	PhaseDiscovery,
	PhaseDisambiguation,
	PhasePrioritize,
	PhaseValidate,
	PhaseBehaviors,
	PhaseConfirm,
}

// LifecycleStatus is the externally visible status of a conversation session.
type LifecycleStatus string

const (
	LifecycleNew        LifecycleStatus = "new"
	LifecycleActive     LifecycleStatus = "active"
	LifecyclePaused     LifecycleStatus = "paused"
	LifecycleCompleting LifecycleStatus = "completing"
	LifecycleCompleted  LifecycleStatus = "completed"
)

// Message is an entry of the session message log.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfirmedValue is one entry of the final extraction.
type ConfirmedValue struct {
	Label      string   `json:"label"`
	Definition string   `json:"definition"`
	Behaviors  []string `json:"behaviors"`
	Confidence float64  `json:"confidence"`
}

// Extraction is the structured summary produced when a session completes.
type Extraction struct {
	SessionID   string           `json:"session_id"`
	Topic       string           `json:"topic"`
	Values      []ConfirmedValue `json:"values"`
	Summary     string           `json:"summary"`
	Provider    string           `json:"provider,omitempty"`
	Model       string           `json:"model,omitempty"`
	ExtractedAt time.Time        `json:"extracted_at"`
}

// ConversationSession is the durable, user-facing identity of a multi-turn conversation.
// It owns exactly one WorkflowState, embedded in the same persisted record.
type ConversationSession struct {
	ID       string          `json:"session_id"`
	UserID   string          `json:"user_id"`
	TenantID string          `json:"tenant_id"`
	Topic    string          `json:"topic"`
	Phase    Phase           `json:"phase"`
	Status   LifecycleStatus `json:"lifecycle_status"`

	PauseReason string    `json:"pause_reason,omitempty"`
	Messages    []Message `json:"message_log"`

	Workflow   *WorkflowState `json:"workflow,omitempty"`
	Extraction *Extraction    `json:"extraction,omitempty"`

	// Sealed holds the encrypted payload of a session stored through the
	// encryption middleware. It is empty on decrypted sessions.
	Sealed string `json:"sealed,omitempty"`

	// Version is the optimistic concurrency token of the persisted record.
	Version int64 `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates a session in the "new" lifecycle status.
func NewSession(id, userID, tenantID, topic string, now time.Time) *ConversationSession {
	return &ConversationSession{
		ID:        id,
		UserID:    userID,
		TenantID:  tenantID,
		Topic:     topic,
		Phase:     PhaseDiscovery,
		Status:    LifecycleNew,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Snapshot returns a deep copy of the session.
func (s *ConversationSession) Snapshot() *ConversationSession {
	if s == nil {
		return nil
	}
	out := *s
	out.Messages = append([]Message(nil), s.Messages...)
	out.Workflow = s.Workflow.Snapshot()
	if s.Extraction != nil {
		e := *s.Extraction
		e.Values = append([]ConfirmedValue(nil), s.Extraction.Values...)
		out.Extraction = &e
	}
	return &out
}

// Append adds a message to the log.
func (s *ConversationSession) Append(role Role, content string, at time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: at})
	s.UpdatedAt = at
}

// AcceptsMessages reports whether send_message is valid in the current status.
func (s *ConversationSession) AcceptsMessages() bool {
	return s.Status == LifecycleActive || s.Status == LifecyclePaused
}
