package domain

import (
	"encoding/json"
	"time"
)

// WorkflowType selects the graph a workflow runs on.
type WorkflowType string

const (
	WorkflowConversational WorkflowType = "conversational"
	WorkflowAnalysis       WorkflowType = "analysis"
)

// Valid reports whether t names a known graph.
func (t WorkflowType) Valid() bool {
	return t == WorkflowConversational || t == WorkflowAnalysis
}

// WorkflowStatus is the execution status of a workflow.
type WorkflowStatus string

const (
	StatusRunning         WorkflowStatus = "running"
	StatusWaitingForInput WorkflowStatus = "waiting_for_input"
	StatusCompleted       WorkflowStatus = "completed"
	StatusFailed          WorkflowStatus = "failed"
)

// Finished reports whether no further node can execute.
func (s WorkflowStatus) Finished() bool {
	return s == StatusCompleted || s == StatusFailed
}

// HistoryEntry records one node execution. Entries are append-only.
type HistoryEntry struct {
	Node      string          `json:"node_name"`
	Input     json.RawMessage `json:"input_snapshot,omitempty"`
	Output    json.RawMessage `json:"output_snapshot,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// WorkflowState is the single mutable record threaded through a workflow execution.
type WorkflowState struct {
	ID          string          `json:"workflow_id"`
	Type        WorkflowType    `json:"workflow_type"`
	CurrentNode string          `json:"current_node"`
	Status      WorkflowStatus  `json:"status"`
	Context     WorkflowContext `json:"context"`
	History     []HistoryEntry  `json:"history"`

	// Revision is bumped by the store on every successful save and is used
	// for conditional writes.
	Revision int64 `json:"revision"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewWorkflowState creates a running state positioned at the entry node.
func NewWorkflowState(id string, t WorkflowType, entry string, now time.Time) *WorkflowState {
	return &WorkflowState{
		ID:          id,
		Type:        t,
		CurrentNode: entry,
		Status:      StatusRunning,
		Context:     NewWorkflowContext(t),
		History:     []HistoryEntry{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Snapshot returns a deep copy of the state.
func (s *WorkflowState) Snapshot() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s
	out.Context = s.Context.Clone()
	out.History = make([]HistoryEntry, len(s.History))
	copy(out.History, s.History)
	return &out
}

// Visited returns the node names in execution order.
func (s *WorkflowState) Visited() []string {
	names := make([]string, 0, len(s.History))
	for _, h := range s.History {
		names = append(names, h.Node)
	}
	return names
}

// LastError returns the error recorded by the most recent failed node, if any.
func (s *WorkflowState) LastError() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Error != "" {
			return s.History[i].Error
		}
	}
	return ""
}
