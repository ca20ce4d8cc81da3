package domain

import (
	"bytes"
	"encoding/json"
)

// StateDiff represents the changes between two workflow states.
// It is designed to be serialized to JSON for partial updates on the client.
type StateDiff struct {
	WorkflowID  string          `json:"workflow_id"`
	CurrentNode *string         `json:"current_node,omitempty"`
	Status      *WorkflowStatus `json:"status,omitempty"`

	// Context contains only changed, added or deleted context fields.
	// Deleted fields are present with a JSON null.
	Context map[string]json.RawMessage `json:"context,omitempty"`

	// History contains entries appended since the old state.
	History []HistoryEntry `json:"history,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, it returns a diff representing the entire newState.
func Diff(oldState, newState *WorkflowState) *StateDiff {
	if newState == nil {
		return nil
	}

	diff := &StateDiff{WorkflowID: newState.ID}

	if oldState == nil || oldState.CurrentNode != newState.CurrentNode {
		diff.CurrentNode = &newState.CurrentNode
	}
	if oldState == nil || oldState.Status != newState.Status {
		diff.Status = &newState.Status
	}

	var oldCtx *WorkflowContext
	var oldLen int
	if oldState != nil {
		oldCtx = &oldState.Context
		oldLen = len(oldState.History)
	}
	diff.Context = ContextDelta(oldCtx, newState.Context)

	if len(newState.History) > oldLen {
		diff.History = newState.History[oldLen:]
	}

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// ContextDelta compares the JSON fields of the active sub-context.
// The result is deterministic: identical inputs produce byte-identical JSON.
func ContextDelta(old *WorkflowContext, new WorkflowContext) map[string]json.RawMessage {
	newFields := contextFields(new)
	oldFields := map[string]json.RawMessage{}
	if old != nil {
		oldFields = contextFields(*old)
	}

	delta := make(map[string]json.RawMessage)
	for k, v := range newFields {
		if prev, ok := oldFields[k]; !ok || !bytes.Equal(prev, v) {
			delta[k] = v
		}
	}
	for k := range oldFields {
		if _, ok := newFields[k]; !ok {
			delta[k] = json.RawMessage("null")
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}

func contextFields(wc WorkflowContext) map[string]json.RawMessage {
	var active any
	switch {
	case wc.Conversation != nil:
		active = wc.Conversation
	case wc.Analysis != nil:
		active = wc.Analysis
	default:
		return map[string]json.RawMessage{}
	}
	raw, err := json.Marshal(active)
	if err != nil {
		return map[string]json.RawMessage{}
	}
	fields := map[string]json.RawMessage{}
	_ = json.Unmarshal(raw, &fields)
	return fields
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return d.CurrentNode == nil &&
		d.Status == nil &&
		len(d.Context) == 0 &&
		len(d.History) == 0
}
