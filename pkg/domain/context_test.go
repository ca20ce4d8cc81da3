package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowContext_MergeReadySignal(t *testing.T) {
	tests := []struct {
		input UserInput
		ready bool
	}{
		{UserInput{Text: "I value honesty"}, false},
		{UserInput{Text: "Ready!"}, true},
		{UserInput{Text: "  done "}, true},
		{UserInput{Text: "not done yet"}, false},
		{UserInput{Text: "anything", Ready: true}, true},
	}

	for _, tt := range tests {
		wc := NewWorkflowContext(WorkflowConversational)
		wc.Conversation.PendingQuestion = "q?"
		wc.Merge(tt.input)

		c := wc.Conversation
		assert.Equal(t, tt.ready, c.Ready, "input %q", tt.input.Text)
		assert.Equal(t, tt.input.Text, c.LastInput)
		assert.Empty(t, c.PendingQuestion)
		require.Len(t, c.Turns, 1)
		assert.Equal(t, RoleUser, c.Turns[0].Role)
	}
}

func TestWorkflowContext_CloneIsDeep(t *testing.T) {
	wc := NewWorkflowContext(WorkflowConversational)
	wc.Seed(StartInput{Topic: "values", Params: map[string]any{"k": "v"}})
	wc.Conversation.Turns = []Turn{{Role: RoleAssistant, Content: "hi"}}

	clone := wc.Clone()
	clone.Conversation.Params["k"] = "changed"
	clone.Conversation.Turns[0].Content = "changed"

	assert.Equal(t, "v", wc.Conversation.Params["k"])
	assert.Equal(t, "hi", wc.Conversation.Turns[0].Content)
}

func TestWorkflowContext_SeedAnalysis(t *testing.T) {
	wc := NewWorkflowContext(WorkflowAnalysis)
	wc.Seed(StartInput{Topic: "swot", Text: "my business sells shoes", UserID: "u1"})

	require.NotNil(t, wc.Analysis)
	assert.Nil(t, wc.Conversation)
	assert.Equal(t, "my business sells shoes", wc.Analysis.Input)
	assert.Equal(t, "u1", wc.Analysis.UserID)
}
