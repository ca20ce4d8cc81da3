package domain

import (
	"maps"
	"strings"
)

// ContextSchemaVersion is bumped whenever a field of a workflow context changes meaning.
const ContextSchemaVersion = 1

// WorkflowContext is the typed union of per-workflow contexts.
// Exactly one of Conversation or Analysis is set, matching the workflow type.
type WorkflowContext struct {
	SchemaVersion int                  `json:"schema_version"`
	Conversation  *ConversationContext `json:"conversation,omitempty"`
	Analysis      *AnalysisContext     `json:"analysis,omitempty"`
}

// NewWorkflowContext returns an empty context for the given workflow type.
func NewWorkflowContext(t WorkflowType) WorkflowContext {
	wc := WorkflowContext{SchemaVersion: ContextSchemaVersion}
	switch t {
	case WorkflowConversational:
		wc.Conversation = &ConversationContext{Phase: PhaseDiscovery}
	case WorkflowAnalysis:
		wc.Analysis = &AnalysisContext{}
	}
	return wc
}

// Clone returns a deep copy.
func (wc WorkflowContext) Clone() WorkflowContext {
	out := WorkflowContext{SchemaVersion: wc.SchemaVersion}
	if wc.Conversation != nil {
		out.Conversation = wc.Conversation.clone()
	}
	if wc.Analysis != nil {
		out.Analysis = wc.Analysis.clone()
	}
	return out
}

// Turn is one utterance in the dialogue shown to the model.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Decision is the outcome of the follow-up decision step.
type Decision string

const (
	DecisionNone     Decision = ""
	DecisionContinue Decision = "continue"
	DecisionFinalize Decision = "finalize"
)

// Usage accumulates token counts and cost across the inference calls of one workflow.
type Usage struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	TotalTokens  int     `json:"total_tokens"`
	Cost         float64 `json:"cost"`
}

// Add folds a single inference result into the running total.
func (u *Usage) Add(r *InferenceResult) {
	if r == nil {
		return
	}
	u.InputTokens += r.InputTokens
	u.OutputTokens += r.OutputTokens
	u.TotalTokens += r.TotalTokens
	u.Cost += r.Cost
}

// ConversationContext is the context schema of the conversational graph.
//
// Producers and consumers:
//   - greeting writes Greeting and Phase.
//   - question_generation writes PendingQuestion, appends an assistant Turn, bumps QuestionsAsked.
//   - resume input appends a user Turn and writes LastInput and Ready.
//   - response_analysis and insight_extraction merge into Candidates.
//   - follow_up_decision writes Decision and DecisionReason.
//   - completion writes Closing and Phase.
type ConversationContext struct {
	Topic    string         `json:"topic"`
	UserID   string         `json:"user_id,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Phase    Phase          `json:"phase"`
	Params   map[string]any `json:"params,omitempty"`

	Greeting        string `json:"greeting,omitempty"`
	Turns           []Turn `json:"turns,omitempty"`
	PendingQuestion string `json:"pending_question,omitempty"`
	QuestionsAsked  int    `json:"questions_asked"`
	LastInput       string `json:"last_input,omitempty"`
	Ready           bool   `json:"ready"`

	Candidates CandidateSet `json:"candidates"`

	Decision       Decision `json:"decision,omitempty"`
	DecisionReason string   `json:"decision_reason,omitempty"`
	Closing        string   `json:"closing,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Usage    Usage  `json:"usage"`
}

func (c *ConversationContext) clone() *ConversationContext {
	out := *c
	out.Params = maps.Clone(c.Params)
	out.Turns = append([]Turn(nil), c.Turns...)
	out.Candidates = c.Candidates.Clone()
	return &out
}

// ContextError is a caller-facing error tag stored in the context.
type ContextError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// AnalysisResult is the formatted outcome of a single-shot analysis.
type AnalysisResult struct {
	Topic    string      `json:"topic"`
	Summary  string      `json:"summary"`
	Insights []Candidate `json:"insights"`
	Markdown string      `json:"markdown"`
}

// AnalysisContext is the context schema of the analysis graph.
//
// input_validation writes Error on failure, analysis_execution writes Raw,
// insight_extraction writes Insights, response_formatting writes Result.
type AnalysisContext struct {
	Topic    string         `json:"topic"`
	UserID   string         `json:"user_id,omitempty"`
	TenantID string         `json:"tenant_id,omitempty"`
	Input    string         `json:"input"`
	Params   map[string]any `json:"params,omitempty"`

	Error    *ContextError   `json:"error,omitempty"`
	Raw      string          `json:"raw,omitempty"`
	Insights CandidateSet    `json:"insights"`
	Result   *AnalysisResult `json:"result,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	Usage    Usage  `json:"usage"`
}

func (a *AnalysisContext) clone() *AnalysisContext {
	out := *a
	out.Params = maps.Clone(a.Params)
	out.Insights = a.Insights.Clone()
	if a.Error != nil {
		e := *a.Error
		out.Error = &e
	}
	if a.Result != nil {
		r := *a.Result
		r.Insights = append([]Candidate(nil), a.Result.Insights...)
		out.Result = &r
	}
	return &out
}

// StartInput seeds a new workflow.
type StartInput struct {
	// WorkflowID is optional; a random identifier is generated when empty.
	WorkflowID string `json:"workflow_id,omitempty"`
	Topic      string `json:"topic"`
	UserID     string `json:"user_id,omitempty"`
	TenantID   string `json:"tenant_id,omitempty"`
	Text       string `json:"text,omitempty"`
	// Params stay out of history snapshots; they may carry PII.
	Params map[string]any `json:"-"`
}

// UserInput is merged into the context when a paused workflow resumes.
type UserInput struct {
	Text  string `json:"text"`
	Ready bool   `json:"ready,omitempty"`
}

// Seed writes the start input into the context of the given type.
func (wc *WorkflowContext) Seed(in StartInput) {
	switch {
	case wc.Conversation != nil:
		wc.Conversation.Topic = in.Topic
		wc.Conversation.UserID = in.UserID
		wc.Conversation.TenantID = in.TenantID
		wc.Conversation.Params = maps.Clone(in.Params)
	case wc.Analysis != nil:
		wc.Analysis.Topic = in.Topic
		wc.Analysis.UserID = in.UserID
		wc.Analysis.TenantID = in.TenantID
		wc.Analysis.Input = in.Text
		wc.Analysis.Params = maps.Clone(in.Params)
	}
}

// Merge folds a user turn into the context.
func (wc *WorkflowContext) Merge(in UserInput) {
	c := wc.Conversation
	if c == nil {
		return
	}
	c.Turns = append(c.Turns, Turn{Role: RoleUser, Content: in.Text})
	c.LastInput = in.Text
	c.PendingQuestion = ""
	if in.Ready || IsReadySignal(in.Text) {
		c.Ready = true
	}
}

var readySignals = map[string]bool{
	"ready":          true,
	"done":           true,
	"finalize":       true,
	"i'm ready":      true,
	"im ready":       true,
	"let's finalize": true,
}

// IsReadySignal reports whether text is an explicit request to finalize.
func IsReadySignal(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.TrimRight(t, ".!")
	return readySignals[t]
}
