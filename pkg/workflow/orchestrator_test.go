package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/aretw0/coachflow/pkg/adapters/memory"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/dsl"
	"github.com/aretw0/coachflow/pkg/workflow"
)

// countingStore counts saves on top of the in-memory store.
type countingStore struct {
	*memory.WorkflowStore
	saves int
}

func (s *countingStore) SaveWorkflow(ctx context.Context, state *domain.WorkflowState) error {
	s.saves++
	return s.WorkflowStore.SaveWorkflow(ctx, state)
}

func say(name, text string) workflow.Node {
	return workflow.NodeFunc{ID: name, Fn: func(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
		return workflow.Result{Context: wc, Output: text}, nil
	}}
}

// loopGraph is start → ask (pause) → check → (end | ask).
func loopGraph(t *testing.T, failOn string) (*workflow.Registry, []workflow.Node) {
	t.Helper()
	b := dsl.New(domain.WorkflowConversational).Entry("start")
	b.Add("start").Logic().Go("ask")
	b.Add("ask").Input().Go("check")
	b.Add("check").
		Branch("ready", func(wc domain.WorkflowContext) bool { return wc.Conversation.Ready }, "end").
		Go("ask")
	b.Add("end").Terminal()

	nodes := []workflow.Node{
		say("start", "hi"),
		workflow.NodeFunc{ID: "ask", Fn: func(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
			wc.Conversation.QuestionsAsked++
			return workflow.Result{Context: wc, Pause: true, Output: "question?"}, nil
		}},
		workflow.NodeFunc{ID: "check", Fn: func(ctx context.Context, wc domain.WorkflowContext, svc workflow.Services) (workflow.Result, error) {
			if failOn != "" && wc.Conversation.LastInput == failOn {
				return workflow.Result{}, &domain.AllProvidersFailedError{}
			}
			return workflow.Result{Context: wc}, nil
		}},
		say("end", "bye"),
	}

	reg := workflow.NewRegistry()
	require.NoError(t, reg.Register(b.MustBuild(), nodes...))
	return reg, nodes
}

func TestOrchestrator_StartPausesAtInputNode(t *testing.T) {
	reg, _ := loopGraph(t, "")
	store := &countingStore{WorkflowStore: memory.NewWorkflowStore()}
	clk := clocktesting.NewFakeClock(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	o := workflow.NewOrchestrator(reg, store, workflow.WithClock(clk))

	turn, err := o.Start(context.Background(), domain.WorkflowConversational, domain.StartInput{
		WorkflowID: "wf-1", Topic: "values", UserID: "u-1",
		Params: map[string]any{"email": "ana@example.com"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"hi", "question?"}, turn.Outputs)
	assert.Equal(t, "hi\n\nquestion?", turn.Reply())
	assert.Equal(t, domain.StatusWaitingForInput, turn.State.Status)
	assert.Equal(t, "check", turn.State.CurrentNode, "cursor moves to the node after the pause point")
	assert.Equal(t, []string{"start", "ask"}, turn.State.Visited())
	assert.Equal(t, 2, store.saves, "state is persisted after every node")
	assert.Equal(t, clk.Now(), turn.State.CreatedAt)

	require.NotNil(t, turn.Delta)
	assert.Len(t, turn.Delta.History, 2)
	assert.JSONEq(t, `{"workflow_id":"wf-1","topic":"values","user_id":"u-1"}`, string(turn.State.History[0].Input))
	assert.Empty(t, turn.State.History[1].Input)
}

func TestOrchestrator_ResumeToCompletion(t *testing.T) {
	reg, _ := loopGraph(t, "")
	o := workflow.NewOrchestrator(reg, memory.NewWorkflowStore())
	ctx := context.Background()

	_, err := o.Start(ctx, domain.WorkflowConversational, domain.StartInput{WorkflowID: "wf-1"})
	require.NoError(t, err)

	turn, err := o.Resume(ctx, domain.WorkflowConversational, "wf-1", domain.UserInput{Text: "not yet"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaitingForInput, turn.State.Status)
	assert.Equal(t, []string{"question?"}, turn.Outputs)
	assert.Equal(t, 2, turn.State.Context.Conversation.QuestionsAsked)

	turn, err = o.Resume(ctx, domain.WorkflowConversational, "wf-1", domain.UserInput{Text: "ready"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, turn.State.Status)
	assert.Equal(t, "end", turn.State.CurrentNode)
	assert.Equal(t, []string{"bye"}, turn.Outputs)
	assert.JSONEq(t, `{"text":"ready"}`, string(turn.Delta.History[0].Input))
}

func TestOrchestrator_ResumeRequiresWaitingForInput(t *testing.T) {
	reg, _ := loopGraph(t, "")
	o := workflow.NewOrchestrator(reg, memory.NewWorkflowStore())
	ctx := context.Background()

	_, err := o.Resume(ctx, domain.WorkflowConversational, "unknown", domain.UserInput{Text: "x"})
	var nf *domain.NotFoundError
	assert.True(t, errors.As(err, &nf), "expected NotFoundError, got %v", err)

	_, err = o.Start(ctx, domain.WorkflowConversational, domain.StartInput{WorkflowID: "wf-1"})
	require.NoError(t, err)
	_, err = o.Resume(ctx, domain.WorkflowConversational, "wf-1", domain.UserInput{Ready: true})
	require.NoError(t, err)

	before, err := o.Get(ctx, domain.WorkflowConversational, "wf-1")
	require.NoError(t, err)

	_, err = o.Resume(ctx, domain.WorkflowConversational, "wf-1", domain.UserInput{Text: "again"})
	var invalid *domain.InvalidStateError
	require.True(t, errors.As(err, &invalid), "expected InvalidStateError, got %v", err)
	assert.Equal(t, domain.CodeInvalidState, domain.ErrorCode(err))

	after, err := o.Get(ctx, domain.WorkflowConversational, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision, "rejected resume must not touch persisted state")
}

func TestOrchestrator_NodeFailureMarksWorkflowFailed(t *testing.T) {
	reg, _ := loopGraph(t, "boom")
	var done []domain.WorkflowStatus
	o := workflow.NewOrchestrator(reg, memory.NewWorkflowStore(), workflow.WithLifecycleHooks(domain.LifecycleHooks{
		OnWorkflowDone: func(ctx context.Context, e *domain.WorkflowEvent) { done = append(done, e.Status) },
	}))
	ctx := context.Background()

	_, err := o.Start(ctx, domain.WorkflowConversational, domain.StartInput{WorkflowID: "wf-1"})
	require.NoError(t, err)

	_, err = o.Resume(ctx, domain.WorkflowConversational, "wf-1", domain.UserInput{Text: "boom"})
	var failed *domain.WorkflowFailedError
	require.True(t, errors.As(err, &failed), "expected WorkflowFailedError, got %v", err)
	assert.Equal(t, "check", failed.Node)
	assert.Equal(t, domain.CodeAllProvidersFailed, domain.ErrorCode(err), "the stable code of the cause is surfaced")

	state, err := o.Get(ctx, domain.WorkflowConversational, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, state.Status)
	assert.Equal(t, "check", state.CurrentNode)
	assert.NotEmpty(t, state.LastError())
	assert.Equal(t, []domain.WorkflowStatus{domain.StatusFailed}, done)

	_, err = o.Resume(ctx, domain.WorkflowConversational, "wf-1", domain.UserInput{Text: "retry"})
	var invalid *domain.InvalidStateError
	assert.True(t, errors.As(err, &invalid))
}

func TestOrchestrator_StepLimit(t *testing.T) {
	b := dsl.New(domain.WorkflowAnalysis).Entry("a")
	b.Add("a").Go("b")
	b.Add("b").Branch("never", func(domain.WorkflowContext) bool { return false }, "end").Go("a")
	b.Add("end").Terminal()

	reg := workflow.NewRegistry()
	require.NoError(t, reg.Register(b.MustBuild(), say("a", ""), say("b", ""), say("end", "")))

	o := workflow.NewOrchestrator(reg, memory.NewWorkflowStore(), workflow.WithMaxStepsPerCall(5))
	turn, err := o.Start(context.Background(), domain.WorkflowAnalysis, domain.StartInput{})
	assert.Nil(t, turn)
	assert.ErrorIs(t, err, workflow.ErrStepLimit)
}

func TestOrchestrator_Hooks(t *testing.T) {
	reg, _ := loopGraph(t, "")
	var entered, left []string
	var paused int
	o := workflow.NewOrchestrator(reg, memory.NewWorkflowStore(), workflow.WithLifecycleHooks(domain.LifecycleHooks{
		OnNodeEnter:      func(ctx context.Context, e *domain.NodeEvent) { entered = append(entered, e.Node) },
		OnNodeLeave:      func(ctx context.Context, e *domain.NodeEvent) { left = append(left, e.Node) },
		OnWorkflowPaused: func(ctx context.Context, e *domain.WorkflowEvent) { paused++ },
	}))

	_, err := o.Start(context.Background(), domain.WorkflowConversational, domain.StartInput{})
	require.NoError(t, err)

	assert.Equal(t, []string{"start", "ask"}, entered)
	assert.Equal(t, entered, left)
	assert.Equal(t, 1, paused)
}

func TestOrchestrator_ContinueAfterInterruption(t *testing.T) {
	reg, _ := loopGraph(t, "")
	store := memory.NewWorkflowStore()
	o := workflow.NewOrchestrator(reg, store)
	ctx := context.Background()

	// Simulate a crash right after "start" was persisted.
	state := domain.NewWorkflowState("wf-1", domain.WorkflowConversational, "ask", time.Now())
	state.History = append(state.History, domain.HistoryEntry{Node: "start"})
	require.NoError(t, store.SaveWorkflow(ctx, state))

	turn, err := o.Continue(ctx, domain.WorkflowConversational, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"question?"}, turn.Outputs, "the completed node is not replayed")
	assert.Equal(t, domain.StatusWaitingForInput, turn.State.Status)

	_, err = o.Continue(ctx, domain.WorkflowConversational, "wf-1")
	var invalid *domain.InvalidStateError
	assert.True(t, errors.As(err, &invalid))
}

func TestOrchestrator_UnknownType(t *testing.T) {
	o := workflow.NewOrchestrator(workflow.NewRegistry(), memory.NewWorkflowStore())
	_, err := o.Start(context.Background(), domain.WorkflowAnalysis, domain.StartInput{})
	assert.Equal(t, domain.CodeValidation, domain.ErrorCode(err))
}

func TestOrchestrator_CancelledContextLeavesStateUntouched(t *testing.T) {
	reg, _ := loopGraph(t, "")
	store := memory.NewWorkflowStore()
	o := workflow.NewOrchestrator(reg, store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Start(ctx, domain.WorkflowConversational, domain.StartInput{WorkflowID: "wf-1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, store.Len())
}
