package session_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/aretw0/coachflow/pkg/adapters/memory"
	"github.com/aretw0/coachflow/pkg/adapters/scripted"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/nodes"
	"github.com/aretw0/coachflow/pkg/ports"
	"github.com/aretw0/coachflow/pkg/providers"
	"github.com/aretw0/coachflow/pkg/session"
	"github.com/aretw0/coachflow/pkg/templates"
	"github.com/aretw0/coachflow/pkg/workflow"
)

type fixture struct {
	manager  *session.Manager
	store    *memory.Store
	archive  *memory.Archive
	provider *scripted.Provider
	clock    *clocktesting.FakeClock
	// outage makes every inference fail while set.
	outage *atomic.Bool
}

// switchable fails every Infer call while outage is set.
type switchable struct {
	*scripted.Provider
	outage *atomic.Bool
}

func (s *switchable) Infer(ctx context.Context, req ports.ProviderRequest) (*ports.ProviderResponse, error) {
	if s.outage.Load() {
		return nil, errors.New("service unavailable")
	}
	return s.Provider.Infer(ctx, req)
}

func newFixture(t *testing.T, opts ...session.Option) *fixture {
	t.Helper()

	provider := scripted.New("coach", scripted.WithResponder(scripted.Coach))
	outage := new(atomic.Bool)
	mgr := providers.NewManager(providers.WithDefault("coach"))
	require.NoError(t, mgr.Register(scripted.Descriptor("coach", 1, "coach-1"), &switchable{Provider: provider, outage: outage}))

	resolver, err := templates.NewResolver(memory.NewTemplateStore(domain.PromptTemplate{
		Topic: "values", Phase: nodes.PhaseDefault, Version: 1, IsLatest: true,
		SystemPrompt:      "You are a coach exploring {{topic}}.",
		UserPromptPattern: "Ask the next question about {{topic}} ({{phase}}).",
	}))
	require.NoError(t, err)
	t.Cleanup(resolver.Close)

	reg := workflow.NewRegistry()
	require.NoError(t, nodes.Register(reg, nodes.DefaultConfig()))

	clock := clocktesting.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	store := memory.NewStore()
	archive := memory.NewArchive()
	engine := workflow.NewOrchestrator(reg, session.NewWorkflowStore(store),
		workflow.WithClock(clock),
		workflow.WithServices(workflow.Services{Inference: mgr, Templates: resolver}),
	)

	opts = append([]session.Option{
		session.WithClock(clock),
		session.WithArchive(archive),
		session.WithExtractor(session.NewExtractor(mgr)),
	}, opts...)

	return &fixture{
		manager:  session.NewManager(store, engine, opts...),
		store:    store,
		archive:  archive,
		provider: provider,
		clock:    clock,
		outage:   outage,
	}
}

func TestManager_InitiateOpensConversation(t *testing.T) {
	f := newFixture(t)

	reply, err := f.manager.Initiate(context.Background(), session.InitiateInput{
		Topic: "values", UserID: "u-1", TenantID: "t-1",
	})
	require.NoError(t, err)

	s := reply.Session
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, domain.LifecycleActive, s.Status)
	assert.Equal(t, domain.PhaseDiscovery, s.Phase)
	assert.Equal(t, "u-1", s.UserID)
	require.NotNil(t, s.Workflow)
	assert.Equal(t, s.ID, s.Workflow.ID)
	assert.Equal(t, domain.StatusWaitingForInput, s.Workflow.Status)

	require.Len(t, s.Messages, 2)
	assert.Equal(t, domain.RoleAssistant, s.Messages[0].Role)
	assert.Equal(t, "Hi! Let's explore your values together.", s.Messages[0].Content)
	assert.Equal(t, "Question 1: what else matters to you, and why?", s.Messages[1].Content)
	assert.Equal(t, f.clock.Now(), s.Messages[0].Timestamp)
	assert.False(t, reply.Done())

	stored, err := f.manager.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Version, stored.Version)
}

func TestManager_InitiateRequiresTopic(t *testing.T) {
	f := newFixture(t)
	_, err := f.manager.Initiate(context.Background(), session.InitiateInput{Topic: "  "})
	assert.Equal(t, domain.CodeValidation, domain.ErrorCode(err))
}

func TestManager_FullConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.manager.Initiate(ctx, session.InitiateInput{Topic: "values"})
	require.NoError(t, err)
	id := reply.Session.ID

	_, err = f.manager.Complete(ctx, id)
	var notReady *domain.NotReadyError
	require.True(t, errors.As(err, &notReady), "complete before terminal must fail, got %v", err)
	assert.Equal(t, domain.NodeResponseAnalysis, notReady.CurrentNode)

	for _, answer := range []string{
		"Honesty, Curiosity, Courage",
		"Family, Craft, Freedom",
		"Health, Learning, Humor",
	} {
		reply, err = f.manager.SendMessage(ctx, id, answer)
		require.NoError(t, err)
		assert.False(t, reply.Done())
	}
	assert.Equal(t, domain.PhaseValidate, reply.Session.Phase)

	reply, err = f.manager.SendMessage(ctx, id, "ready")
	require.NoError(t, err)
	require.True(t, reply.Done())
	assert.Contains(t, reply.Text(), "Thank you for this conversation.")

	extraction, err := f.manager.Complete(ctx, id)
	require.NoError(t, err)
	assert.Len(t, extraction.Values, 9)
	assert.Equal(t, "Honesty", extraction.Values[0].Label)
	assert.NotEmpty(t, extraction.Values[0].Definition)
	assert.NotEmpty(t, extraction.Values[0].Behaviors)
	assert.Equal(t, "coach", extraction.Provider)
	assert.Equal(t, f.clock.Now(), extraction.ExtractedAt)

	s, err := f.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleCompleted, s.Status)
	assert.Equal(t, domain.PhaseConfirm, s.Phase)
	// greeting + question, then (answer + reply) x 4
	assert.Len(t, s.Messages, 10)

	again, err := f.manager.Complete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, extraction.Summary, again.Summary)
	assert.Len(t, f.archive.Sessions(), 1, "a session is archived once")

	_, err = f.manager.SendMessage(ctx, id, "one more thing")
	assert.Equal(t, domain.CodeInvalidState, domain.ErrorCode(err))
}

func TestManager_ExtractionFallsBackWithoutProviders(t *testing.T) {
	f := newFixture(t, session.WithExtractor(session.NewExtractor(nil)))
	ctx := context.Background()

	reply, err := f.manager.Initiate(ctx, session.InitiateInput{Topic: "values"})
	require.NoError(t, err)
	id := reply.Session.ID

	for _, answer := range []string{"Honesty, Care, Grit", "ready"} {
		_, err = f.manager.SendMessage(ctx, id, answer)
		require.NoError(t, err)
	}

	extraction, err := f.manager.Complete(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"Honesty", "Care", "Grit"}, []string{
		extraction.Values[0].Label, extraction.Values[1].Label, extraction.Values[2].Label,
	})
	assert.Equal(t, "Confirmed values: Honesty, Care, Grit.", extraction.Summary)
	assert.Empty(t, extraction.Provider)
}

func TestManager_FailedTurnIsRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.manager.Initiate(ctx, session.InitiateInput{Topic: "values"})
	require.NoError(t, err)
	id := reply.Session.ID

	f.outage.Store(true)
	_, err = f.manager.SendMessage(ctx, id, "Honesty, Care, Grit")
	require.Error(t, err)

	sess, err := f.manager.Get(ctx, id)
	require.NoError(t, err)
	n := len(sess.Messages)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, domain.RoleUser, sess.Messages[n-2].Role)
	assert.Equal(t, "Honesty, Care, Grit", sess.Messages[n-2].Content)
	assert.Equal(t, domain.RoleSystem, sess.Messages[n-1].Role)
	assert.Contains(t, sess.Messages[n-1].Content, "turn failed")
	assert.Equal(t, domain.StatusFailed, sess.Workflow.Status)
}

func TestManager_PauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.manager.Initiate(ctx, session.InitiateInput{Topic: "values"})
	require.NoError(t, err)
	id := reply.Session.ID
	revision := reply.Session.Workflow.Revision

	s, err := f.manager.Pause(ctx, id, "coffee")
	require.NoError(t, err)
	assert.Equal(t, domain.LifecyclePaused, s.Status)
	assert.Equal(t, "coffee", s.PauseReason)
	assert.Equal(t, revision, s.Workflow.Revision, "pause does not touch the workflow")

	_, err = f.manager.Pause(ctx, id, "again")
	assert.Equal(t, domain.CodeInvalidState, domain.ErrorCode(err))

	s, err = f.manager.Resume(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.LifecycleActive, s.Status)
	assert.Empty(t, s.PauseReason)

	_, err = f.manager.Resume(ctx, id)
	assert.Equal(t, domain.CodeInvalidState, domain.ErrorCode(err))

	_, err = f.manager.Pause(ctx, id, "")
	require.NoError(t, err)
	reply, err = f.manager.SendMessage(ctx, id, "Honesty")
	require.NoError(t, err, "a paused session is resumed by a message")
	assert.Equal(t, domain.LifecycleActive, reply.Session.Status)
}

func TestManager_SendMessageValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.manager.SendMessage(ctx, "missing", "hello")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	reply, err := f.manager.Initiate(ctx, session.InitiateInput{Topic: "values"})
	require.NoError(t, err)

	_, err = f.manager.SendMessage(ctx, reply.Session.ID, "   ")
	assert.Equal(t, domain.CodeValidation, domain.ErrorCode(err))

	calls := f.provider.CallCount()
	_, err = f.manager.SendMessage(ctx, reply.Session.ID, "bad\xffutf8")
	assert.Equal(t, domain.CodeValidation, domain.ErrorCode(err))
	assert.Equal(t, calls, f.provider.CallCount())
}

func TestManager_ConcurrentMessagesAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reply, err := f.manager.Initiate(ctx, session.InitiateInput{Topic: "values"})
	require.NoError(t, err)
	id := reply.Session.ID

	const writers = 5
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.manager.SendMessage(ctx, id, fmt.Sprintf("Value%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	s, err := f.manager.Get(ctx, id)
	require.NoError(t, err)
	assert.Len(t, s.Messages, 2+2*writers)
	c := s.Workflow.Context.Conversation
	assert.Len(t, c.Candidates, writers)
	assert.Equal(t, writers+1, c.QuestionsAsked)

	// Every resume appended exactly one run of nodes: no lost or duplicated history.
	visited := s.Workflow.Visited()
	assert.Len(t, visited, 2+4*writers)
}
