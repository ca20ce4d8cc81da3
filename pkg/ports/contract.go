package ports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConversationStoreContract runs a suite of tests to verify that a ConversationStore
// implementation adheres to the defined interface contract.
func RunConversationStoreContract(t *testing.T, store ConversationStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405.000000")
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	newSession := func(id string) *domain.ConversationSession {
		s := domain.NewSession(id, "user-1", "tenant-1", "values", now)
		s.Workflow = domain.NewWorkflowState(id, domain.WorkflowConversational, domain.NodeGreeting, now)
		return s
	}

	t.Run("Put and Get", func(t *testing.T) {
		s := newSession(sessionID)
		s.Append(domain.RoleUser, "hello", now)
		s.Workflow.Context.Conversation.Candidates.Add(domain.Candidate{Label: "Integrity", Confidence: 0.7})

		require.NoError(t, store.Put(ctx, s, 0), "Put should not return error")
		assert.Equal(t, int64(1), s.Version, "Put should bump the version")

		loaded, err := store.Get(ctx, sessionID)
		require.NoError(t, err, "Get should not return error")
		assert.Equal(t, int64(1), loaded.Version)
		assert.Equal(t, "values", loaded.Topic)
		require.Len(t, loaded.Messages, 1)
		assert.Equal(t, "hello", loaded.Messages[0].Content)
		require.NotNil(t, loaded.Workflow)
		assert.Equal(t, domain.NodeGreeting, loaded.Workflow.CurrentNode)
		assert.Equal(t, []string{"Integrity"}, loaded.Workflow.Context.Conversation.Candidates.Labels())
	})

	t.Run("Conditional Write", func(t *testing.T) {
		loaded, err := store.Get(ctx, sessionID)
		require.NoError(t, err)

		stale := loaded.Snapshot()

		loaded.Phase = domain.PhaseDisambiguation
		require.NoError(t, store.Put(ctx, loaded, loaded.Version))

		stale.Phase = domain.PhaseConfirm
		err = store.Put(ctx, stale, stale.Version)
		assert.ErrorIs(t, err, domain.ErrVersionConflict, "stale write must be rejected")

		var conflict *domain.ConflictError
		assert.True(t, errors.As(err, &conflict))

		current, err := store.Get(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, domain.PhaseDisambiguation, current.Phase, "stale write must not be applied")
	})

	t.Run("Create Twice", func(t *testing.T) {
		err := store.Put(ctx, newSession(sessionID), 0)
		assert.ErrorIs(t, err, domain.ErrVersionConflict, "creating an existing session must conflict")
	})

	t.Run("Get Non-Existent", func(t *testing.T) {
		_, err := store.Get(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		require.NoError(t, store.Put(ctx, newSession(id1), 0))
		require.NoError(t, store.Put(ctx, newSession(id2), 0))
		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		ids, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, ids, id1)
		assert.Contains(t, ids, id2)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, sessionID), "Delete should not return error")

		_, err := store.Get(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Get after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, sessionID), "Deleting twice is not an error")
	})
}

// ContractTemplates is the fixture seeded into template stores under contract test.
// (values, discovery) has versions 1..3 with 3 flagged latest.
func ContractTemplates() []domain.PromptTemplate {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mk := func(version int, latest bool) domain.PromptTemplate {
		return domain.PromptTemplate{
			Topic:              "values",
			Phase:              "discovery",
			Version:            version,
			IsLatest:           latest,
			SystemPrompt:       fmt.Sprintf("You are a values coach (v%d).", version),
			UserPromptPattern:  "Ask {{user_name}} about {{topic}}.",
			DeclaredParameters: []string{"user_name", "topic"},
			CreatedAt:          created.Add(time.Duration(version) * time.Hour),
		}
	}
	return []domain.PromptTemplate{mk(1, false), mk(2, false), mk(3, true)}
}

// RunTemplateStoreContract verifies a TemplateStore. seed must make the given
// templates visible through store before returning.
func RunTemplateStoreContract(t *testing.T, store TemplateStore, seed func(t *testing.T, tpls []domain.PromptTemplate)) {
	ctx := context.Background()
	seed(t, ContractTemplates())

	t.Run("Get Latest", func(t *testing.T) {
		tpl, err := store.Get(ctx, "values", "discovery", domain.LatestVersion)
		require.NoError(t, err)
		assert.Equal(t, 3, tpl.Version)
		assert.True(t, tpl.IsLatest)
		assert.ElementsMatch(t, []string{"user_name", "topic"}, tpl.DeclaredParameters)
	})

	t.Run("Get Explicit Version Bypasses Latest", func(t *testing.T) {
		tpl, err := store.Get(ctx, "values", "discovery", 1)
		require.NoError(t, err)
		assert.Equal(t, 1, tpl.Version)
		assert.False(t, tpl.IsLatest)
	})

	t.Run("Missing", func(t *testing.T) {
		for _, tc := range []struct {
			topic, phase string
			version      int
		}{
			{"unknown", "discovery", domain.LatestVersion},
			{"values", "unknown", domain.LatestVersion},
			{"values", "discovery", 42},
		} {
			_, err := store.Get(ctx, tc.topic, tc.phase, tc.version)
			var nf *domain.TemplateNotFoundError
			assert.True(t, errors.As(err, &nf), "expected TemplateNotFoundError for %+v, got %v", tc, err)
		}
	})

	t.Run("ListVersions", func(t *testing.T) {
		versions, err := store.ListVersions(ctx, "values", "discovery")
		require.NoError(t, err)
		require.Len(t, versions, 3)
		assert.True(t, sort.SliceIsSorted(versions, func(i, j int) bool { return versions[i].Version < versions[j].Version }))
		latest := 0
		for _, v := range versions {
			if v.IsLatest {
				latest++
			}
		}
		assert.Equal(t, 1, latest, "exactly one version is latest")
	})

	t.Run("List", func(t *testing.T) {
		all, err := store.List(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(all), 3)
	})
}

// RunTemplatePublisherContract verifies that publishing flips the latest flag atomically.
func RunTemplatePublisherContract(t *testing.T, store interface {
	TemplateStore
	TemplatePublisher
}) {
	ctx := context.Background()
	topic := "publish-" + time.Now().Format("150405.000000")

	first, err := store.Publish(ctx, &domain.PromptTemplate{Topic: topic, Phase: "confirm", SystemPrompt: "one"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.True(t, first.IsLatest)

	second, err := store.Publish(ctx, &domain.PromptTemplate{Topic: topic, Phase: "confirm", SystemPrompt: "two"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	latest, err := store.Get(ctx, topic, "confirm", domain.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, "two", latest.SystemPrompt)

	old, err := store.Get(ctx, topic, "confirm", 1)
	require.NoError(t, err)
	assert.False(t, old.IsLatest, "previous latest must be unset")
	assert.Equal(t, "one", old.SystemPrompt, "published versions are immutable")

	versions, err := store.ListVersions(ctx, topic, "confirm")
	require.NoError(t, err)
	flagged := 0
	for _, v := range versions {
		if v.IsLatest {
			flagged++
		}
	}
	assert.Equal(t, 1, flagged)
}
