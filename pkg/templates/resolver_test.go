package templates

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/coachflow/pkg/adapters/memory"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

type countingTemplates struct {
	*memory.TemplateStore
	gets atomic.Int32
}

func (c *countingTemplates) Get(ctx context.Context, topic, phase string, version int) (*domain.PromptTemplate, error) {
	c.gets.Add(1)
	return c.TemplateStore.Get(ctx, topic, phase, version)
}

func newResolver(t *testing.T) (*Resolver, *countingTemplates) {
	t.Helper()
	store := &countingTemplates{TemplateStore: memory.NewTemplateStore(ports.ContractTemplates()...)}
	r, err := NewResolver(store)
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, store
}

func TestResolver_CachesLookups(t *testing.T) {
	r, store := newResolver(t)
	ctx := context.Background()

	first, err := r.Resolve(ctx, "values", "discovery", domain.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Version)
	r.cache.Wait()

	second, err := r.Resolve(ctx, "values", "discovery", domain.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), store.gets.Load(), "second lookup is served from cache")

	second.SystemPrompt = "mutated"
	third, _ := r.Resolve(ctx, "values", "discovery", domain.LatestVersion)
	assert.NotEqual(t, "mutated", third.SystemPrompt, "callers get copies")
}

func TestResolver_ExplicitVersion(t *testing.T) {
	r, _ := newResolver(t)
	tpl, err := r.Resolve(context.Background(), "values", "discovery", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, tpl.Version)
	assert.False(t, tpl.IsLatest)
}

func TestResolver_NotFound(t *testing.T) {
	r, _ := newResolver(t)
	_, err := r.Resolve(context.Background(), "values", "nope", domain.LatestVersion)
	var nf *domain.TemplateNotFoundError
	assert.True(t, errors.As(err, &nf))
	assert.Equal(t, domain.CodeTemplateNotFound, domain.ErrorCode(err))
}

func TestResolver_CachesLatestMisses(t *testing.T) {
	r, store := newResolver(t)
	ctx := context.Background()
	pub := NewPublisher(store.TemplateStore, r, nil)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(ctx, "values", "behaviors", domain.LatestVersion)
		assert.Equal(t, domain.CodeTemplateNotFound, domain.ErrorCode(err))
		r.cache.Wait()
	}
	assert.Equal(t, int32(1), store.gets.Load(), "repeated misses are served from cache")

	_, err := pub.Publish(ctx, domain.PromptTemplate{Topic: "values", Phase: "behaviors", SystemPrompt: "List behaviors."})
	require.NoError(t, err)

	tpl, err := r.Resolve(ctx, "values", "behaviors", domain.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, "List behaviors.", tpl.SystemPrompt)
}

func TestPublisher_InvalidatesLatest(t *testing.T) {
	r, store := newResolver(t)
	ctx := context.Background()
	pub := NewPublisher(store.TemplateStore, r, nil)

	before, err := r.Resolve(ctx, "values", "discovery", domain.LatestVersion)
	require.NoError(t, err)
	r.cache.Wait()

	published, err := pub.Publish(ctx, domain.PromptTemplate{
		Topic:             "values",
		Phase:             "discovery",
		SystemPrompt:      "v4 for {{topic}}",
		UserPromptPattern: "Hello {{user_name}}",
	})
	require.NoError(t, err)
	assert.Equal(t, 4, published.Version)
	assert.Equal(t, []string{"topic", "user_name"}, published.DeclaredParameters)

	after, err := r.Resolve(ctx, "values", "discovery", domain.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, 3, before.Version)
	assert.Equal(t, 4, after.Version, "publish must be visible through the cache immediately")
}

func TestPublisher_Validation(t *testing.T) {
	pub := NewPublisher(memory.NewTemplateStore(), nil, nil)
	_, err := pub.Publish(context.Background(), domain.PromptTemplate{Phase: "x", SystemPrompt: "y"})
	assert.Equal(t, domain.CodeValidation, domain.ErrorCode(err))
}

type fakeWatch struct{ ch chan string }

func (f fakeWatch) Watch(ctx context.Context) (<-chan string, error) { return f.ch, nil }

func TestResolver_WatchInvalidates(t *testing.T) {
	r, store := newResolver(t)
	ctx := context.Background()

	_, err := r.Resolve(ctx, "values", "discovery", domain.LatestVersion)
	require.NoError(t, err)
	r.cache.Wait()

	w := fakeWatch{ch: make(chan string)}
	done := make(chan error)
	go func() { done <- r.Watch(ctx, w) }()

	w.ch <- "values/discovery"
	close(w.ch)
	require.NoError(t, <-done)

	_, err = r.Resolve(ctx, "values", "discovery", domain.LatestVersion)
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.gets.Load())
}
