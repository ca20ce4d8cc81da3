package templates

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
	"github.com/aretw0/coachflow/pkg/ports"
)

const (
	defaultNumCounters = 1e4
	defaultMaxCost     = 1 << 24 // 16MB of prompt text
	defaultBufferItems = 64
	defaultLatestTTL   = 5 * time.Minute
	missCost           = 64
)

// Resolver is the cached read path to the template store. It is safe for
// concurrent use by many sessions.
type Resolver struct {
	store     ports.TemplateStore
	cache     *ristretto.Cache
	latestTTL time.Duration
	logger    *slog.Logger

	mu  sync.Mutex
	gen map[string]uint64 // invalidation generation per topic/phase
	all uint64
}

// ResolverOption configures the Resolver.
type ResolverOption func(*Resolver)

// WithLatestTTL bounds how long a "latest" lookup may be served from cache
// without an invalidation signal.
func WithLatestTTL(ttl time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.latestTTL = ttl
	}
}

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a caching resolver over store.
func NewResolver(store ports.TemplateStore, opts ...ResolverOption) (*Resolver, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create template cache: %w", err)
	}

	r := &Resolver{
		store:     store,
		cache:     cache,
		latestTTL: defaultLatestTTL,
		logger:    logging.NewNop(),
		gen:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Resolve returns the template for (topic, phase, version). domain.LatestVersion
// resolves to the version flagged latest; a missing latest template is
// remembered until the next invalidation of (topic, phase).
func (r *Resolver) Resolve(ctx context.Context, topic, phase string, version int) (*domain.PromptTemplate, error) {
	key := r.cacheKey(topic, phase, version)
	if v, ok := r.cache.Get(key); ok {
		switch v := v.(type) {
		case domain.PromptTemplate:
			return &v, nil
		case *domain.TemplateNotFoundError:
			return nil, v
		}
	}

	tpl, err := r.store.Get(ctx, topic, phase, version)
	if err != nil {
		// Latest misses are cached like hits so phase fallbacks cost no store
		// call; publishing bumps the generation and makes the phase visible.
		var nf *domain.TemplateNotFoundError
		if version == domain.LatestVersion && errors.As(err, &nf) {
			r.cache.SetWithTTL(key, nf, missCost, r.latestTTL)
		}
		return nil, err
	}

	cost := int64(len(tpl.SystemPrompt) + len(tpl.UserPromptPattern) + 64)
	if version == domain.LatestVersion {
		r.cache.SetWithTTL(key, *tpl, cost, r.latestTTL)
	} else {
		r.cache.Set(key, *tpl, cost)
	}

	r.logger.Debug("template resolved", "key", domain.TemplateKey(topic, phase, version), "version", tpl.Version)
	out := *tpl
	return &out, nil
}

// Invalidate drops the cached "latest" entry of (topic, phase).
// Lookups racing with the invalidation cache under the previous generation
// and are never served again.
func (r *Resolver) Invalidate(topic, phase string) {
	r.mu.Lock()
	r.gen[topic+"/"+phase]++
	r.mu.Unlock()
	r.logger.Debug("template cache invalidated", "topic", topic, "phase", phase)
}

// InvalidateAll drops every cached entry.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.all++
	r.mu.Unlock()
	r.cache.Clear()
	r.logger.Debug("template cache cleared")
}

// Watch invalidates the whole cache whenever w reports a backend change.
// It returns when ctx is done or the change channel closes.
func (r *Resolver) Watch(ctx context.Context, w ports.Watchable) error {
	changes, err := w.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch templates: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case id, ok := <-changes:
			if !ok {
				return nil
			}
			r.logger.Info("template source changed", "id", id)
			r.InvalidateAll()
		}
	}
}

// Close releases the cache.
func (r *Resolver) Close() {
	r.cache.Close()
}

func (r *Resolver) cacheKey(topic, phase string, version int) string {
	if version != domain.LatestVersion {
		return domain.TemplateKey(topic, phase, version)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("%s#%d.%d", domain.TemplateKey(topic, phase, version), r.all, r.gen[topic+"/"+phase])
}
