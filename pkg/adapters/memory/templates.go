package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/coachflow/pkg/domain"
)

type templateKey struct {
	topic string
	phase string
}

// TemplateStore is an in-memory template repository.
// It implements ports.TemplateStore and ports.TemplatePublisher.
type TemplateStore struct {
	mu       sync.RWMutex
	versions map[templateKey][]domain.PromptTemplate
	now      func() time.Time
}

// NewTemplateStore creates a store seeded with tpls. Seeded templates keep their
// version numbers and latest flags.
func NewTemplateStore(tpls ...domain.PromptTemplate) *TemplateStore {
	s := &TemplateStore{
		versions: make(map[templateKey][]domain.PromptTemplate),
		now:      time.Now,
	}
	s.Seed(tpls...)
	return s
}

// Seed adds templates as-is, keeping their version numbers and latest flags.
func (s *TemplateStore) Seed(tpls ...domain.PromptTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tpls {
		k := templateKey{t.Topic, t.Phase}
		s.versions[k] = append(s.versions[k], clone(t))
		sortVersions(s.versions[k])
	}
}

// Get returns a copy of the template for (topic, phase, version).
func (s *TemplateStore) Get(ctx context.Context, topic, phase string, version int) (*domain.PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.versions[templateKey{topic, phase}] {
		if (version == domain.LatestVersion && t.IsLatest) || (version != domain.LatestVersion && t.Version == version) {
			out := clone(t)
			return &out, nil
		}
	}
	return nil, &domain.TemplateNotFoundError{Topic: topic, Phase: phase, Version: version}
}

// ListVersions returns version metadata in ascending order.
func (s *TemplateStore) ListVersions(ctx context.Context, topic, phase string) ([]domain.TemplateVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.versions[templateKey{topic, phase}]
	out := make([]domain.TemplateVersion, 0, len(list))
	for _, t := range list {
		out = append(out, domain.TemplateVersion{Version: t.Version, IsLatest: t.IsLatest, CreatedAt: t.CreatedAt})
	}
	return out, nil
}

// List returns every stored template ordered by topic, phase and version.
func (s *TemplateStore) List(ctx context.Context) ([]domain.PromptTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.PromptTemplate
	for _, list := range s.versions {
		for _, t := range list {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		if out[i].Phase != out[j].Phase {
			return out[i].Phase < out[j].Phase
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Publish appends tpl as the next version and moves the latest flag to it under one lock.
func (s *TemplateStore) Publish(ctx context.Context, tpl *domain.PromptTemplate) (*domain.PromptTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := templateKey{tpl.Topic, tpl.Phase}
	list := s.versions[k]

	next := clone(*tpl)
	next.Version = 1
	if n := len(list); n > 0 {
		next.Version = list[n-1].Version + 1
	}
	next.IsLatest = true
	if next.CreatedAt.IsZero() {
		next.CreatedAt = s.now().UTC()
	}

	for i := range list {
		list[i].IsLatest = false
	}
	s.versions[k] = append(list, next)

	out := clone(next)
	return &out, nil
}

func clone(t domain.PromptTemplate) domain.PromptTemplate {
	t.DeclaredParameters = append([]string(nil), t.DeclaredParameters...)
	if t.Metadata != nil {
		m := make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			m[k] = v
		}
		t.Metadata = m
	}
	return t
}

func sortVersions(list []domain.PromptTemplate) {
	sort.Slice(list, func(i, j int) bool { return list[i].Version < list[j].Version })
}
