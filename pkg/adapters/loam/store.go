// Package loam implements a read-only prompt template repository on a Loam
// document tree (Markdown with YAML frontmatter, JSON or YAML files).
package loam

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/loam"
	"github.com/mitchellh/mapstructure"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
)

// TemplateStore adapts a Loam repository to ports.TemplateStore and ports.Watchable.
type TemplateStore struct {
	Repo   *loam.TypedRepository[TemplateMetadata]
	logger *slog.Logger
}

// Option configures the TemplateStore.
type Option func(*TemplateStore)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *TemplateStore) {
		s.logger = l
	}
}

// New creates a TemplateStore over repo.
func New(repo *loam.TypedRepository[TemplateMetadata], opts ...Option) *TemplateStore {
	s := &TemplateStore{Repo: repo, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open initialises a read-only Loam repository at dir.
func Open(dir string, opts ...Option) (*TemplateStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid template dir %s: %w", dir, err)
	}
	repo, err := loam.Init(abs, loam.WithReadOnly(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open template repository %s: %w", abs, err)
	}
	return New(loam.NewTypedRepository[TemplateMetadata](repo), opts...), nil
}

// Get returns the template for (topic, phase, version).
func (s *TemplateStore) Get(ctx context.Context, topic, phase string, version int) (*domain.PromptTemplate, error) {
	tpls, err := s.load(ctx, topic, phase)
	if err != nil {
		return nil, err
	}
	for i := range tpls {
		t := &tpls[i]
		if (version == domain.LatestVersion && t.IsLatest) || (version != domain.LatestVersion && t.Version == version) {
			return t, nil
		}
	}
	return nil, &domain.TemplateNotFoundError{Topic: topic, Phase: phase, Version: version}
}

// ListVersions returns version metadata in ascending order.
func (s *TemplateStore) ListVersions(ctx context.Context, topic, phase string) ([]domain.TemplateVersion, error) {
	tpls, err := s.load(ctx, topic, phase)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TemplateVersion, 0, len(tpls))
	for _, t := range tpls {
		out = append(out, domain.TemplateVersion{Version: t.Version, IsLatest: t.IsLatest, CreatedAt: t.CreatedAt})
	}
	return out, nil
}

// List returns every template in the tree ordered by topic, phase and version.
func (s *TemplateStore) List(ctx context.Context) ([]domain.PromptTemplate, error) {
	return s.load(ctx, "", "")
}

// load reads the tree and keeps the documents matching topic and phase
// (empty matches all). Duplicate keys and multiple latest flags are errors.
func (s *TemplateStore) load(ctx context.Context, topic, phase string) ([]domain.PromptTemplate, error) {
	docs, err := s.Repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loam list failed: %w", err)
	}

	seen := make(map[string]string)
	latest := make(map[string]string)
	var out []domain.PromptTemplate

	for _, doc := range docs {
		tpl, err := toTemplate(doc.ID, doc.Data, doc.Content)
		if err != nil {
			return nil, err
		}
		if (topic != "" && tpl.Topic != topic) || (phase != "" && tpl.Phase != phase) {
			continue
		}

		key := tpl.Key()
		if existing, ok := seen[key]; ok {
			return nil, fmt.Errorf("collision detected: template %s is defined in both '%s' and '%s'", key, existing, doc.ID)
		}
		seen[key] = doc.ID

		if tpl.IsLatest {
			pair := tpl.Topic + "/" + tpl.Phase
			if existing, ok := latest[pair]; ok {
				return nil, fmt.Errorf("template %s has more than one latest version ('%s', '%s')", pair, existing, doc.ID)
			}
			latest[pair] = doc.ID
		}
		out = append(out, tpl)
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

func toTemplate(docID string, meta TemplateMetadata, content string) (domain.PromptTemplate, error) {
	if meta.Topic == "" || meta.Phase == "" {
		return domain.PromptTemplate{}, fmt.Errorf("template document %s: topic and phase are required", docID)
	}
	if meta.Version < 1 {
		return domain.PromptTemplate{}, fmt.Errorf("template document %s: version must be >= 1", docID)
	}

	tpl := domain.PromptTemplate{
		Topic:              meta.Topic,
		Phase:              meta.Phase,
		Version:            meta.Version,
		IsLatest:           meta.Latest,
		SystemPrompt:       strings.TrimSpace(content),
		UserPromptPattern:  meta.UserPrompt,
		DeclaredParameters: append([]string(nil), meta.DeclaredParameters...),
	}

	if meta.CreatedAt != "" {
		at, err := time.Parse(time.RFC3339, meta.CreatedAt)
		if err != nil {
			return domain.PromptTemplate{}, fmt.Errorf("template document %s: created_at: %w", docID, err)
		}
		tpl.CreatedAt = at
	}

	if len(meta.Metadata) > 0 {
		flat := make(map[string]any)
		flatten("", meta.Metadata, flat)
		tpl.Metadata = make(map[string]string, len(flat))
		if err := mapstructure.WeakDecode(flat, &tpl.Metadata); err != nil {
			return domain.PromptTemplate{}, fmt.Errorf("template document %s: metadata: %w", docID, err)
		}
	}
	return tpl, nil
}

// flatten collapses nested maps into dot-separated keys.
func flatten(prefix string, src map[string]any, dst map[string]any) {
	for k, v := range src {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]any:
			flatten(key, val, dst)
		case map[any]any:
			nested := make(map[string]any, len(val))
			for nk, nv := range val {
				nested[fmt.Sprintf("%v", nk)] = nv
			}
			flatten(key, nested, dst)
		case []any:
			parts := make([]string, 0, len(val))
			for _, item := range val {
				parts = append(parts, fmt.Sprintf("%v", item))
			}
			dst[key] = strings.Join(parts, ",")
		default:
			dst[key] = val
		}
	}
}

// Watch implements ports.Watchable.
func (s *TemplateStore) Watch(ctx context.Context) (<-chan string, error) {
	events, err := s.Repo.Watch(ctx, "**/*.{md,json,yaml,yml}")
	if err != nil {
		return nil, fmt.Errorf("failed to start loam watcher: %w", err)
	}

	ch := make(chan string, 1)

	go func() {
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				s.logger.Debug("Template document changed", "id", evt.ID)
				select {
				case ch <- evt.ID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return ch, nil
}
