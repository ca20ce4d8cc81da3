// Package postgres implements the prompt template repository on PostgreSQL
// through pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
)

//go:embed schema.sql
var schema string

const columns = `topic, phase, version, is_latest, system_prompt, user_prompt_pattern, declared_parameters, metadata, created_at`

// TemplateStore implements ports.TemplateStore and ports.TemplatePublisher.
type TemplateStore struct {
	db     *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the TemplateStore.
type Option func(*TemplateStore)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *TemplateStore) {
		s.logger = l
	}
}

// NewTemplateStore creates a TemplateStore on an open pool.
func NewTemplateStore(db *pgxpool.Pool, opts ...Option) *TemplateStore {
	s := &TemplateStore{db: db, logger: logging.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool for dsn and applies the schema.
func Connect(ctx context.Context, dsn string, opts ...Option) (*TemplateStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open template database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping template database: %w", err)
	}
	s := NewTemplateStore(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the templates table if missing.
func (s *TemplateStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply template schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *TemplateStore) Close() {
	s.db.Close()
}

// Get returns the template for (topic, phase, version).
func (s *TemplateStore) Get(ctx context.Context, topic, phase string, version int) (*domain.PromptTemplate, error) {
	var row pgx.Row
	if version == domain.LatestVersion {
		row = s.db.QueryRow(ctx, `SELECT `+columns+` FROM prompt_templates WHERE topic = $1 AND phase = $2 AND is_latest`, topic, phase)
	} else {
		row = s.db.QueryRow(ctx, `SELECT `+columns+` FROM prompt_templates WHERE topic = $1 AND phase = $2 AND version = $3`, topic, phase, version)
	}

	tpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &domain.TemplateNotFoundError{Topic: topic, Phase: phase, Version: version}
		}
		return nil, fmt.Errorf("failed to load template %s: %w", domain.TemplateKey(topic, phase, version), err)
	}
	return tpl, nil
}

// ListVersions returns version metadata in ascending order.
func (s *TemplateStore) ListVersions(ctx context.Context, topic, phase string) ([]domain.TemplateVersion, error) {
	rows, err := s.db.Query(ctx, `SELECT version, is_latest, created_at FROM prompt_templates WHERE topic = $1 AND phase = $2 ORDER BY version`, topic, phase)
	if err != nil {
		return nil, fmt.Errorf("failed to list template versions: %w", err)
	}
	defer rows.Close()

	out := []domain.TemplateVersion{}
	for rows.Next() {
		var v domain.TemplateVersion
		if err := rows.Scan(&v.Version, &v.IsLatest, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan template version: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// List returns every stored template ordered by topic, phase and version.
func (s *TemplateStore) List(ctx context.Context) ([]domain.PromptTemplate, error) {
	rows, err := s.db.Query(ctx, `SELECT `+columns+` FROM prompt_templates ORDER BY topic, phase, version`)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var out []domain.PromptTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		out = append(out, *tpl)
	}
	return out, rows.Err()
}

// Publish inserts tpl as the next version of its (topic, phase) and moves the
// latest flag to it in one transaction. Concurrent publishers of the same
// pair are serialised by a transaction-scoped advisory lock.
func (s *TemplateStore) Publish(ctx context.Context, tpl *domain.PromptTemplate) (*domain.PromptTemplate, error) {
	next := *tpl
	next.IsLatest = true
	if next.CreatedAt.IsZero() {
		next.CreatedAt = s.now().UTC()
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tpl.Topic+"/"+tpl.Phase); err != nil {
			return err
		}

		var current int
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM prompt_templates WHERE topic = $1 AND phase = $2`, tpl.Topic, tpl.Phase).Scan(&current); err != nil {
			return err
		}
		next.Version = current + 1

		if _, err := tx.Exec(ctx, `UPDATE prompt_templates SET is_latest = FALSE WHERE topic = $1 AND phase = $2 AND is_latest`, tpl.Topic, tpl.Phase); err != nil {
			return err
		}
		return insert(ctx, tx, &next)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to publish template %s/%s: %w", tpl.Topic, tpl.Phase, err)
	}

	s.logger.Info("Template published", "topic", next.Topic, "phase", next.Phase, "version", next.Version)
	return &next, nil
}

// Seed inserts templates as-is, keeping their version numbers and latest flags.
func (s *TemplateStore) Seed(ctx context.Context, tpls ...domain.PromptTemplate) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		for i := range tpls {
			if err := insert(ctx, tx, &tpls[i]); err != nil {
				return fmt.Errorf("failed to seed %s: %w", tpls[i].Key(), err)
			}
		}
		return nil
	})
}

func insert(ctx context.Context, tx pgx.Tx, tpl *domain.PromptTemplate) error {
	params := tpl.DeclaredParameters
	if params == nil {
		params = []string{}
	}
	meta, err := json.Marshal(tpl.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `INSERT INTO prompt_templates (`+columns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		tpl.Topic, tpl.Phase, tpl.Version, tpl.IsLatest, tpl.SystemPrompt, tpl.UserPromptPattern, params, string(meta), tpl.CreatedAt)
	return err
}

func scanTemplate(row pgx.Row) (*domain.PromptTemplate, error) {
	var (
		tpl  domain.PromptTemplate
		meta []byte
	)
	if err := row.Scan(&tpl.Topic, &tpl.Phase, &tpl.Version, &tpl.IsLatest, &tpl.SystemPrompt, &tpl.UserPromptPattern, &tpl.DeclaredParameters, &meta, &tpl.CreatedAt); err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &tpl.Metadata); err != nil {
			return nil, fmt.Errorf("invalid template metadata: %w", err)
		}
	}
	return &tpl, nil
}
