package sqldb

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
)

// Connection pool defaults for PostgreSQL.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

// Dialect selects the SQL driver and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

//go:embed migrations_postgres.sql
var postgresMigrations string

// Store implements ports.ConversationStore on a SQL database.
type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// Open connects to the database, pings it and applies the migrations.
func Open(ctx context.Context, dialect Dialect, dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN not set")
	}

	var driver string
	switch dialect {
	case SQLite:
		driver = "sqlite3"
	case Postgres:
		driver = "postgres"
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dialect == SQLite {
		// One connection keeps ":memory:" databases alive and serialises writers.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(DefaultMaxOpenConns)
		db.SetMaxIdleConns(DefaultMaxIdleConns)
		db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := New(ctx, db, dialect, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database and applies the migrations.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{db: db, dialect: dialect, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	migrations := sqliteMigrations
	if dialect == Postgres {
		migrations = postgresMigrations
	}
	if _, err := db.ExecContext(ctx, migrations); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	s.logger.Debug("SQL migrations applied", "dialect", dialect)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites '?' placeholders into the dialect's style.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Get retrieves a session.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	var (
		data    string
		version int64
	)
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT data, version FROM conversation_sessions WHERE id = ?`), sessionID)
	if err := row.Scan(&data, &version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Kind: "session", ID: sessionID}
		}
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}

	var session domain.ConversationSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", sessionID, err)
	}
	session.Version = version
	return &session, nil
}

// Put inserts the session when expectedVersion is 0 and otherwise updates
// the row only where the version column still equals expectedVersion.
func (s *Store) Put(ctx context.Context, session *domain.ConversationSession, expectedVersion int64) error {
	record := *session
	record.Version = expectedVersion + 1
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO conversation_sessions (id, user_id, tenant_id, status, version, data, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`),
			record.ID, record.UserID, record.TenantID, string(record.Status), record.Version, string(data), record.UpdatedAt.UTC())
	} else {
		res, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE conversation_sessions
			SET user_id = ?, tenant_id = ?, status = ?, version = ?, data = ?, updated_at = ?
			WHERE id = ? AND version = ?`),
			record.UserID, record.TenantID, string(record.Status), record.Version, string(data), record.UpdatedAt.UTC(),
			record.ID, expectedVersion)
	}
	if err != nil {
		return fmt.Errorf("failed to write session %s: %w", session.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write session %s: %w", session.ID, err)
	}
	if affected == 0 {
		return &domain.ConflictError{Kind: "session", ID: session.ID, Expected: expectedVersion, Actual: s.currentVersion(ctx, session.ID)}
	}

	session.Version = record.Version
	return nil
}

// currentVersion is best effort and only feeds conflict reports.
func (s *Store) currentVersion(ctx context.Context, sessionID string) int64 {
	var v int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT version FROM conversation_sessions WHERE id = ?`), sessionID).Scan(&v)
	if err != nil {
		return 0
	}
	return v
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM conversation_sessions WHERE id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	return nil
}

// List returns the stored session IDs in ascending order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM conversation_sessions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return ids, nil
}

// CountByStatus reports how many sessions are in each lifecycle status.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.LifecycleStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM conversation_sessions GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.LifecycleStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		counts[domain.LifecycleStatus(status)] = n
	}
	return counts, rows.Err()
}
