package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/coachflow/pkg/domain"
)

// DefaultPrefix namespaces every key written by the store.
const DefaultPrefix = "coachflow:session:"

// Store implements ports.ConversationStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

// Option configures the Store.
type Option func(*Store)

// WithTTL expires sessions ttl after their last write. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New connects to Redis at addr.
func New(addr, password string, db int, opts ...Option) *Store {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewFromClient(client, opts...)
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	s := &Store{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Client returns the underlying client, shared with the Locker.
func (s *Store) Client() *backend.Client {
	return s.client
}

func (s *Store) key(sessionID string) string {
	return s.prefix + sessionID
}

func (s *Store) indexKey() string {
	return s.prefix + "index"
}

// Get retrieves a session.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.ConversationSession, error) {
	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, &domain.NotFoundError{Kind: "session", ID: sessionID}
		}
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var session domain.ConversationSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &session, nil
}

// Put writes the session if the stored version equals expectedVersion.
func (s *Store) Put(ctx context.Context, session *domain.ConversationSession, expectedVersion int64) error {
	key := s.key(session.ID)

	record := *session
	record.Version = expectedVersion + 1
	data, err := json.Marshal(&record)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	txf := func(tx *backend.Tx) error {
		current, err := storedVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != expectedVersion {
			return &domain.ConflictError{Kind: "session", ID: session.ID, Expected: expectedVersion, Actual: current}
		}

		_, err = tx.TxPipelined(ctx, func(pipe backend.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: s.expiry(), Member: session.ID})
			return nil
		})
		return err
	}

	if err := s.client.Watch(ctx, txf, key); err != nil {
		if errors.Is(err, backend.TxFailedErr) {
			return &domain.ConflictError{Kind: "session", ID: session.ID, Expected: expectedVersion, Actual: -1}
		}
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return err
		}
		return fmt.Errorf("redis put failed: %w", err)
	}

	session.Version = record.Version
	return nil
}

func storedVersion(ctx context.Context, tx *backend.Tx, key string) (int64, error) {
	data, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, backend.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("failed to read stored version: %w", err)
	}
	return head.Version, nil
}

// expiry is the index score of a session written now.
func (s *Store) expiry() float64 {
	if s.ttl <= 0 {
		return 0
	}
	return float64(time.Now().Add(s.ttl).UnixMilli()) / 1000
}

// Delete removes a session.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(sessionID))
	pipe.ZRem(ctx, s.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// List returns the IDs of the stored sessions, dropping expired index entries first.
func (s *Store) List(ctx context.Context) ([]string, error) {
	if s.ttl > 0 {
		// Entries with score 0 were written without a TTL and never expire.
		now := strconv.FormatFloat(float64(time.Now().UnixMilli())/1000, 'f', 3, 64)
		if err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "(0", now).Err(); err != nil {
			return nil, fmt.Errorf("redis index cleanup failed: %w", err)
		}
	}

	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list failed: %w", err)
	}
	return ids, nil
}
