// Package kafka publishes completed conversation sessions to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/aretw0/coachflow/internal/logging"
	"github.com/aretw0/coachflow/pkg/domain"
)

// DefaultTopic receives archived sessions when no topic is configured.
const DefaultTopic = "coachflow.sessions.completed"

// messageWriter is the subset of *kafka.Writer used by the sink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ArchiveSink implements ports.ArchiveSink. Messages are keyed by session ID
// so every record for a session lands on the same partition.
type ArchiveSink struct {
	writer  messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures the ArchiveSink.
type Option func(*ArchiveSink)

// WithWriteTimeout bounds each publish.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *ArchiveSink) {
		s.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *ArchiveSink) {
		s.logger = l
	}
}

// NewArchiveSink creates a sink writing to topic on brokers.
func NewArchiveSink(brokers []string, topic string, opts ...Option) (*ArchiveSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka archive: no brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return newArchiveSink(w, opts...), nil
}

func newArchiveSink(w messageWriter, opts ...Option) *ArchiveSink {
	s := &ArchiveSink{writer: w, timeout: 10 * time.Second, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Archive publishes the session as JSON.
func (s *ArchiveSink) Archive(ctx context.Context, session *domain.ConversationSession) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", session.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(session.ID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "topic", Value: []byte(session.Topic)},
			{Key: "tenant_id", Value: []byte(session.TenantID)},
			{Key: "status", Value: []byte(session.Status)},
		},
		Time: session.UpdatedAt,
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to archive session %s: %w", session.ID, err)
	}
	s.logger.Debug("Session archived", "session_id", session.ID, "bytes", len(payload))
	return nil
}

// Close flushes and closes the writer.
func (s *ArchiveSink) Close() error {
	return s.writer.Close()
}
