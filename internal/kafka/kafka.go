// Package kafka fans persisted awakening records out to a Kafka topic for
// downstream consumers.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sweeney/crib-sensor/internal/config"
)

// Writer is the subset of *kafka.Writer used here.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AwakeningRecord is the message value. Metadata is the stored
// event_metadata document, unchanged.
type AwakeningRecord struct {
	ID         int64           `json:"id"`
	SubjectID  string          `json:"subject_id"`
	Metadata   json.RawMessage `json:"event_metadata"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// Publisher writes awakening records keyed by subject, so one subject's
// records stay ordered within a partition.
type Publisher struct {
	w      Writer
	logger *zap.Logger
}

// NewWriter creates a synchronous writer for cfg.
func NewWriter(cfg config.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}

// NewPublisher wraps w.
func NewPublisher(w Writer, logger *zap.Logger) *Publisher {
	return &Publisher{w: w, logger: logger.With(zap.String("component", "kafka"))}
}

// Publish writes rec. Callers treat a failure as non-fatal: the record is
// already in Postgres.
func (p *Publisher) Publish(ctx context.Context, rec AwakeningRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode awakening record: %w", err)
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.SubjectID),
		Value: value,
		Time:  rec.RecordedAt,
	})
	if err != nil {
		return fmt.Errorf("write awakening record: %w", err)
	}
	p.logger.Debug("awakening record published",
		zap.Int64("id", rec.ID),
		zap.String("subject_id", rec.SubjectID))
	return nil
}

// Close closes the writer.
func (p *Publisher) Close() error {
	return p.w.Close()
}
