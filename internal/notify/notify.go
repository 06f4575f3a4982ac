// Package notify publishes ledger transitions so retry tooling can react to
// failed and quarantined files without polling the ledger.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rickgao/marketlake/internal/model"
)

// Transition is one terminal ledger state change.
type Transition struct {
	FileID           int32                  `json:"file_id"`
	Vendor           string                 `json:"vendor"`
	DataType         string                 `json:"data_type"`
	RelativePath     string                 `json:"relative_path"`
	Status           model.FileStatus       `json:"status"`
	QuarantineReason model.QuarantineReason `json:"quarantine_reason,omitempty"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	RowCount         int64                  `json:"row_count"`
	Attempts         int32                  `json:"attempts"`
	RunID            string                 `json:"run_id"`
	ProcessedAt      int64                  `json:"processed_at"`
}

// FromRecord builds the transition for a ledger record.
func FromRecord(r model.IngestionRecord) Transition {
	t := Transition{
		FileID:           r.FileID,
		Vendor:           r.Vendor,
		DataType:         r.DataType,
		RelativePath:     r.RelativePath,
		Status:           r.Status,
		QuarantineReason: r.QuarantineReason,
		RowCount:         r.RowCount,
		Attempts:         r.Attempts,
		RunID:            r.RunID,
		ProcessedAt:      r.ProcessedAt,
	}
	if r.ErrorMessage != nil {
		t.ErrorMessage = *r.ErrorMessage
	}
	return t
}

// Publisher delivers transitions.
type Publisher interface {
	Publish(ctx context.Context, t Transition) error
	Close() error
}

// Nop discards transitions.
type Nop struct{}

func (Nop) Publish(context.Context, Transition) error { return nil }
func (Nop) Close() error                              { return nil }

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaPublisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

// KafkaPublisher writes transitions as JSON keyed by file id, so every
// transition of one file lands on the same partition in order.
type KafkaPublisher struct {
	w       messageWriter
	timeout time.Duration
	logger  *slog.Logger
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
	}
	return newKafkaPublisher(w, cfg.WriteTimeout, logger)
}

func newKafkaPublisher(w messageWriter, timeout time.Duration, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{w: w, timeout: timeout, logger: logger}
}

// Publish writes t and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, t Transition) error {
	value, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal transition: %w", err)
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(int64(t.FileID), 10)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(t.Status)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish transition", "file_id", t.FileID, "status", t.Status, "err", err)
		return fmt.Errorf("publish transition for file %d: %w", t.FileID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
