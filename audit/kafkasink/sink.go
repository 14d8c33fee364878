// Package kafkasink publishes audit events to a Kafka topic as JSON.
//
// Messages are keyed by user id, falling back to the subject (email or
// wallet address), so the hash balancer keeps one identity's events ordered
// within a partition.
package kafkasink

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	walletauth "github.com/MrEthical07/walletauth"
)

const defaultTimeout = 5 * time.Second

// Writer is the subset of *kafka.Writer the sink needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter returns a synchronous writer for topic. The caller closes it
// after the engine has drained its audit buffer.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
}

// Sink implements walletauth.AuditSink. Publish failures are logged and
// counted; they never reach the request that produced the event.
type Sink struct {
	writer  Writer
	logger  *zap.Logger
	timeout time.Duration
	failed  atomic.Uint64
}

// New wraps w. A nil logger discards failure logs.
func New(w Writer, logger *zap.Logger) (*Sink, error) {
	if w == nil {
		return nil, errors.New("kafkasink: writer required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{writer: w, logger: logger.Named("audit.kafka"), timeout: defaultTimeout}, nil
}

func (s *Sink) Emit(ctx context.Context, event walletauth.AuditEvent) {
	value, err := json.Marshal(event)
	if err != nil {
		s.fail(event, err)
		return
	}

	key := event.UserID
	if key == "" {
		key = event.Subject
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
	if err != nil {
		s.fail(event, err)
	}
}

// Failed reports how many events could not be published.
func (s *Sink) Failed() uint64 {
	return s.failed.Load()
}

func (s *Sink) fail(event walletauth.AuditEvent, err error) {
	n := s.failed.Add(1)
	s.logger.Warn("audit publish failed",
		zap.String("event_type", event.EventType),
		zap.Uint64("failed_total", n),
		zap.Error(err),
	)
}
