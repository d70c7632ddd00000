package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/octane-lb/octane/pkg/telemetry"
)

// MessageWriter is the part of kafka.Writer the producers use.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func newWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// JobWriter submits jobs to the job topic.
type JobWriter struct {
	writer MessageWriter
}

// NewJobWriter creates a writer for the job topic.
func NewJobWriter(brokers []string, topic string) *JobWriter {
	return &JobWriter{writer: newWriter(brokers, topic)}
}

// NewJobWriterWithWriter creates a job writer over an existing writer.
func NewJobWriterWithWriter(w MessageWriter) *JobWriter {
	return &JobWriter{writer: w}
}

// Submit encodes params as the payload of operation and writes the job.
// key orders jobs for the same entity onto one partition.
func (j *JobWriter) Submit(ctx context.Context, key, operation string, params any) error {
	payload, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", operation, err)
	}
	value, err := json.Marshal(Job{Operation: operation, Payload: payload})
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}
	if err := j.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("failed to submit %s: %w", operation, err)
	}
	return nil
}

// Close closes the writer.
func (j *JobWriter) Close() error {
	return j.writer.Close()
}

// EventWriter forwards telemetry events to the events topic.
type EventWriter struct {
	writer  MessageWriter
	timeout time.Duration
	logger  zerolog.Logger
}

// NewEventWriter creates a writer for the events topic.
func NewEventWriter(brokers []string, topic string, logger zerolog.Logger) *EventWriter {
	return NewEventWriterWithWriter(newWriter(brokers, topic), logger)
}

// NewEventWriterWithWriter creates an event writer over an existing writer.
func NewEventWriterWithWriter(w MessageWriter, logger zerolog.Logger) *EventWriter {
	return &EventWriter{
		writer:  w,
		timeout: 10 * time.Second,
		logger:  logger.With().Str("component", "event-writer").Logger(),
	}
}

// Attach subscribes the writer to ep. A nil filter forwards every event.
func (w *EventWriter) Attach(ep *telemetry.EventPublisher, filter telemetry.EventFilter) {
	ep.Subscribe(w.Handle, filter)
}

// Handle writes one event. It is a telemetry.EventSubscriber; failures are
// logged since subscribers cannot return errors.
func (w *EventWriter) Handle(event telemetry.Event) {
	value, err := json.Marshal(event)
	if err != nil {
		w.logger.Error().Err(err).Str("event_type", event.Type).Msg("Failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	msg := kafka.Message{Key: []byte(eventKey(event)), Value: value}
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		w.logger.Warn().Err(err).Str("event_type", event.Type).Msg("Failed to forward event")
	}
}

// Close closes the writer.
func (w *EventWriter) Close() error {
	return w.writer.Close()
}

func eventKey(e telemetry.Event) string {
	switch {
	case e.LoadBalancerID != "":
		return e.LoadBalancerID
	case e.AmphoraID != "":
		return e.AmphoraID
	case e.EntityID != "":
		return e.EntityID
	default:
		return e.Type
	}
}
