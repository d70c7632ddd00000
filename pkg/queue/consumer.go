// Package queue connects the controller worker to Kafka. Consumer reads
// jobs from the job topic and dispatches them to the worker; EventWriter
// forwards controller events to the events topic; JobWriter submits jobs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	kafka "github.com/segmentio/kafka-go"

	"github.com/octane-lb/octane/pkg/telemetry"
)

// Job is the message format of the job topic.
type Job struct {
	Operation string          `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
}

// Dispatcher runs one job. controller.Worker implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, operation string, payload json.RawMessage) error
}

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures a Consumer.
type Config struct {
	Brokers        []string
	Topic          string
	GroupID        string
	Workers        int
	MinBytes       int
	MaxBytes       int
	MaxWait        time.Duration
	CommitInterval time.Duration
}

// Consumer fetches jobs and runs them on a fixed pool of workers.
type Consumer struct {
	reader     MessageReader
	dispatcher Dispatcher
	workers    int
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithMetrics records every job outcome.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Consumer) { c.logger = logger }
}

// NewConsumer creates a consumer group reader for cfg.Topic.
func NewConsumer(cfg Config, d Dispatcher, opts ...Option) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    kafka.FirstOffset,
	})
	return NewConsumerWithReader(reader, d, cfg.Workers, opts...)
}

// NewConsumerWithReader creates a consumer over an existing reader.
func NewConsumerWithReader(r MessageReader, d Dispatcher, workers int, opts ...Option) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	c := &Consumer{
		reader:     r,
		dispatcher: d,
		workers:    workers,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "queue-consumer").Logger()
	return c
}

// Run consumes until ctx is cancelled or the reader fails, then waits for
// in-flight jobs. Every fetched message is committed once handled, whatever
// the outcome; a failed job is logged and not redelivered.
func (c *Consumer) Run(ctx context.Context) error {
	msgs := make(chan kafka.Message)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range msgs {
				c.handle(ctx, msg)
			}
		}()
	}

	c.logger.Info().Int("workers", c.workers).Msg("Consuming jobs")

	err := c.fetch(ctx, msgs)
	close(msgs)
	wg.Wait()

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (c *Consumer) fetch(ctx context.Context, msgs chan<- kafka.Message) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to fetch job: %w", err)
		}
		select {
		case msgs <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	defer c.commit(ctx, msg)

	var job Job
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		c.logger.Error().
			Err(err).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Msg("Failed to decode job, dropping it")
		c.metrics.RecordQueueJob("unknown", "malformed")
		return
	}

	logger := c.logger.With().
		Str("operation", job.Operation).
		Int64("offset", msg.Offset).
		Logger()

	timer := telemetry.NewTimer()
	if err := c.dispatcher.Dispatch(ctx, job.Operation, job.Payload); err != nil {
		logger.Error().Err(err).Dur("duration", timer.Duration()).Msg("Job failed")
		c.metrics.RecordQueueJob(job.Operation, "error")
		return
	}
	logger.Debug().Dur("duration", timer.Duration()).Msg("Job completed")
	c.metrics.RecordQueueJob(job.Operation, "success")
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	// commit even when the run was cancelled mid-job so the job is not replayed
	commitCtx := context.WithoutCancel(ctx)
	if err := c.reader.CommitMessages(commitCtx, msg); err != nil {
		c.logger.Error().Err(err).Int64("offset", msg.Offset).Msg("Failed to commit job, it may be delivered again")
	}
}

// Close closes the reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
