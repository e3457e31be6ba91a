package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"watchtower-soar/internal/schema"
)

// EventHandler processes a consumed event. Return nil to acknowledge;
// any error triggers redelivery with backoff, and after HandlerMaxRetries
// the event moves to the dead-letter topic.
type EventHandler func(ctx context.Context, event *schema.Event) error

// Consumer reads the event log through a consumer group with explicit
// commits: an event's offset is committed only after the handler returned
// nil (or the event was dead-lettered), giving at-least-once delivery.
// The consume loop is single-threaded, preserving per-partition order.
type Consumer struct {
	reader     *kafka.Reader
	deadLetter *kafka.Writer
	config     *Config
	handler    EventHandler
	logger     *slog.Logger
	metrics    consumerMetrics
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	started    atomic.Bool
	closed     atomic.Bool
}

type consumerMetrics struct {
	consumed    atomic.Int64
	retried     atomic.Int64
	deadLetters atomic.Int64
	malformed   atomic.Int64
}

// NewConsumer creates a consumer-group reader for the configured topic.
func NewConsumer(cfg *Config, handler EventHandler, logger *slog.Logger) (*Consumer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, errors.New("eventlog: event handler is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.ConsumerGroup,
		Topic:       cfg.Topic,
		MinBytes:    cfg.ConsumerMinBytes,
		MaxBytes:    cfg.ConsumerMaxBytes,
		MaxWait:     cfg.ConsumerMaxWait,
		StartOffset: cfg.StartOffset,
		// CommitInterval zero means synchronous, explicit commits.
		CommitInterval: 0,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "eventlog-reader")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "eventlog-reader")
		}),
	})

	var dlq *kafka.Writer
	if cfg.DeadLetterTopic != "" {
		dlq = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.DeadLetterTopic,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireAll,
		}
	}

	logger.Info("event log consumer initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"group", cfg.ConsumerGroup)

	return &Consumer{
		reader:     reader,
		deadLetter: dlq,
		config:     cfg,
		handler:    handler,
		logger:     logger,
	}, nil
}

// Start begins consuming in a goroutine. Use Stop to shut down.
func (c *Consumer) Start(ctx context.Context) error {
	if c.started.Swap(true) {
		return errors.New("eventlog: consumer already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.consumeLoop(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error("event log consume loop exited", "error", err)
		}
	}()
	return nil
}

// Stop halts consumption and closes the reader.
func (c *Consumer) Stop() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.deadLetter != nil {
		c.deadLetter.Close()
	}
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || c.closed.Load() {
				return nil
			}
			return fmt.Errorf("eventlog: fetch: %w", err)
		}

		if err := c.processMessage(ctx, msg); err != nil {
			return err
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("eventlog: commit: %w", err)
		}
	}
}

// processMessage runs the handler with bounded retries. A message that
// cannot be decoded or keeps failing goes to the dead-letter topic so the
// consumer group does not stall; it is then committed like a handled one.
func (c *Consumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event schema.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.metrics.malformed.Add(1)
		c.logger.Error("malformed event payload, dead-lettering",
			"partition", msg.Partition,
			"offset", msg.Offset,
			"error", err)
		return c.sendToDeadLetter(ctx, msg, err)
	}

	backoff := c.config.HandlerRetryBackoff
	var lastErr error
	for attempt := 0; attempt <= c.config.HandlerMaxRetries; attempt++ {
		if attempt > 0 {
			c.metrics.retried.Add(1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		lastErr = c.handler(ctx, &event)
		if lastErr == nil {
			c.metrics.consumed.Add(1)
			return nil
		}
		c.logger.Warn("event handler failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"attempt", attempt+1,
			"error", lastErr)
	}

	c.logger.Error("event handler exhausted retries, dead-lettering",
		"event_id", event.ID,
		"event_type", event.Type,
		"error", lastErr)
	return c.sendToDeadLetter(ctx, msg, lastErr)
}

func (c *Consumer) sendToDeadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	c.metrics.deadLetters.Add(1)
	if c.deadLetter == nil {
		c.logger.Error("no dead-letter topic configured, dropping event",
			"partition", msg.Partition, "offset", msg.Offset)
		return nil
	}

	out := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers, kafka.Header{
			Key:   "dlq_reason",
			Value: []byte(cause.Error()),
		}),
		Time: time.Now(),
	}
	if err := c.deadLetter.WriteMessages(ctx, out); err != nil {
		// Returning the error keeps the offset uncommitted, so the event
		// is redelivered rather than lost.
		return fmt.Errorf("eventlog: dead-letter write: %w", err)
	}
	return nil
}

// Stats returns consumer counters.
func (c *Consumer) Stats() map[string]int64 {
	return map[string]int64{
		"consumed":     c.metrics.consumed.Load(),
		"retried":      c.metrics.retried.Load(),
		"dead_letters": c.metrics.deadLetters.Load(),
		"malformed":    c.metrics.malformed.Load(),
	}
}
