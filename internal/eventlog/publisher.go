package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"watchtower-soar/internal/schema"
)

// Publisher appends events to the durable log and notifies the in-process
// bus. Messages are keyed by organization id so one organization's events
// land on one partition and preserve publish order.
type Publisher struct {
	writer    *kafka.Writer
	bus       *Bus
	validator *schema.Validator
	logger    *slog.Logger
	metrics   publisherMetrics
	closed    atomic.Bool
}

type publisherMetrics struct {
	published atomic.Int64
	errors    atomic.Int64
}

// NewPublisher creates a publisher for the configured topic.
func NewPublisher(cfg *Config, bus *Bus, validator *schema.Validator, logger *slog.Logger) (*Publisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.ProducerBatchSize,
		BatchTimeout: cfg.ProducerBatchTimeout,
		MaxAttempts:  cfg.ProducerMaxRetries,
		WriteTimeout: cfg.WriteTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:  cfg.GetCompression(),
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "eventlog-writer")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "eventlog-writer")
		}),
	}

	logger.Info("event log publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"compression", cfg.CompressionType)

	return &Publisher{
		writer:    writer,
		bus:       bus,
		validator: validator,
		logger:    logger,
	}, nil
}

// Publish appends an event to the log and notifies bus subscribers. The
// durable append happens first; subscribers observe only events that made
// it into the log.
func (p *Publisher) Publish(ctx context.Context, event *schema.Event) error {
	if p.closed.Load() {
		return fmt.Errorf("eventlog: publisher is closed")
	}
	if err := p.validator.ValidateEvent(event); err != nil {
		p.metrics.errors.Add(1)
		return err
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.metrics.errors.Add(1)
		return fmt.Errorf("eventlog: marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.OrganizationID),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.errors.Add(1)
		return fmt.Errorf("eventlog: publish: %w", err)
	}
	p.metrics.published.Add(1)

	if p.bus != nil {
		p.bus.Notify(ctx, event)
	}
	return nil
}

// PublishAlertCreated builds and publishes the alert.created event for a
// newly persisted alert.
func (p *Publisher) PublishAlertCreated(ctx context.Context, alert *schema.Alert) (*schema.Event, error) {
	event := schema.NewAlertCreatedEvent(alert)
	if err := p.Publish(ctx, event); err != nil {
		return nil, err
	}
	p.logger.Debug("alert.created published",
		"event_id", event.ID,
		"alert_id", alert.ID,
		"severity", alert.Severity)
	return event, nil
}

// Stats returns publisher counters.
func (p *Publisher) Stats() map[string]int64 {
	return map[string]int64{
		"published": p.metrics.published.Load(),
		"errors":    p.metrics.errors.Load(),
	}
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.writer.Close()
}
