// Package eventlog provides the durable, ordered event log backing the
// alert stream. Events are appended to Kafka partitioned by organization,
// so per-organization publish order is preserved, and consumed through
// consumer groups with explicit acknowledgement.
package eventlog

import (
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Config holds event log connection and behavior configuration.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string `json:"brokers" yaml:"brokers"`

	// Topic is the event topic.
	Topic string `json:"topic" yaml:"topic"`

	// DeadLetterTopic receives events that exhausted handler retries.
	DeadLetterTopic string `json:"dead_letter_topic" yaml:"dead_letter_topic"`

	// ConsumerGroup is the consumer group ID.
	ConsumerGroup string `json:"consumer_group" yaml:"consumer_group"`

	// Partitions is the number of partitions when creating topics.
	Partitions int `json:"partitions" yaml:"partitions"`

	// ReplicationFactor for topic creation.
	ReplicationFactor int `json:"replication_factor" yaml:"replication_factor"`

	// CompressionType: none, gzip, snappy, lz4, zstd.
	CompressionType string `json:"compression_type" yaml:"compression_type"`

	// Producer settings
	ProducerBatchSize    int           `json:"producer_batch_size" yaml:"producer_batch_size"`
	ProducerBatchTimeout time.Duration `json:"producer_batch_timeout" yaml:"producer_batch_timeout"`
	ProducerMaxRetries   int           `json:"producer_max_retries" yaml:"producer_max_retries"`
	RequiredAcks         int           `json:"required_acks" yaml:"required_acks"` // -1=all, 0=none, 1=leader

	// Consumer settings
	ConsumerMinBytes int           `json:"consumer_min_bytes" yaml:"consumer_min_bytes"`
	ConsumerMaxBytes int           `json:"consumer_max_bytes" yaml:"consumer_max_bytes"`
	ConsumerMaxWait  time.Duration `json:"consumer_max_wait" yaml:"consumer_max_wait"`
	StartOffset      int64         `json:"start_offset" yaml:"start_offset"` // -1=latest, -2=earliest

	// HandlerMaxRetries is how many times a failing handler is retried for
	// one event before the event moves to the dead-letter topic.
	HandlerMaxRetries int `json:"handler_max_retries" yaml:"handler_max_retries"`

	// HandlerRetryBackoff is the initial backoff between handler retries;
	// it doubles per attempt.
	HandlerRetryBackoff time.Duration `json:"handler_retry_backoff" yaml:"handler_retry_backoff"`

	// Connection settings
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Brokers:              []string{"localhost:9092"},
		Topic:                "soar-events",
		DeadLetterTopic:      "soar-events-dlq",
		ConsumerGroup:        "soar-trigger-engine",
		Partitions:           12,
		ReplicationFactor:    3,
		CompressionType:      "lz4",
		ProducerBatchSize:    100,
		ProducerBatchTimeout: 10 * time.Millisecond,
		ProducerMaxRetries:   3,
		RequiredAcks:         -1, // Wait for all replicas
		ConsumerMinBytes:     1,
		ConsumerMaxBytes:     10 * 1024 * 1024,
		ConsumerMaxWait:      500 * time.Millisecond,
		StartOffset:          kafka.FirstOffset,
		HandlerMaxRetries:    3,
		HandlerRetryBackoff:  time.Second,
		DialTimeout:          10 * time.Second,
		ReadTimeout:          30 * time.Second,
		WriteTimeout:         30 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("eventlog: at least one broker is required")
	}
	if c.Topic == "" {
		return errors.New("eventlog: topic is required")
	}
	if c.ConsumerGroup == "" {
		return errors.New("eventlog: consumer group is required")
	}
	if c.Partitions < 1 {
		return errors.New("eventlog: partitions must be at least 1")
	}
	if c.ReplicationFactor < 1 {
		return errors.New("eventlog: replication factor must be at least 1")
	}
	if c.HandlerMaxRetries < 0 {
		return errors.New("eventlog: handler max retries must not be negative")
	}
	switch c.CompressionType {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("eventlog: invalid compression type: %s", c.CompressionType)
	}
	return nil
}

// GetCompression returns the kafka-go compression codec for the config.
func (c *Config) GetCompression() kafka.Compression {
	switch c.CompressionType {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return 0
	}
}
