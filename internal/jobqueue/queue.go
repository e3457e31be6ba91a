// Package jobqueue provides the durable work queue between trigger
// dispatch and playbook execution. Jobs live in Redis: a pending list
// feeds workers, an in-flight list covers crash recovery, a delayed
// sorted set holds retries waiting out their backoff, and a dead-letter
// list collects jobs that exhausted their attempts.
package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"watchtower-soar/internal/schema"
)

// Job is one unit of playbook work produced by a trigger firing.
type Job struct {
	ID             uuid.UUID     `json:"id"`
	EventID        string        `json:"event_id"`
	BindingID      uuid.UUID     `json:"binding_id"`
	PlaybookID     string        `json:"playbook_id"`
	OrganizationID string        `json:"organization_id"`
	Event          *schema.Event `json:"event"`
	Attempts       int           `json:"attempts"`
	EnqueuedAt     time.Time     `json:"enqueued_at"`
	LastError      string        `json:"last_error,omitempty"`

	// raw is the serialized form sitting in the in-flight list; Ack and
	// Nack need the exact bytes for removal.
	raw []byte
}

// ErrEmpty is returned by Dequeue when no job arrived within the wait.
var ErrEmpty = errors.New("jobqueue: no job available")

// Config holds queue behavior settings.
type Config struct {
	// KeyPrefix namespaces all queue keys in Redis.
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// MaxAttempts before a job is dead-lettered.
	MaxAttempts int `json:"max_attempts" yaml:"max_attempts"`

	// BaseBackoff is the first retry delay; it doubles per attempt up to
	// MaxBackoff.
	BaseBackoff time.Duration `json:"base_backoff" yaml:"base_backoff"`
	MaxBackoff  time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// DequeueWait is how long a worker blocks waiting for a job.
	DequeueWait time.Duration `json:"dequeue_wait" yaml:"dequeue_wait"`

	// PromoteInterval is how often delayed jobs are checked for readiness.
	PromoteInterval time.Duration `json:"promote_interval" yaml:"promote_interval"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix:       "soar:jobs",
		MaxAttempts:     5,
		BaseBackoff:     2 * time.Second,
		MaxBackoff:      5 * time.Minute,
		DequeueWait:     2 * time.Second,
		PromoteInterval: time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("jobqueue: key prefix is required")
	}
	if c.MaxAttempts < 1 {
		return errors.New("jobqueue: max attempts must be at least 1")
	}
	if c.BaseBackoff <= 0 {
		return errors.New("jobqueue: base backoff must be positive")
	}
	return nil
}

// Archiver receives dead-lettered jobs for long-term storage.
type Archiver interface {
	ArchiveDeadJob(ctx context.Context, job *Job) error
}

// Queue is the Redis-backed job queue.
type Queue struct {
	client   *redis.Client
	config   *Config
	archiver Archiver
	logger   *slog.Logger
	metrics  queueMetrics
}

type queueMetrics struct {
	enqueued    atomic.Int64
	dequeued    atomic.Int64
	acked       atomic.Int64
	retried     atomic.Int64
	deadLetters atomic.Int64
}

// New creates a queue on an existing Redis client. The archiver may be
// nil; dead jobs then stay only in the dead-letter list.
func New(client *redis.Client, cfg *Config, archiver Archiver, logger *slog.Logger) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Queue{
		client:   client,
		config:   cfg,
		archiver: archiver,
		logger:   logger,
	}, nil
}

func (q *Queue) pendingKey() string  { return q.config.KeyPrefix + ":pending" }
func (q *Queue) inFlightKey() string { return q.config.KeyPrefix + ":inflight" }
func (q *Queue) delayedKey() string  { return q.config.KeyPrefix + ":delayed" }
func (q *Queue) deadKey() string     { return q.config.KeyPrefix + ":dead" }

// Enqueue adds a job to the pending list.
func (q *Queue) Enqueue(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.pendingKey(), data).Err(); err != nil {
		return fmt.Errorf("jobqueue: enqueue: %w", err)
	}

	q.metrics.enqueued.Add(1)
	q.logger.Debug("job enqueued",
		"job_id", job.ID,
		"binding_id", job.BindingID,
		"playbook_id", job.PlaybookID)
	return nil
}

// Dequeue blocks up to DequeueWait for a job, moving it atomically to
// the in-flight list. Callers must Ack or Nack the returned job.
func (q *Queue) Dequeue(ctx context.Context) (*Job, error) {
	data, err := q.client.BRPopLPush(ctx, q.pendingKey(), q.inFlightKey(), q.config.DequeueWait).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("jobqueue: dequeue: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		// A payload that cannot be decoded can never succeed; park it.
		q.client.LRem(ctx, q.inFlightKey(), 1, data)
		q.client.LPush(ctx, q.deadKey(), data)
		q.metrics.deadLetters.Add(1)
		return nil, fmt.Errorf("jobqueue: unmarshal job: %w", err)
	}
	job.raw = data

	q.metrics.dequeued.Add(1)
	return &job, nil
}

// Ack removes a completed job from the in-flight list.
func (q *Queue) Ack(ctx context.Context, job *Job) error {
	if err := q.client.LRem(ctx, q.inFlightKey(), 1, job.raw).Err(); err != nil {
		return fmt.Errorf("jobqueue: ack: %w", err)
	}
	q.metrics.acked.Add(1)
	return nil
}

// Nack records a failed attempt. The job is scheduled for retry with
// exponential backoff, or dead-lettered once attempts are exhausted.
func (q *Queue) Nack(ctx context.Context, job *Job, cause error) error {
	if err := q.client.LRem(ctx, q.inFlightKey(), 1, job.raw).Err(); err != nil {
		return fmt.Errorf("jobqueue: nack remove: %w", err)
	}

	job.Attempts++
	if cause != nil {
		job.LastError = cause.Error()
	}

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobqueue: marshal job: %w", err)
	}

	if job.Attempts >= q.config.MaxAttempts {
		if err := q.client.LPush(ctx, q.deadKey(), data).Err(); err != nil {
			return fmt.Errorf("jobqueue: dead-letter: %w", err)
		}
		q.metrics.deadLetters.Add(1)
		q.logger.Error("job dead-lettered",
			"job_id", job.ID,
			"attempts", job.Attempts,
			"error", job.LastError)

		if q.archiver != nil {
			if err := q.archiver.ArchiveDeadJob(ctx, job); err != nil {
				q.logger.Error("dead job archive failed", "job_id", job.ID, "error", err)
			}
		}
		return nil
	}

	delay := q.backoff(job.Attempts)
	readyAt := time.Now().Add(delay)
	if err := q.client.ZAdd(ctx, q.delayedKey(), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("jobqueue: schedule retry: %w", err)
	}

	q.metrics.retried.Add(1)
	q.logger.Warn("job scheduled for retry",
		"job_id", job.ID,
		"attempt", job.Attempts,
		"delay", delay,
		"error", job.LastError)
	return nil
}

func (q *Queue) backoff(attempt int) time.Duration {
	d := time.Duration(float64(q.config.BaseBackoff) * math.Pow(2, float64(attempt-1)))
	if d > q.config.MaxBackoff {
		d = q.config.MaxBackoff
	}
	return d
}

// PromoteDelayed moves retry jobs whose backoff elapsed back to the
// pending list. Returns the number promoted.
func (q *Queue) PromoteDelayed(ctx context.Context) (int, error) {
	now := float64(time.Now().UnixMilli())
	members, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue: scan delayed: %w", err)
	}

	promoted := 0
	for _, member := range members {
		// ZRem first so a concurrent promoter cannot double-promote.
		removed, err := q.client.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return promoted, fmt.Errorf("jobqueue: remove delayed: %w", err)
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, q.pendingKey(), member).Err(); err != nil {
			return promoted, fmt.Errorf("jobqueue: promote: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// RunPromoter promotes delayed jobs on an interval until ctx ends.
func (q *Queue) RunPromoter(ctx context.Context) {
	ticker := time.NewTicker(q.config.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := q.PromoteDelayed(ctx); err != nil {
				if !errors.Is(err, context.Canceled) {
					q.logger.Error("delayed promotion failed", "error", err)
				}
			} else if n > 0 {
				q.logger.Debug("promoted delayed jobs", "count", n)
			}
		}
	}
}

// RecoverInFlight requeues jobs stranded in the in-flight list, used at
// startup after a crash. Jobs currently held by live workers should not
// exist when this is called.
func (q *Queue) RecoverInFlight(ctx context.Context) (int, error) {
	recovered := 0
	for {
		data, err := q.client.RPopLPush(ctx, q.inFlightKey(), q.pendingKey()).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return recovered, nil
			}
			return recovered, fmt.Errorf("jobqueue: recover: %w", err)
		}
		_ = data
		recovered++
	}
}

// Depths reports the current size of each queue segment.
func (q *Queue) Depths(ctx context.Context) (map[string]int64, error) {
	pending, err := q.client.LLen(ctx, q.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: depth: %w", err)
	}
	inflight, err := q.client.LLen(ctx, q.inFlightKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: depth: %w", err)
	}
	delayed, err := q.client.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: depth: %w", err)
	}
	dead, err := q.client.LLen(ctx, q.deadKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue: depth: %w", err)
	}
	return map[string]int64{
		"pending":  pending,
		"inflight": inflight,
		"delayed":  delayed,
		"dead":     dead,
	}, nil
}

// Stats returns queue counters.
func (q *Queue) Stats() map[string]int64 {
	return map[string]int64{
		"enqueued":     q.metrics.enqueued.Load(),
		"dequeued":     q.metrics.dequeued.Load(),
		"acked":        q.metrics.acked.Load(),
		"retried":      q.metrics.retried.Load(),
		"dead_letters": q.metrics.deadLetters.Load(),
	}
}
