// Package trigger connects the event log to playbook execution: it
// matches consumed events against the binding registry, dispatches one
// job per (event, binding) pair through the dedup guard, and runs a
// worker pool that executes the queued playbooks.
package trigger

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"watchtower-soar/internal/binding"
	"watchtower-soar/internal/dedup"
	"watchtower-soar/internal/jobqueue"
	"watchtower-soar/internal/metrics"
	"watchtower-soar/internal/playbook"
	"watchtower-soar/internal/schema"
)

// Processing states, recorded in dispatch logs.
const (
	StateReceived   = "received"
	StateMatched    = "matched"
	StateDispatched = "dispatched"
	StateCompleted  = "completed"
	StateFailed     = "failed"
)

// Config holds trigger engine settings.
type Config struct {
	// Workers is the size of the playbook worker pool.
	Workers int `json:"workers" yaml:"workers"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{Workers: 8}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errors.New("trigger: at least one worker is required")
	}
	return nil
}

// Engine matches events to bindings and runs the resulting jobs.
type Engine struct {
	config   *Config
	registry *binding.Registry
	guard    dedup.Store
	queue    *jobqueue.Queue
	executor *playbook.Executor
	logger   *slog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
	mu      sync.Mutex
}

// New creates an engine.
func New(cfg *Config, registry *binding.Registry, guard dedup.Store, queue *jobqueue.Queue, executor *playbook.Executor, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		config:   cfg,
		registry: registry,
		guard:    guard,
		queue:    queue,
		executor: executor,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// HandleEvent is the event log handler. It dispatches every matching
// binding before returning; a nil return lets the consumer commit the
// offset. A *DispatchError leaves the offset in place so the event is
// redelivered, and the dedup guard makes the retry skip pairs that
// already went out.
func (e *Engine) HandleEvent(ctx context.Context, event *schema.Event) error {
	metrics.EventsReceived.WithLabelValues(event.Type).Inc()
	e.logger.Debug("event received",
		"event_id", event.ID,
		"event_type", event.Type,
		"state", StateReceived)

	matches := e.registry.FindMatches(event.Type, event.OrganizationID)
	for _, b := range matches {
		if !e.registry.Matches(b, event) {
			continue
		}
		metrics.BindingMatches.WithLabelValues(event.Type).Inc()

		key := dedup.Key{EventID: event.ID.String(), BindingID: b.ID}
		reserved, err := e.guard.Reserve(ctx, key)
		if err != nil {
			return &DispatchError{EventID: key.EventID, BindingID: b.ID.String(), Err: err}
		}
		if !reserved {
			// Already dispatched on a previous delivery.
			metrics.DedupConflicts.Inc()
			e.logger.Debug("match already dispatched",
				"event_id", event.ID, "binding_id", b.ID)
			continue
		}

		job := &jobqueue.Job{
			EventID:        key.EventID,
			BindingID:      b.ID,
			PlaybookID:     b.PlaybookID,
			OrganizationID: event.OrganizationID,
			Event:          event,
		}
		if err := e.queue.Enqueue(ctx, job); err != nil {
			// Undo the reservation so the redelivery can dispatch this
			// pair. Best effort: if the release also fails, the pair is
			// skipped on retry, losing one firing rather than doubling it.
			if relErr := e.guard.Release(ctx, key); relErr != nil {
				e.logger.Error("dedup release failed after enqueue failure",
					"event_id", event.ID, "binding_id", b.ID, "error", relErr)
			}
			return &DispatchError{EventID: key.EventID, BindingID: b.ID.String(), Err: err}
		}

		e.logger.Info("playbook job dispatched",
			"event_id", event.ID,
			"binding_id", b.ID,
			"playbook_id", b.PlaybookID,
			"priority", b.Priority,
			"state", StateDispatched)
		metrics.JobsDispatched.Inc()
	}
	return nil
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return errors.New("trigger: engine already started")
	}
	if e.stopped {
		return errors.New("trigger: engine already stopped")
	}
	e.started = true

	for i := 0; i < e.config.Workers; i++ {
		e.wg.Add(1)
		go e.worker(ctx, i)
	}
	e.logger.Info("trigger workers started", "count", e.config.Workers)
	return nil
}

// Stop signals the workers and waits for in-flight jobs to finish.
// Safe to call more than once.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
}

func (e *Engine) worker(ctx context.Context, id int) {
	defer e.wg.Done()
	logger := e.logger.With("worker", id)

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		job, err := e.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, jobqueue.ErrEmpty) || errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error("dequeue failed", "error", err)
			select {
			case <-e.stopCh:
				return
			case <-time.After(time.Second):
			}
			continue
		}

		e.runJob(ctx, logger, job)
	}
}

// runJob executes one playbook job. Execution failures are terminal for
// the job (the record carries the error); only infrastructure failures
// are retried via Nack.
func (e *Engine) runJob(ctx context.Context, logger *slog.Logger, job *jobqueue.Job) {
	start := time.Now()
	exec, err := e.executor.Execute(ctx, job.PlaybookID, &playbook.TriggerContext{
		Source:   "binding:" + job.BindingID.String(),
		EntityID: job.Event.EntityID,
		Env:      job.Event.PredicateEnv(),
	})
	if err != nil {
		logger.Error("playbook invocation failed",
			"job_id", job.ID, "playbook_id", job.PlaybookID, "error", err)
		if nackErr := e.queue.Nack(ctx, job, err); nackErr != nil {
			logger.Error("nack failed", "job_id", job.ID, "error", nackErr)
		}
		return
	}

	metrics.ExecutionsFinished.WithLabelValues(string(exec.Status)).Inc()
	metrics.ExecutionDuration.Observe(time.Since(start).Seconds())

	key := dedup.Key{EventID: job.EventID, BindingID: job.BindingID}
	if err := e.guard.SetExecution(ctx, key, exec.ID.String()); err != nil {
		logger.Error("execution id record failed",
			"job_id", job.ID, "execution_id", exec.ID, "error", err)
	}

	if err := e.queue.Ack(ctx, job); err != nil {
		logger.Error("ack failed", "job_id", job.ID, "error", err)
		return
	}

	state := StateCompleted
	if exec.Status != playbook.StatusCompleted {
		state = StateFailed
	}
	logger.Info("playbook job finished",
		"job_id", job.ID,
		"execution_id", exec.ID,
		"playbook_id", job.PlaybookID,
		"status", exec.Status,
		"state", state)
}
