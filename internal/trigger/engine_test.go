package trigger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower-soar/internal/action"
	"watchtower-soar/internal/binding"
	"watchtower-soar/internal/dedup"
	"watchtower-soar/internal/jobqueue"
	"watchtower-soar/internal/playbook"
	"watchtower-soar/internal/schema"
)

type fixture struct {
	engine   *Engine
	registry *binding.Registry
	guard    dedup.Store
	queue    *jobqueue.Queue
	store    *playbook.Store
	sink     *captureSink
}

type captureSink struct {
	mu         sync.Mutex
	executions []*playbook.Execution
}

func (s *captureSink) RecordExecution(ctx context.Context, exec *playbook.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions = append(s.executions, exec)
	return nil
}

func (s *captureSink) snapshot() []*playbook.Execution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*playbook.Execution(nil), s.executions...)
}

type okAction struct{ id string }

func (a okAction) ID() string { return a.id }
func (a okAction) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"done": true}, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.Default()

	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })

	registry, err := binding.NewRegistry(binding.NewMemoryStore(), schema.NewValidator())
	require.NoError(t, err)

	guard := dedup.NewRedisStoreFromClient(client, time.Hour, logger)

	qcfg := jobqueue.DefaultConfig()
	qcfg.DequeueWait = 50 * time.Millisecond
	queue, err := jobqueue.New(client, qcfg, nil, logger)
	require.NoError(t, err)

	store := playbook.NewStore()
	require.NoError(t, store.Add(&playbook.Playbook{
		ID:      "pb-respond",
		Version: 1,
		Name:    "Respond",
		Steps: []playbook.Step{
			{Sequence: 1, Key: "only", ActionID: "ok", OnError: playbook.OnErrorAbort},
		},
	}))

	actions := action.NewRegistry()
	actions.Register(okAction{id: "ok"})

	sink := &captureSink{}
	executor := playbook.NewExecutor(store, actions, sink, time.Second, logger)

	engine, err := New(DefaultConfig(), registry, guard, queue, executor, logger)
	require.NoError(t, err)

	return &fixture{
		engine:   engine,
		registry: registry,
		guard:    guard,
		queue:    queue,
		store:    store,
		sink:     sink,
	}
}

func criticalBinding(priority int) *binding.Binding {
	return &binding.Binding{
		EventType:      schema.EventTypeAlertCreated,
		Predicate:      "severity == 'critical'",
		PlaybookID:     "pb-respond",
		Priority:       priority,
		IsActive:       true,
		OrganizationID: "org-1",
	}
}

func criticalEvent() *schema.Event {
	return &schema.Event{
		ID:             uuid.New(),
		Type:           schema.EventTypeAlertCreated,
		EntityID:       uuid.NewString(),
		EntityType:     schema.EntityTypeAlert,
		OrganizationID: "org-1",
		Timestamp:      time.Now().UTC(),
		Data:           map[string]any{"severity": "critical", "alertId": uuid.NewString()},
		SchemaVersion:  schema.SchemaVersionCurrent,
	}
}

func TestEngineStopIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.engine.Start(ctx))
	f.engine.Stop()
	f.engine.Stop()

	assert.Error(t, f.engine.Start(ctx), "a stopped engine must not restart")
}

func TestHandleEventDispatchesMatchingBinding(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Create(criticalBinding(10)))

	require.NoError(t, f.engine.HandleEvent(ctx, criticalEvent()))

	depths, err := f.queue.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths["pending"])
}

func TestHandleEventSkipsNonMatchingPredicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := criticalBinding(10)
	b.Predicate = "severity == 'low'"
	require.NoError(t, f.registry.Create(b))

	require.NoError(t, f.engine.HandleEvent(ctx, criticalEvent()))

	depths, err := f.queue.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depths["pending"])
}

func TestRedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.registry.Create(criticalBinding(10)))

	event := criticalEvent()
	require.NoError(t, f.engine.HandleEvent(ctx, event))
	require.NoError(t, f.engine.HandleEvent(ctx, event), "redelivery must not error")

	depths, err := f.queue.Depths(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depths["pending"], "redelivery must not enqueue a second job")
}

func TestMatchesDispatchInPriorityOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, p := range []int{5, 10, 1} {
		require.NoError(t, f.registry.Create(criticalBinding(p)))
	}

	require.NoError(t, f.engine.HandleEvent(ctx, criticalEvent()))

	var priorities []int
	for {
		job, err := f.queue.Dequeue(ctx)
		if err != nil {
			break
		}
		b, err := f.registry.Get(job.BindingID)
		require.NoError(t, err)
		priorities = append(priorities, b.Priority)
		require.NoError(t, f.queue.Ack(ctx, job))
	}
	// LPUSH + BRPOPLPUSH is FIFO, so dequeue order mirrors dispatch order.
	assert.Equal(t, []int{10, 5, 1}, priorities)
}

func TestEndToEndCriticalAlertRunsPlaybook(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, f.registry.Create(criticalBinding(10)))
	event := criticalEvent()
	require.NoError(t, f.engine.HandleEvent(ctx, event))

	require.NoError(t, f.engine.Start(ctx))
	defer f.engine.Stop()

	deadline := time.After(3 * time.Second)
	for len(f.sink.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no execution recorded within deadline")
		case <-time.After(20 * time.Millisecond):
		}
	}

	exec := f.sink.snapshot()[0]
	assert.Equal(t, "pb-respond", exec.PlaybookID)
	assert.Equal(t, playbook.StatusCompleted, exec.Status)

	// The dedup record eventually carries the execution id; it is written
	// after the sink callback.
	bindings := f.registry.List("org-1")
	require.Len(t, bindings, 1)
	key := dedup.Key{EventID: event.ID.String(), BindingID: bindings[0].ID}
	for {
		rec, err := f.guard.Get(ctx, key)
		require.NoError(t, err)
		if rec.ExecutionID != "" {
			assert.Equal(t, exec.ID.String(), rec.ExecutionID)
			return
		}
		select {
		case <-deadline:
			t.Fatal("execution id never recorded against dedup key")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
