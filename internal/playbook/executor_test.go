package playbook

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower-soar/internal/action"
	"watchtower-soar/internal/logging"
)

// scriptedAction executes a canned function and records compensations.
type scriptedAction struct {
	id          string
	fn          func(ctx context.Context, inputs map[string]any) (map[string]any, error)
	compensated []map[string]any
}

func (a *scriptedAction) ID() string { return a.id }

func (a *scriptedAction) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	return a.fn(ctx, inputs)
}

func (a *scriptedAction) Compensate(ctx context.Context, inputs, outputs map[string]any) error {
	a.compensated = append(a.compensated, inputs)
	return nil
}

func okAction(id string) *scriptedAction {
	return &scriptedAction{id: id, fn: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		return map[string]any{"done": true}, nil
	}}
}

func failAction(id string) *scriptedAction {
	return &scriptedAction{id: id, fn: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		return nil, errors.New("action exploded")
	}}
}

func threeStepPlaybook(onError ErrorPolicy) *Playbook {
	return &Playbook{
		ID:      "pb-test",
		Version: 1,
		Name:    "Test playbook",
		Steps: []Step{
			{Sequence: 1, Key: "first", ActionID: "ok1", OnError: OnErrorAbort},
			{Sequence: 2, Key: "second", ActionID: "boom", OnError: onError},
			{Sequence: 3, Key: "third", ActionID: "ok2", OnError: OnErrorAbort},
		},
	}
}

func newExecutor(t *testing.T, pb *Playbook, actions ...action.Action) *Executor {
	t.Helper()
	store := NewStore()
	require.NoError(t, store.Add(pb))
	reg := action.NewRegistry()
	for _, a := range actions {
		reg.Register(a)
	}
	return NewExecutor(store, reg, nil, time.Second, slog.Default())
}

func trigger() *TriggerContext {
	return &TriggerContext{
		Source:   "binding",
		EntityID: "alert-1",
		Env:      map[string]any{"severity": "critical", "sourceIp": "203.0.113.7"},
	}
}

func TestAbortPolicyStopsPlaybook(t *testing.T) {
	third := okAction("ok2")
	exec, err := newExecutor(t, threeStepPlaybook(OnErrorAbort),
		okAction("ok1"), failAction("boom"), third).
		Execute(context.Background(), "pb-test", trigger())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	require.Len(t, exec.Results, 2, "third step never invoked")
	assert.Equal(t, StepSucceeded, exec.Results[0].Status)
	assert.Equal(t, StepFailed, exec.Results[1].Status)
	assert.NotNil(t, exec.CompletedAt)
	assert.NotEmpty(t, exec.Error)
}

func TestContinuePolicyCompletesWithFailedStep(t *testing.T) {
	exec, err := newExecutor(t, threeStepPlaybook(OnErrorContinue),
		okAction("ok1"), failAction("boom"), okAction("ok2")).
		Execute(context.Background(), "pb-test", trigger())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	require.Len(t, exec.Results, 3)
	assert.Equal(t, StepFailed, exec.Results[1].Status)
	assert.Equal(t, StepSucceeded, exec.Results[2].Status)
}

func TestRollbackPolicyCompensatesInReverse(t *testing.T) {
	first := okAction("ok1")
	exec, err := newExecutor(t, threeStepPlaybook(OnErrorRollback),
		first, failAction("boom"), okAction("ok2")).
		Execute(context.Background(), "pb-test", trigger())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Len(t, first.compensated, 1, "first step compensated")
	assert.True(t, exec.Results[0].Compensated)
}

func TestConditionSkipsStep(t *testing.T) {
	pb := &Playbook{
		ID:      "pb-cond",
		Version: 1,
		Steps: []Step{
			{Sequence: 1, Key: "always", ActionID: "ok1", OnError: OnErrorAbort},
			{Sequence: 2, Key: "gated", ActionID: "ok2", OnError: OnErrorAbort,
				Condition: "trigger.severity == 'low'"},
		},
	}
	exec, err := newExecutor(t, pb, okAction("ok1"), okAction("ok2")).
		Execute(context.Background(), "pb-cond", trigger())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, StepSkipped, exec.Results[1].Status)
}

func TestConditionOverPriorStepOutput(t *testing.T) {
	producer := &scriptedAction{id: "produce", fn: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		return map[string]any{"verdict": "malicious"}, nil
	}}
	pb := &Playbook{
		ID:      "pb-chain",
		Version: 1,
		Steps: []Step{
			{Sequence: 1, Key: "scan", ActionID: "produce", OnError: OnErrorAbort},
			{Sequence: 2, Key: "contain", ActionID: "ok1", OnError: OnErrorAbort,
				Condition: "steps.scan.output.verdict == 'malicious'"},
		},
	}
	exec, err := newExecutor(t, pb, producer, okAction("ok1")).
		Execute(context.Background(), "pb-chain", trigger())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, StepSucceeded, exec.Results[1].Status)
}

func TestInputTemplating(t *testing.T) {
	var got map[string]any
	capture := &scriptedAction{id: "capture", fn: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		got = inputs
		return map[string]any{}, nil
	}}
	pb := &Playbook{
		ID:      "pb-tmpl",
		Version: 1,
		Steps: []Step{
			{Sequence: 1, Key: "only", ActionID: "capture", OnError: OnErrorAbort,
				Inputs: map[string]any{
					"ip":      "{{trigger.sourceIp}}",
					"message": "containing {{trigger.sourceIp}} now",
					"static":  42,
				}},
		},
	}
	exec, err := newExecutor(t, pb, capture).
		Execute(context.Background(), "pb-tmpl", trigger())
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "203.0.113.7", got["ip"])
	assert.Equal(t, "containing 203.0.113.7 now", got["message"])
	assert.Equal(t, 42, got["static"])
}

func TestStepResultMasksSensitiveInputs(t *testing.T) {
	capture := &scriptedAction{id: "webhook", fn: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		// The action sees the real credential.
		assert.Equal(t, "Bearer s3cr3t", inputs["header_auth"])
		return map[string]any{}, nil
	}}
	pb := &Playbook{
		ID:      "pb-mask",
		Version: 1,
		Steps: []Step{
			{Sequence: 1, Key: "call", ActionID: "webhook", OnError: OnErrorAbort,
				Inputs: map[string]any{
					"url":         "https://hooks.example.com/x",
					"header_auth": "Bearer s3cr3t",
				}},
		},
	}
	exec, err := newExecutor(t, pb, capture).
		Execute(context.Background(), "pb-mask", trigger())
	require.NoError(t, err)

	require.Len(t, exec.Results, 1)
	assert.Equal(t, logging.MaskedValue, exec.Results[0].Inputs["header_auth"])
	assert.Equal(t, "https://hooks.example.com/x", exec.Results[0].Inputs["url"])
}

func TestStepTimeoutTreatedAsFailure(t *testing.T) {
	slow := &scriptedAction{id: "slow", fn: func(ctx context.Context, inputs map[string]any) (map[string]any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return map[string]any{}, nil
		}
	}}
	pb := &Playbook{
		ID:      "pb-slow",
		Version: 1,
		Steps: []Step{
			{Sequence: 1, Key: "slow", ActionID: "slow", OnError: OnErrorAbort, TimeoutMs: 20},
		},
	}
	exec, err := newExecutor(t, pb, slow).
		Execute(context.Background(), "pb-slow", trigger())
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Contains(t, exec.Results[0].Error, "timed out")
}

func TestUnknownActionFailsStep(t *testing.T) {
	pb := &Playbook{
		ID:      "pb-missing",
		Version: 1,
		Steps: []Step{
			{Sequence: 1, Key: "only", ActionID: "does_not_exist", OnError: OnErrorAbort},
		},
	}
	exec, err := newExecutor(t, pb).
		Execute(context.Background(), "pb-missing", trigger())
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
}

func TestUnknownPlaybook(t *testing.T) {
	store := NewStore()
	ex := NewExecutor(store, action.NewRegistry(), nil, time.Second, slog.Default())
	_, err := ex.Execute(context.Background(), "nope", trigger())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreVersioning(t *testing.T) {
	store := NewStore()
	v1 := threeStepPlaybook(OnErrorAbort)
	require.NoError(t, store.Add(v1))

	v2 := threeStepPlaybook(OnErrorContinue)
	v2.Version = 2
	require.NoError(t, store.Add(v2))

	latest, err := store.Get("pb-test")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)

	pinned, err := store.GetVersion("pb-test", 1)
	require.NoError(t, err)
	assert.Equal(t, OnErrorAbort, pinned.Steps[1].OnError)

	dup := threeStepPlaybook(OnErrorAbort)
	assert.Error(t, store.Add(dup), "re-adding an existing version is rejected")
}

func TestPlaybookValidate(t *testing.T) {
	pb := threeStepPlaybook(OnErrorAbort)
	pb.Steps[2].Key = "first"
	assert.ErrorContains(t, pb.Validate(), "duplicate step key")

	pb = threeStepPlaybook(OnErrorAbort)
	pb.Steps[0].Condition = "severity == "
	assert.Error(t, pb.Validate(), "unparseable condition rejected")

	pb = threeStepPlaybook("explode")
	assert.ErrorContains(t, pb.Validate(), "unknown error policy")
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	doc := `
id: pb-contain-host
version: 1
name: Contain host
steps:
  - sequence: 1
    step_key: block
    action_id: block_ip
    on_error: rollback
    inputs:
      ip: "{{trigger.sourceIp}}"
  - sequence: 2
    step_key: notify
    action_id: notify
    on_error: continue
    inputs:
      message: "host contained"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "contain.yaml"), []byte(doc), 0o644))

	store := NewStore()
	loaded, err := store.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	pb, err := store.Get("pb-contain-host")
	require.NoError(t, err)
	assert.Len(t, pb.Steps, 2)
	assert.Equal(t, OnErrorRollback, pb.Steps[0].OnError)
}
