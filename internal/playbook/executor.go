package playbook

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"watchtower-soar/internal/action"
	"watchtower-soar/internal/logging"
	"watchtower-soar/internal/predicate"
)

// TriggerContext describes what fired the playbook. Env is exposed to
// step conditions and input templates under the "trigger" namespace.
type TriggerContext struct {
	Source   string
	EntityID string
	Env      map[string]any
}

// ExecutionSink receives finalized executions for persistence.
type ExecutionSink interface {
	RecordExecution(ctx context.Context, exec *Execution) error
}

// Executor runs playbooks step by step. Each execution finalizes
// exactly once; a running execution can be cancelled between steps.
type Executor struct {
	store          *Store
	actions        *action.Registry
	sink           ExecutionSink
	logger         *slog.Logger
	defaultTimeout time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]*atomic.Bool
}

// NewExecutor creates an executor. The sink may be nil.
func NewExecutor(store *Store, actions *action.Registry, sink ExecutionSink, defaultTimeout time.Duration, logger *slog.Logger) *Executor {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	return &Executor{
		store:          store,
		actions:        actions,
		sink:           sink,
		logger:         logger,
		defaultTimeout: defaultTimeout,
		running:        make(map[uuid.UUID]*atomic.Bool),
	}
}

// Cancel marks a running execution cancelled. No further steps start;
// the in-flight step, if any, runs to its own deadline. Returns false
// if the execution is not currently running.
func (e *Executor) Cancel(executionID uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	flag, ok := e.running[executionID]
	if !ok {
		return false
	}
	flag.Store(true)
	return true
}

type succeededStep struct {
	step   Step
	act    action.Action
	inputs map[string]any
	output map[string]any
}

// Execute runs the latest version of a playbook against the trigger.
// Step failures are captured in the execution record; the returned
// error is reserved for being unable to run at all (unknown playbook).
func (e *Executor) Execute(ctx context.Context, playbookID string, trigger *TriggerContext) (*Execution, error) {
	pb, err := e.store.Get(playbookID)
	if err != nil {
		return nil, fmt.Errorf("playbook: load %s: %w", playbookID, err)
	}

	exec := &Execution{
		ID:              uuid.New(),
		PlaybookID:      pb.ID,
		PlaybookVersion: pb.Version,
		Status:          StatusRunning,
		TriggerSource:   trigger.Source,
		TriggerEntityID: trigger.EntityID,
		StartedAt:       time.Now().UTC(),
	}

	cancelled := &atomic.Bool{}
	e.mu.Lock()
	e.running[exec.ID] = cancelled
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.running, exec.ID)
		e.mu.Unlock()
	}()

	e.logger.Info("playbook execution started",
		"execution_id", exec.ID,
		"playbook_id", pb.ID,
		"version", pb.Version,
		"trigger_source", trigger.Source)

	env := predicate.MapEnv{
		"trigger": trigger.Env,
		"steps":   map[string]any{},
	}
	stepsNS := env["steps"].(map[string]any)

	var succeeded []succeededStep

	for _, step := range pb.orderedSteps() {
		if cancelled.Load() {
			exec.finalize(StatusCancelled, "execution cancelled")
			break
		}

		if step.Condition != "" && !e.conditionHolds(step, env) {
			exec.Results = append(exec.Results, StepResult{
				Sequence:    step.Sequence,
				Key:         step.Key,
				ActionID:    step.ActionID,
				Status:      StepSkipped,
				StartedAt:   time.Now().UTC(),
				CompletedAt: time.Now().UTC(),
			})
			continue
		}

		result, stepOutput, act, inputs := e.runStep(ctx, step, env)
		exec.Results = append(exec.Results, result)

		if result.Status == StepSucceeded {
			stepsNS[step.Key] = map[string]any{"output": stepOutput}
			succeeded = append(succeeded, succeededStep{step: step, act: act, inputs: inputs, output: stepOutput})
			continue
		}

		switch step.OnError {
		case OnErrorContinue:
			continue
		case OnErrorRollback:
			e.rollback(ctx, exec, succeeded)
			exec.finalize(StatusFailed, fmt.Sprintf("step %q failed: %s", step.Key, result.Error))
		default: // abort
			exec.finalize(StatusFailed, fmt.Sprintf("step %q failed: %s", step.Key, result.Error))
		}
		break
	}

	exec.finalize(StatusCompleted, "")

	e.logger.Info("playbook execution finished",
		"execution_id", exec.ID,
		"playbook_id", pb.ID,
		"status", exec.Status)

	if e.sink != nil {
		if err := e.sink.RecordExecution(ctx, exec); err != nil {
			e.logger.Error("execution record persist failed",
				"execution_id", exec.ID, "error", err)
		}
	}
	return exec, nil
}

// conditionHolds evaluates a step condition; evaluation problems count
// as false, they never fail the execution.
func (e *Executor) conditionHolds(step Step, env predicate.Env) bool {
	ok, err := predicate.Evaluate(step.Condition, env)
	if err != nil {
		e.logger.Warn("step condition did not evaluate",
			"step_key", step.Key, "error", err)
		return false
	}
	return ok
}

func (e *Executor) runStep(ctx context.Context, step Step, env predicate.MapEnv) (StepResult, map[string]any, action.Action, map[string]any) {
	result := StepResult{
		Sequence:  step.Sequence,
		Key:       step.Key,
		ActionID:  step.ActionID,
		StartedAt: time.Now().UTC(),
	}
	fail := func(err error) (StepResult, map[string]any, action.Action, map[string]any) {
		result.Status = StepFailed
		result.Error = err.Error()
		result.CompletedAt = time.Now().UTC()
		e.logger.Warn("step failed",
			"step_key", step.Key, "action_id", step.ActionID,
			"inputs", result.Inputs, "error", err)
		return result, nil, nil, nil
	}

	act, err := e.actions.Get(step.ActionID)
	if err != nil {
		return fail(err)
	}

	inputs, err := resolveInputs(step.Inputs, env)
	if err != nil {
		return fail(err)
	}
	// Inputs carry webhook tokens and API keys; only the masked form may
	// reach the execution record or the log.
	result.Inputs = logging.MaskInputs(inputs)

	stepCtx, cancel := context.WithTimeout(ctx, step.Timeout(e.defaultTimeout))
	defer cancel()

	output, err := act.Execute(stepCtx, inputs)
	if err != nil {
		if stepCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("action timed out after %s: %w", step.Timeout(e.defaultTimeout), err)
		}
		return fail(err)
	}

	result.Status = StepSucceeded
	result.Output = output
	result.CompletedAt = time.Now().UTC()
	return result, output, act, inputs
}

// rollback compensates previously-succeeded steps in reverse order.
// Actions without a compensator are left in place and logged.
func (e *Executor) rollback(ctx context.Context, exec *Execution, succeeded []succeededStep) {
	for i := len(succeeded) - 1; i >= 0; i-- {
		s := succeeded[i]
		comp, ok := s.act.(action.Compensator)
		if !ok {
			e.logger.Warn("step has no compensator, skipping rollback",
				"step_key", s.step.Key, "action_id", s.step.ActionID)
			continue
		}
		if err := comp.Compensate(ctx, s.inputs, s.output); err != nil {
			e.logger.Error("compensation failed",
				"step_key", s.step.Key, "action_id", s.step.ActionID, "error", err)
			continue
		}
		for j := range exec.Results {
			if exec.Results[j].Key == s.step.Key {
				exec.Results[j].Compensated = true
			}
		}
	}
}

var templatePattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][\w.]*)\s*\}\}`)

// resolveInputs substitutes {{path}} references against the trigger and
// prior-step namespaces. A value that is exactly one template keeps the
// referenced value's type; embedded templates render as strings.
func resolveInputs(inputs map[string]any, env predicate.Env) (map[string]any, error) {
	if inputs == nil {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(inputs))
	for key, val := range inputs {
		resolved, err := resolveValue(val, env)
		if err != nil {
			return nil, fmt.Errorf("playbook: input %q: %w", key, err)
		}
		out[key] = resolved
	}
	return out, nil
}

func resolveValue(val any, env predicate.Env) (any, error) {
	switch v := val.(type) {
	case string:
		return resolveString(v, env)
	case map[string]any:
		return resolveInputs(v, env)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			resolved, err := resolveValue(item, env)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return val, nil
	}
}

func resolveString(s string, env predicate.Env) (any, error) {
	match := templatePattern.FindStringSubmatch(s)
	if match == nil {
		return s, nil
	}

	// Whole-string template: preserve the referenced value's type.
	if match[0] == strings.TrimSpace(s) {
		val, ok := env.Resolve(strings.Split(match[1], "."))
		if !ok {
			return nil, fmt.Errorf("unresolved reference %q", match[1])
		}
		return val, nil
	}

	var resolveErr error
	result := templatePattern.ReplaceAllStringFunc(s, func(m string) string {
		path := templatePattern.FindStringSubmatch(m)[1]
		val, ok := env.Resolve(strings.Split(path, "."))
		if !ok {
			resolveErr = fmt.Errorf("unresolved reference %q", path)
			return m
		}
		return fmt.Sprint(val)
	})
	if resolveErr != nil {
		return nil, resolveErr
	}
	return result, nil
}
