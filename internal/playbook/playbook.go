// Package playbook defines response playbooks and the executor that
// runs them. A playbook is an ordered, versioned list of steps; each
// step invokes a registered action with templated inputs under its own
// deadline and error policy.
package playbook

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"watchtower-soar/internal/predicate"
)

// ErrorPolicy controls what happens when a step's action fails.
type ErrorPolicy string

const (
	// OnErrorAbort stops the playbook and marks the execution failed.
	OnErrorAbort ErrorPolicy = "abort"

	// OnErrorContinue records the failure and moves to the next step.
	OnErrorContinue ErrorPolicy = "continue"

	// OnErrorRollback compensates previously-succeeded steps in reverse
	// order, then marks the execution failed.
	OnErrorRollback ErrorPolicy = "rollback"
)

// Step is one ordered unit of a playbook. Steps are immutable once the
// playbook is versioned.
type Step struct {
	Sequence  int            `json:"sequence" yaml:"sequence"`
	Key       string         `json:"step_key" yaml:"step_key"`
	ActionID  string         `json:"action_id" yaml:"action_id"`
	Condition string         `json:"condition,omitempty" yaml:"condition,omitempty"`
	Inputs    map[string]any `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	OnError   ErrorPolicy    `json:"on_error" yaml:"on_error"`
	TimeoutMs int            `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Timeout returns the step deadline, or def when unset.
func (s *Step) Timeout(def time.Duration) time.Duration {
	if s.TimeoutMs > 0 {
		return time.Duration(s.TimeoutMs) * time.Millisecond
	}
	return def
}

// Playbook is an ordered, versioned sequence of response steps.
type Playbook struct {
	ID          string `json:"id" yaml:"id"`
	Version     int    `json:"version" yaml:"version"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Validate checks structural invariants: non-empty ID, at least one
// step, unique step keys, and known error policies.
func (p *Playbook) Validate() error {
	if p.ID == "" {
		return errors.New("playbook: id is required")
	}
	if p.Version < 1 {
		return fmt.Errorf("playbook %s: version must be at least 1", p.ID)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("playbook %s: at least one step is required", p.ID)
	}

	keys := make(map[string]bool, len(p.Steps))
	for _, step := range p.Steps {
		if step.Key == "" {
			return fmt.Errorf("playbook %s: step %d has no key", p.ID, step.Sequence)
		}
		if keys[step.Key] {
			return fmt.Errorf("playbook %s: duplicate step key %q", p.ID, step.Key)
		}
		keys[step.Key] = true

		if step.ActionID == "" {
			return fmt.Errorf("playbook %s: step %q has no action", p.ID, step.Key)
		}
		switch step.OnError {
		case OnErrorAbort, OnErrorContinue, OnErrorRollback:
		case "":
			return fmt.Errorf("playbook %s: step %q has no error policy", p.ID, step.Key)
		default:
			return fmt.Errorf("playbook %s: step %q has unknown error policy %q", p.ID, step.Key, step.OnError)
		}
		if step.Condition != "" {
			if _, err := predicate.Parse(step.Condition); err != nil {
				return fmt.Errorf("playbook %s: step %q condition: %w", p.ID, step.Key, err)
			}
		}
	}
	return nil
}

// orderedSteps returns the steps sorted by sequence.
func (p *Playbook) orderedSteps() []Step {
	steps := make([]Step, len(p.Steps))
	copy(steps, p.Steps)
	sort.Slice(steps, func(i, j int) bool { return steps[i].Sequence < steps[j].Sequence })
	return steps
}
