package playbook

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus is the lifecycle state of a playbook run.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// StepStatus is the outcome of one step within an execution.
type StepStatus string

const (
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records one step's outcome.
type StepResult struct {
	Sequence    int            `json:"sequence"`
	Key         string         `json:"step_key"`
	ActionID    string         `json:"action_id"`
	Status      StepStatus     `json:"status"`
	Inputs      map[string]any `json:"inputs,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	Compensated bool           `json:"compensated,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
}

// Execution is the record of one playbook run. It is created when the
// trigger fires and finalized exactly once.
type Execution struct {
	ID              uuid.UUID       `json:"id"`
	PlaybookID      string          `json:"playbook_id"`
	PlaybookVersion int             `json:"playbook_version"`
	Status          ExecutionStatus `json:"status"`
	TriggerSource   string          `json:"trigger_source"`
	TriggerEntityID string          `json:"trigger_entity_id"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Results         []StepResult    `json:"results"`
	Error           string          `json:"error,omitempty"`
}

// finalize transitions the execution to its terminal status. It is a
// no-op if the execution already finished.
func (e *Execution) finalize(status ExecutionStatus, errMsg string) {
	if e.CompletedAt != nil {
		return
	}
	now := time.Now().UTC()
	e.CompletedAt = &now
	e.Status = status
	e.Error = errMsg
}
