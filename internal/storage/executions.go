package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"watchtower-soar/internal/correlation"
	"watchtower-soar/internal/playbook"
	"watchtower-soar/internal/schema"
)

// ExecutionStore persists playbook execution records. It satisfies the
// executor's ExecutionSink.
type ExecutionStore struct {
	client *Client
}

// NewExecutionStore creates an execution store.
func NewExecutionStore(client *Client) *ExecutionStore {
	return &ExecutionStore{client: client}
}

// RecordExecution inserts a finalized execution.
func (s *ExecutionStore) RecordExecution(ctx context.Context, exec *playbook.Execution) error {
	results, err := json.Marshal(exec.Results)
	if err != nil {
		return wrapQueryError("RecordExecution", "playbook_executions", err)
	}

	if err := s.client.Exec(ctx, `
		INSERT INTO playbook_executions
			(id, playbook_id, playbook_version, status, trigger_source,
			 trigger_entity_id, started_at, completed_at, results, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.PlaybookID, uint16(exec.PlaybookVersion),
		string(exec.Status), exec.TriggerSource, exec.TriggerEntityID,
		exec.StartedAt, exec.CompletedAt, string(results), exec.Error,
	); err != nil {
		return wrapQueryError("RecordExecution", "playbook_executions", err)
	}
	return nil
}

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	PlaybookID string
	Status     string
	Since      time.Time
	Limit      int
}

// ListExecutions returns execution records, newest first.
func (s *ExecutionStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*playbook.Execution, error) {
	query := `
		SELECT id, playbook_id, playbook_version, status, trigger_source,
		       trigger_entity_id, started_at, completed_at, results, error
		FROM playbook_executions
		WHERE started_at >= ?`
	args := []any{filter.Since}

	if filter.PlaybookID != "" {
		query += " AND playbook_id = ?"
		args = append(args, filter.PlaybookID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryError("ListExecutions", "playbook_executions", err)
	}
	defer rows.Close()

	var executions []*playbook.Execution
	for rows.Next() {
		var exec playbook.Execution
		var version uint16
		var status, results string
		if err := rows.Scan(
			&exec.ID, &exec.PlaybookID, &version, &status,
			&exec.TriggerSource, &exec.TriggerEntityID, &exec.StartedAt,
			&exec.CompletedAt, &results, &exec.Error,
		); err != nil {
			return nil, wrapQueryError("ListExecutions", "playbook_executions", err)
		}
		exec.PlaybookVersion = int(version)
		exec.Status = playbook.ExecutionStatus(status)
		if results != "" {
			if err := json.Unmarshal([]byte(results), &exec.Results); err != nil {
				return nil, wrapQueryError("ListExecutions", "playbook_executions", err)
			}
		}
		executions = append(executions, &exec)
	}
	return executions, rows.Err()
}

// GetExecution returns a single execution record by id.
func (s *ExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*playbook.Execution, error) {
	rows, err := s.client.Query(ctx, `
		SELECT id, playbook_id, playbook_version, status, trigger_source,
		       trigger_entity_id, started_at, completed_at, results, error
		FROM playbook_executions
		WHERE id = ?
		LIMIT 1`, id)
	if err != nil {
		return nil, wrapQueryError("GetExecution", "playbook_executions", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, &Error{Op: "GetExecution", Table: "playbook_executions", Err: ErrNotFound}
	}

	var exec playbook.Execution
	var version uint16
	var status, results string
	if err := rows.Scan(
		&exec.ID, &exec.PlaybookID, &version, &status,
		&exec.TriggerSource, &exec.TriggerEntityID, &exec.StartedAt,
		&exec.CompletedAt, &results, &exec.Error,
	); err != nil {
		return nil, wrapQueryError("GetExecution", "playbook_executions", err)
	}
	exec.PlaybookVersion = int(version)
	exec.Status = playbook.ExecutionStatus(status)
	if results != "" {
		if err := json.Unmarshal([]byte(results), &exec.Results); err != nil {
			return nil, wrapQueryError("GetExecution", "playbook_executions", err)
		}
	}
	return &exec, rows.Err()
}

// SuggestionStore persists incident suggestions. It satisfies the
// coordinator's SuggestionSink.
type SuggestionStore struct {
	client *Client
}

// NewSuggestionStore creates a suggestion store.
func NewSuggestionStore(client *Client) *SuggestionStore {
	return &SuggestionStore{client: client}
}

// SubmitSuggestion inserts a suggestion.
func (s *SuggestionStore) SubmitSuggestion(ctx context.Context, sg *correlation.Suggestion) error {
	if err := s.client.Exec(ctx, `
		INSERT INTO incident_suggestions
			(id, pattern_id, title, description, confidence, severity,
			 technique, alert_ids, timeline, mitre_tactics,
			 recommended_actions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sg.ID, sg.PatternID, sg.Title, sg.Description, sg.Confidence,
		string(sg.Severity), sg.Technique, sg.AlertIDs, sg.Timeline,
		sg.MitreTactics, sg.RecommendedActions, sg.CreatedAt,
	); err != nil {
		return wrapQueryError("SubmitSuggestion", "incident_suggestions", err)
	}
	return nil
}

// ListSuggestions returns recent suggestions, newest first.
func (s *SuggestionStore) ListSuggestions(ctx context.Context, since time.Time, limit int) ([]*correlation.Suggestion, error) {
	query := `
		SELECT id, pattern_id, title, description, confidence, severity,
		       technique, alert_ids, timeline, mitre_tactics,
		       recommended_actions, created_at
		FROM incident_suggestions
		WHERE created_at >= ?
		ORDER BY created_at DESC`
	args := []any{since}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.client.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryError("ListSuggestions", "incident_suggestions", err)
	}
	defer rows.Close()

	var suggestions []*correlation.Suggestion
	for rows.Next() {
		var sg correlation.Suggestion
		var severity string
		if err := rows.Scan(
			&sg.ID, &sg.PatternID, &sg.Title, &sg.Description,
			&sg.Confidence, &severity, &sg.Technique, &sg.AlertIDs,
			&sg.Timeline, &sg.MitreTactics, &sg.RecommendedActions,
			&sg.CreatedAt,
		); err != nil {
			return nil, wrapQueryError("ListSuggestions", "incident_suggestions", err)
		}
		sg.Severity = schema.Severity(severity)
		suggestions = append(suggestions, &sg)
	}
	return suggestions, rows.Err()
}
