package schema

import (
	"time"

	"github.com/google/uuid"
)

// Event type constants. Types are dotted lowercase, entity first.
const (
	EventTypeAlertCreated = "alert.created"
)

// Entity type constants.
const (
	EntityTypeAlert = "alert"
)

// SchemaVersionCurrent is the current version of the wire event schema.
const SchemaVersionCurrent = "1.0.0"

// Event is the wire representation published to the durable event log.
// One event corresponds to exactly one domain occurrence; the ID travels
// with the payload so redeliveries carry the same identity.
type Event struct {
	ID             uuid.UUID      `json:"event_id" validate:"required"`
	Type           string         `json:"type" validate:"required,event_type"`
	EntityID       string         `json:"entity_id" validate:"required,max=256"`
	EntityType     string         `json:"entity_type" validate:"required,max=64"`
	OrganizationID string         `json:"organization_id" validate:"required,max=128"`
	Timestamp      time.Time      `json:"timestamp" validate:"required"`
	Data           map[string]any `json:"data,omitempty"`
	SchemaVersion  string         `json:"schema_version"`
}

// NewAlertCreatedEvent builds the alert.created wire event for an alert.
func NewAlertCreatedEvent(alert *Alert) *Event {
	data := map[string]any{
		"alertId":  alert.ID.String(),
		"severity": string(alert.Severity),
	}
	if alert.Metadata != nil {
		if category, ok := alert.Metadata["category"].(string); ok {
			data["category"] = category
		}
		if hostID, ok := alert.Metadata["host_id"].(string); ok {
			data["hostId"] = hostID
		}
		if hostname, ok := alert.Metadata["hostname"].(string); ok {
			data["hostname"] = hostname
		}
	}
	if alert.SourceIP != "" {
		data["sourceIp"] = alert.SourceIP
	}

	return &Event{
		ID:             uuid.New(),
		Type:           EventTypeAlertCreated,
		EntityID:       alert.ID.String(),
		EntityType:     EntityTypeAlert,
		OrganizationID: alert.OrganizationID,
		Timestamp:      alert.Timestamp,
		Data:           data,
		SchemaVersion:  SchemaVersionCurrent,
	}
}

// PredicateEnv returns the field namespace predicates evaluate against.
// Data fields are addressable both bare and under "data."; the envelope
// fields keep their wire names.
func (e *Event) PredicateEnv() map[string]any {
	env := make(map[string]any, len(e.Data)+5)
	for k, v := range e.Data {
		env[k] = v
	}
	env["type"] = e.Type
	env["entityId"] = e.EntityID
	env["entityType"] = e.EntityType
	env["organizationId"] = e.OrganizationID
	env["data"] = e.Data
	return env
}
