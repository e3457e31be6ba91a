package schema

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func validEvent() *Event {
	return &Event{
		ID:             uuid.New(),
		Type:           EventTypeAlertCreated,
		EntityID:       uuid.NewString(),
		EntityType:     EntityTypeAlert,
		OrganizationID: "org-1",
		Timestamp:      time.Now().UTC(),
		Data:           map[string]any{"severity": "high"},
		SchemaVersion:  SchemaVersionCurrent,
	}
}

func TestValidator_ValidateEvent(t *testing.T) {
	v := NewValidator()

	if err := v.ValidateEvent(validEvent()); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Event)
	}{
		{"missing type", func(e *Event) { e.Type = "" }},
		{"bad type format", func(e *Event) { e.Type = "Alert.Created" }},
		{"missing entity id", func(e *Event) { e.EntityID = "" }},
		{"missing org", func(e *Event) { e.OrganizationID = "" }},
		{"zero timestamp", func(e *Event) { e.Timestamp = time.Time{} }},
		{"future timestamp", func(e *Event) { e.Timestamp = time.Now().Add(time.Hour) }},
		{"ancient timestamp", func(e *Event) { e.Timestamp = time.Now().Add(-365 * 24 * time.Hour) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(e)
			if err := v.ValidateEvent(e); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestValidator_ValidateAlert(t *testing.T) {
	v := NewValidator()

	alert := &Alert{
		ID:             uuid.New(),
		Title:          "Suspicious login burst",
		Severity:       SeverityHigh,
		Source:         "auth-service",
		SourceIP:       "10.1.2.3",
		Timestamp:      time.Now().UTC(),
		Status:         AlertStatusNew,
		OrganizationID: "org-1",
	}
	if err := v.ValidateAlert(alert); err != nil {
		t.Fatalf("valid alert rejected: %v", err)
	}

	alert.Severity = "urgent"
	if err := v.ValidateAlert(alert); err == nil {
		t.Error("expected error for invalid severity")
	}

	alert.Severity = SeverityHigh
	alert.SourceIP = "not-an-ip"
	if err := v.ValidateAlert(alert); err == nil {
		t.Error("expected error for invalid source ip")
	}
}

func TestValidateEventType(t *testing.T) {
	valid := []string{"alert.created", "intel.indicator_added", "playbook.execution.completed"}
	invalid := []string{"", "Alert.created", "alert..created", ".alert", "alert.", "alert created"}

	for _, s := range valid {
		if !ValidateEventType(s) {
			t.Errorf("ValidateEventType(%q) = false, want true", s)
		}
	}
	for _, s := range invalid {
		if ValidateEventType(s) {
			t.Errorf("ValidateEventType(%q) = true, want false", s)
		}
	}
}

func TestNewAlertCreatedEvent(t *testing.T) {
	alert := &Alert{
		ID:             uuid.New(),
		Title:          "Malware detected",
		Severity:       SeverityCritical,
		Source:         "edr",
		SourceIP:       "192.0.2.10",
		Timestamp:      time.Now().UTC(),
		OrganizationID: "org-7",
		Metadata:       map[string]any{"category": "malware", "hostname": "ws-042"},
	}

	ev := NewAlertCreatedEvent(alert)

	if ev.Type != EventTypeAlertCreated {
		t.Errorf("type = %q", ev.Type)
	}
	if ev.EntityID != alert.ID.String() {
		t.Errorf("entity id = %q", ev.EntityID)
	}
	if ev.OrganizationID != "org-7" {
		t.Errorf("org = %q", ev.OrganizationID)
	}
	if ev.Data["severity"] != "critical" {
		t.Errorf("severity = %v", ev.Data["severity"])
	}
	if ev.Data["category"] != "malware" {
		t.Errorf("category = %v", ev.Data["category"])
	}
	if ev.Data["sourceIp"] != "192.0.2.10" {
		t.Errorf("sourceIp = %v", ev.Data["sourceIp"])
	}

	env := ev.PredicateEnv()
	if env["severity"] != "critical" {
		t.Errorf("env severity = %v", env["severity"])
	}
	if env["entityId"] != alert.ID.String() {
		t.Errorf("env entityId = %v", env["entityId"])
	}
}

func TestSeverity(t *testing.T) {
	if SeverityCritical.Weight() != 1.0 || SeverityLow.Weight() != 0.25 {
		t.Error("unexpected severity weights")
	}
	if MaxSeverity([]Severity{SeverityLow, SeverityCritical, SeverityMedium}) != SeverityCritical {
		t.Error("MaxSeverity should pick critical")
	}
	if !SeverityHigh.IsValid() || Severity("urgent").IsValid() {
		t.Error("severity validity check wrong")
	}
}
