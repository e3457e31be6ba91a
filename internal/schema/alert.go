// Package schema defines the canonical alert and event types shared across
// the correlation and response pipeline. Alerts are read-only views here:
// status transitions belong to the ingestion pipeline.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// Severity classifies alert impact.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// IsValid checks if the severity is a valid value.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Weight returns the fixed severity weight used in confidence scoring.
func (s Severity) Weight() float64 {
	switch s {
	case SeverityCritical:
		return 1.0
	case SeverityHigh:
		return 0.75
	case SeverityMedium:
		return 0.5
	case SeverityLow:
		return 0.25
	}
	return 0.25
}

// Rank orders severities for comparison; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// MaxSeverity returns the most severe of the given severities.
func MaxSeverity(severities []Severity) Severity {
	max := SeverityLow
	for _, s := range severities {
		if s.Rank() > max.Rank() {
			max = s
		}
	}
	return max
}

// AlertStatus represents the lifecycle status of an alert.
type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "new"
	AlertStatusAcknowledged  AlertStatus = "acknowledged"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// Alert is a normalized security alert. Immutable once correlated.
type Alert struct {
	ID             uuid.UUID      `json:"id"`
	Title          string         `json:"title" validate:"required,max=512"`
	Description    string         `json:"description,omitempty" validate:"max=8192"`
	Severity       Severity       `json:"severity" validate:"required,oneof=critical high medium low"`
	Source         string         `json:"source" validate:"required,max=256"`
	SourceIP       string         `json:"source_ip,omitempty" validate:"omitempty,ip"`
	DestinationIP  string         `json:"destination_ip,omitempty" validate:"omitempty,ip"`
	Timestamp      time.Time      `json:"timestamp" validate:"required"`
	Status         AlertStatus    `json:"status"`
	OrganizationID string         `json:"organization_id" validate:"required,max=128"`
	IOCs           IOCSet         `json:"iocs,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Tactics extracts MITRE tactic identifiers attached to the alert's metadata
// by upstream enrichment, if any.
func (a *Alert) Tactics() []string {
	if a.Metadata == nil {
		return nil
	}
	raw, ok := a.Metadata["mitre_tactics"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// IOCSet is the typed indicator-of-compromise sets attached to an entity.
// Built explicitly rather than inferred from untyped metadata at each lookup.
type IOCSet struct {
	IPs     []string `json:"ips,omitempty"`
	Domains []string `json:"domains,omitempty"`
	Hashes  []string `json:"hashes,omitempty"`
}

// IsEmpty reports whether the set contains no indicators.
func (s IOCSet) IsEmpty() bool {
	return len(s.IPs) == 0 && len(s.Domains) == 0 && len(s.Hashes) == 0
}

// ThreatIntel is a threat intelligence entry participating in graph
// correlation alongside alerts.
type ThreatIntel struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name" validate:"required,max=512"`
	Source    string         `json:"source" validate:"max=256"`
	Severity  Severity       `json:"severity,omitempty"`
	IOCs      IOCSet         `json:"iocs"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
