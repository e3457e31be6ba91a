package correlation

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower-soar/internal/schema"
)

func alertAt(title, source string, severity schema.Severity, ts time.Time) *schema.Alert {
	return &schema.Alert{
		ID:             uuid.New(),
		Title:          title,
		Severity:       severity,
		Source:         source,
		Timestamp:      ts,
		Status:         schema.AlertStatusNew,
		OrganizationID: "org-1",
	}
}

func TestTemporalSequenceOfThree(t *testing.T) {
	c := NewTemporalCorrelator(DefaultTemporalConfig(), slog.Default())
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	a1 := alertAt("Failed login burst", "edr", schema.SeverityHigh, base)
	a2 := alertAt("Privilege escalation attempt", "edr", schema.SeverityHigh, base.Add(2*time.Minute))
	a3 := alertAt("Ransomware payload detected", "edr", schema.SeverityCritical, base.Add(4*time.Minute))

	patterns := c.FindPatterns([]*schema.Alert{a3, a1, a2})
	require.NotEmpty(t, patterns)

	// The highest-confidence pattern covering all three alerts.
	var full *Pattern
	for _, p := range patterns {
		if len(p.Entities) == 3 {
			full = p
			break
		}
	}
	require.NotNil(t, full, "expected a pattern spanning all three alerts")
	assert.Greater(t, full.Confidence, 0.5)
	assert.ElementsMatch(t,
		[]string{a1.ID.String(), a2.ID.String(), a3.ID.String()},
		full.AlertIDs())
	assert.Equal(t, TechniqueTemporal, full.Technique)
}

func TestTemporalRejectsWideSpread(t *testing.T) {
	cfg := DefaultTemporalConfig()
	cfg.TimeWindowHours = 1
	c := NewTemporalCorrelator(cfg, slog.Default())
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	alerts := []*schema.Alert{
		alertAt("Port scan", "fw", schema.SeverityLow, base),
		alertAt("Port scan repeat", "fw", schema.SeverityLow, base.Add(3*time.Hour)),
	}
	assert.Empty(t, c.FindPatterns(alerts), "span beyond the window produces nothing")
}

func TestTemporalLowSeverityBelowThreshold(t *testing.T) {
	c := NewTemporalCorrelator(DefaultTemporalConfig(), slog.Default())
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// Two low-severity alerts from one source spread across most of the
	// window: every factor is weak.
	alerts := []*schema.Alert{
		alertAt("Noise", "fw", schema.SeverityLow, base),
		alertAt("More noise", "fw", schema.SeverityLow, base.Add(22*time.Hour)),
	}
	assert.Empty(t, c.FindPatterns(alerts))
}

func TestTemporalZeroWindowScoresFinite(t *testing.T) {
	cfg := &TemporalConfig{TimeWindowHours: 0, MinConfidence: 0.5}
	c := NewTemporalCorrelator(cfg, slog.Default())
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	// Same-timestamp alerts have zero span, so a zero window admits them.
	alerts := []*schema.Alert{
		alertAt("Credential theft", "edr", schema.SeverityCritical, base),
		alertAt("Ransomware payload detected", "ndr", schema.SeverityCritical, base),
	}
	patterns := c.FindPatterns(alerts)
	require.NotEmpty(t, patterns)
	for _, p := range patterns {
		assert.False(t, math.IsNaN(p.Confidence), "confidence must stay finite")
		assert.Greater(t, p.Confidence, cfg.MinConfidence)
	}
}

func TestTemporalConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultTemporalConfig().Validate())

	cfg := DefaultTemporalConfig()
	cfg.TimeWindowHours = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultTemporalConfig()
	cfg.MinConfidence = 1
	assert.Error(t, cfg.Validate())
}

func TestTemporalSingleAlert(t *testing.T) {
	c := NewTemporalCorrelator(DefaultTemporalConfig(), slog.Default())
	assert.Nil(t, c.FindPatterns([]*schema.Alert{
		alertAt("Lonely", "edr", schema.SeverityCritical, time.Now()),
	}))
}

func TestClassifyAlert(t *testing.T) {
	tests := []struct {
		title  string
		source string
		want   string
	}{
		{"Brute force login attempt", "auth-svc", labelAuthentication},
		{"Ransomware detected on host", "edr", labelMalware},
		{"CVE-2026-1234 exploitation", "ids", labelExploit},
		{"Outbound beacon to known C2", "ndr", labelCommandAndControl},
		{"Data exfil to external bucket", "dlp", labelDataMovement},
		{"Internal network scan", "fw", labelReconnaissance},
		{"Lateral movement via psexec", "edr", labelLateralMovement},
		{"Privilege escalation on server", "edr", labelAccess},
		{"Something odd", "Custom Sensor", "custom_sensor"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			a := &schema.Alert{Title: tt.title, Source: tt.source}
			assert.Equal(t, tt.want, classifyAlert(a))
		})
	}
}
