package correlation

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"watchtower-soar/internal/schema"
)

// Coarse event-type labels assigned by keyword matching.
const (
	labelAuthentication    = "authentication"
	labelMalware           = "malware"
	labelExploit           = "exploit"
	labelAccess            = "access"
	labelDataMovement      = "data_movement"
	labelReconnaissance    = "reconnaissance"
	labelCommandAndControl = "command_and_control"
	labelLateralMovement   = "lateral_movement"
)

// labelKeywords maps substrings of title/description/source to labels.
// Checked in order; first hit wins.
var labelKeywords = []struct {
	label    string
	keywords []string
}{
	{labelLateralMovement, []string{"lateral", "pivot", "psexec", "wmi exec"}},
	{labelCommandAndControl, []string{"c2", "command and control", "beacon", "callback"}},
	{labelDataMovement, []string{"exfil", "data transfer", "upload", "staging"}},
	{labelAuthentication, []string{"login", "logon", "auth", "password", "brute", "credential"}},
	{labelMalware, []string{"malware", "ransom", "trojan", "virus", "backdoor", "payload"}},
	{labelExploit, []string{"exploit", "cve-", "injection", "overflow", "rce"}},
	{labelReconnaissance, []string{"scan", "recon", "enumeration", "probe", "discovery"}},
	{labelAccess, []string{"access", "privilege", "escalation", "unauthorized"}},
}

// classifyAlert assigns a coarse label from keywords, falling back to a
// label derived from the alert source.
func classifyAlert(a *schema.Alert) string {
	text := strings.ToLower(a.Title + " " + a.Description + " " + a.Source)
	for _, entry := range labelKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.label
			}
		}
	}
	source := strings.ToLower(strings.TrimSpace(a.Source))
	if source == "" {
		return "unknown"
	}
	return strings.ReplaceAll(source, " ", "_")
}

// TemporalConfig holds temporal correlator settings.
type TemporalConfig struct {
	// TimeWindowHours bounds the span of an accepted sequence.
	TimeWindowHours int `json:"time_window_hours" yaml:"time_window_hours"`

	// MinConfidence is the sequence-acceptance threshold; sequences at or
	// below it are discarded silently.
	MinConfidence float64 `json:"min_confidence" yaml:"min_confidence"`
}

// DefaultTemporalConfig returns production defaults.
func DefaultTemporalConfig() *TemporalConfig {
	return &TemporalConfig{
		TimeWindowHours: 24,
		MinConfidence:   0.5,
	}
}

// Validate checks the configuration for errors.
func (c *TemporalConfig) Validate() error {
	if c.TimeWindowHours < 1 {
		return errors.New("correlation: temporal time window must be at least one hour")
	}
	if c.MinConfidence < 0 || c.MinConfidence >= 1 {
		return errors.New("correlation: temporal min confidence must be in [0, 1)")
	}
	return nil
}

// TemporalCorrelator finds time-clustered alert sequences.
type TemporalCorrelator struct {
	config *TemporalConfig
	logger *slog.Logger
}

// NewTemporalCorrelator creates a temporal correlator.
func NewTemporalCorrelator(cfg *TemporalConfig, logger *slog.Logger) *TemporalCorrelator {
	return &TemporalCorrelator{config: cfg, logger: logger}
}

const maxWindowSize = 5

// FindPatterns slides windows of size 2..min(5, n) across the alerts in
// timestamp order and scores each window. Windows sharing the same alert
// set keep only their highest-confidence scoring.
func (c *TemporalCorrelator) FindPatterns(alerts []*schema.Alert) []*Pattern {
	if len(alerts) < 2 {
		return nil
	}

	sorted := make([]*schema.Alert, len(alerts))
	copy(sorted, alerts)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	windowLimit := time.Duration(c.config.TimeWindowHours) * time.Hour
	best := make(map[string]*Pattern)

	maxSize := maxWindowSize
	if len(sorted) < maxSize {
		maxSize = len(sorted)
	}

	for size := 2; size <= maxSize; size++ {
		for start := 0; start+size <= len(sorted); start++ {
			window := sorted[start : start+size]
			span := window[len(window)-1].Timestamp.Sub(window[0].Timestamp)
			if span > windowLimit {
				continue
			}

			confidence := c.score(window, span, windowLimit)
			if confidence <= c.config.MinConfidence {
				continue
			}

			pattern := c.buildPattern(window, confidence, span)
			key := windowKey(window)
			if existing, ok := best[key]; !ok || confidence > existing.Confidence {
				best[key] = pattern
			}
		}
	}

	patterns := make([]*Pattern, 0, len(best))
	for _, p := range best {
		patterns = append(patterns, p)
	}
	sortPatterns(patterns)

	c.logger.Debug("temporal analysis finished",
		"alerts", len(alerts),
		"patterns", len(patterns))
	return patterns
}

// score combines time clustering, severity, and source diversity.
func (c *TemporalCorrelator) score(window []*schema.Alert, span, limit time.Duration) float64 {
	// A zero limit only admits same-timestamp windows; score them as
	// maximally clustered rather than dividing by zero.
	ratio := 0.0
	if limit > 0 {
		ratio = float64(span) / float64(limit)
	}
	timeFactor := 1 - math.Log1p(9*ratio)/math.Log1p(9)

	var severitySum float64
	sources := make(map[string]bool)
	for _, a := range window {
		severitySum += a.Severity.Weight()
		sources[a.Source] = true
	}
	severityFactor := severitySum / float64(len(window))
	diversityFactor := math.Min(1, float64(len(sources))/3)

	return 0.4*timeFactor + 0.4*severityFactor + 0.2*diversityFactor
}

func (c *TemporalCorrelator) buildPattern(window []*schema.Alert, confidence float64, span time.Duration) *Pattern {
	labels := make([]string, len(window))
	entities := make([]Entity, len(window))
	for i, a := range window {
		labels[i] = classifyAlert(a)
		entities[i] = Entity{Type: "alert", ID: a.ID.String(), Role: labels[i]}
	}

	return &Pattern{
		ID:          uuid.New(),
		Name:        fmt.Sprintf("Temporal sequence: %s", strings.Join(labels, ", ")),
		Description: fmt.Sprintf("%d alerts within %s forming a time-clustered sequence", len(window), span.Round(time.Second)),
		Confidence:  confidence,
		Entities:    entities,
		Technique:   TechniqueTemporal,
		Metadata: map[string]any{
			"span_seconds": span.Seconds(),
			"labels":       labels,
		},
	}
}

func windowKey(window []*schema.Alert) string {
	ids := make([]string, len(window))
	for i, a := range window {
		ids[i] = a.ID.String()
	}
	sort.Strings(ids)
	return strings.Join(ids, "|")
}
