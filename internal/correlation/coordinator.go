package correlation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchtower-soar/internal/metrics"
	"watchtower-soar/internal/schema"
)

// AlertSource supplies the recent, unresolved alerts a run analyzes.
type AlertSource interface {
	ListOpenAlerts(ctx context.Context, since time.Time) ([]*schema.Alert, error)
}

// IntelSource supplies threat intelligence for graph correlation.
type IntelSource interface {
	ListThreatIntel(ctx context.Context, organizationID string, since time.Time) ([]*schema.ThreatIntel, error)
}

// SuggestionSink receives incident suggestions that cleared the
// confidence threshold.
type SuggestionSink interface {
	SubmitSuggestion(ctx context.Context, s *Suggestion) error
}

// CoordinatorConfig holds coordinator settings.
type CoordinatorConfig struct {
	// LookbackHours bounds the alert batch each run analyzes.
	LookbackHours int `json:"lookback_hours" yaml:"lookback_hours"`

	// ConfidenceThreshold gates which patterns become suggestions.
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// Interval between scheduled runs.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Jitter randomizes the interval by up to this fraction so multiple
	// instances do not run in lockstep.
	Jitter float64 `json:"jitter" yaml:"jitter"`
}

// DefaultCoordinatorConfig returns production defaults.
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		LookbackHours:       48,
		ConfidenceThreshold: 0.65,
		Interval:            5 * time.Minute,
		Jitter:              0.1,
	}
}

// Validate checks if the configuration is valid.
func (c *CoordinatorConfig) Validate() error {
	if c.LookbackHours < 1 {
		return errors.New("correlation: lookback must be at least one hour")
	}
	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return errors.New("correlation: confidence threshold must be in (0, 1]")
	}
	if c.Interval <= 0 {
		return errors.New("correlation: interval must be positive")
	}
	return nil
}

// Coordinator runs both correlators on a schedule, merges their
// patterns, and emits incident suggestions. Correlators and sources are
// injected at construction.
type Coordinator struct {
	config   *CoordinatorConfig
	temporal *TemporalCorrelator
	graph    *GraphCorrelator
	alerts   AlertSource
	intel    IntelSource
	sink     SuggestionSink
	logger   *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCoordinator creates a coordinator.
func NewCoordinator(cfg *CoordinatorConfig, temporal *TemporalCorrelator, graph *GraphCorrelator, alerts AlertSource, intel IntelSource, sink SuggestionSink, logger *slog.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Coordinator{
		config:   cfg,
		temporal: temporal,
		graph:    graph,
		alerts:   alerts,
		intel:    intel,
		sink:     sink,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}, nil
}

// Run performs one full correlation pass. Alerts are analyzed per
// organization; patterns never span tenants.
func (c *Coordinator) Run(ctx context.Context) ([]*Suggestion, error) {
	since := time.Now().Add(-time.Duration(c.config.LookbackHours) * time.Hour)
	alerts, err := c.alerts.ListOpenAlerts(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("correlation: list alerts: %w", err)
	}

	byOrg := make(map[string][]*schema.Alert)
	for _, a := range alerts {
		byOrg[a.OrganizationID] = append(byOrg[a.OrganizationID], a)
	}

	orgs := make([]string, 0, len(byOrg))
	for org := range byOrg {
		orgs = append(orgs, org)
	}
	sort.Strings(orgs)

	var all []*Suggestion
	for _, org := range orgs {
		suggestions, err := c.runOrg(ctx, org, byOrg[org], since)
		if err != nil {
			c.logger.Error("correlation run failed for organization",
				"organization_id", org, "error", err)
			continue
		}
		all = append(all, suggestions...)
	}

	c.logger.Info("correlation pass finished",
		"alerts", len(alerts),
		"organizations", len(byOrg),
		"suggestions", len(all))
	return all, nil
}

func (c *Coordinator) runOrg(ctx context.Context, org string, alerts []*schema.Alert, since time.Time) ([]*Suggestion, error) {
	var intel []*schema.ThreatIntel
	if c.intel != nil {
		var err error
		intel, err = c.intel.ListThreatIntel(ctx, org, since)
		if err != nil {
			return nil, fmt.Errorf("list threat intel: %w", err)
		}
	}

	patterns := c.temporal.FindPatterns(alerts)
	for range patterns {
		metrics.PatternsFound.WithLabelValues(TechniqueTemporal).Inc()
	}
	graphPatterns := c.graph.FindPatterns(alerts, intel)
	for range graphPatterns {
		metrics.PatternsFound.WithLabelValues(TechniqueGraphBased).Inc()
	}
	patterns = append(patterns, graphPatterns...)
	sortPatterns(patterns)

	byID := make(map[string]*schema.Alert, len(alerts))
	for _, a := range alerts {
		byID[a.ID.String()] = a
	}

	var suggestions []*Suggestion
	for _, p := range patterns {
		if p.Confidence < c.config.ConfidenceThreshold {
			continue
		}
		s := c.buildSuggestion(p, byID)
		if c.sink != nil {
			if err := c.sink.SubmitSuggestion(ctx, s); err != nil {
				c.logger.Error("suggestion submit failed",
					"pattern_id", p.ID, "error", err)
				continue
			}
		}
		metrics.SuggestionsEmitted.Inc()
		suggestions = append(suggestions, s)
	}
	return suggestions, nil
}

// buildSuggestion aggregates contributing-alert severity, timeline, and
// MITRE tactics into an incident candidate.
func (c *Coordinator) buildSuggestion(p *Pattern, byID map[string]*schema.Alert) *Suggestion {
	alertIDs := p.AlertIDs()

	var severities []schema.Severity
	var timeline []time.Time
	tacticSet := make(map[string]bool)
	for _, id := range alertIDs {
		a, ok := byID[id]
		if !ok {
			continue
		}
		severities = append(severities, a.Severity)
		timeline = append(timeline, a.Timestamp)
		for _, tactic := range a.Tactics() {
			tacticSet[tactic] = true
		}
	}
	sort.Slice(timeline, func(i, j int) bool { return timeline[i].Before(timeline[j]) })

	tactics := make([]string, 0, len(tacticSet))
	for tactic := range tacticSet {
		tactics = append(tactics, tactic)
	}
	sort.Strings(tactics)

	severity := schema.MaxSeverity(severities)
	return &Suggestion{
		ID:                 uuid.New(),
		PatternID:          p.ID,
		Title:              p.Name,
		Description:        p.Description,
		Confidence:         p.Confidence,
		Severity:           severity,
		Technique:          p.Technique,
		AlertIDs:           alertIDs,
		Timeline:           timeline,
		MitreTactics:       tactics,
		RecommendedActions: recommendedActions(severity, p.Technique),
		CreatedAt:          time.Now().UTC(),
	}
}

func recommendedActions(severity schema.Severity, technique string) []string {
	actions := []string{"review_contributing_alerts"}
	if technique == TechniqueGraphBased {
		actions = append(actions, "block_shared_indicators")
	}
	switch severity {
	case schema.SeverityCritical:
		actions = append(actions, "isolate_affected_hosts", "open_incident")
	case schema.SeverityHigh:
		actions = append(actions, "open_incident")
	}
	return actions
}

// Start schedules periodic runs until Stop is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(c.nextInterval()):
				if _, err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					c.logger.Error("scheduled correlation run failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the schedule and waits for an in-progress run.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Coordinator) nextInterval() time.Duration {
	if c.config.Jitter <= 0 {
		return c.config.Interval
	}
	spread := float64(c.config.Interval) * c.config.Jitter
	offset := (rand.Float64()*2 - 1) * spread
	return c.config.Interval + time.Duration(offset)
}
