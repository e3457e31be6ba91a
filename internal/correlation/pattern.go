// Package correlation finds groups of related alerts. Two detectors run
// over the same batch: a temporal correlator scoring time-clustered
// sequences and a graph correlator extracting communities of entities
// linked by shared indicators. The coordinator merges their patterns
// and turns high-confidence ones into incident suggestions.
package correlation

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"watchtower-soar/internal/schema"
)

// Correlation techniques.
const (
	TechniqueTemporal   = "temporal"
	TechniqueGraphBased = "graph_based"
)

// Entity is one participant in a pattern.
type Entity struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Pattern is a detected grouping of related entities. Patterns are
// ephemeral: produced per analysis run, not stable across runs.
type Pattern struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Confidence  float64        `json:"confidence"`
	Entities    []Entity       `json:"entities"`
	Technique   string         `json:"technique"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// AlertIDs returns the IDs of alert entities in the pattern.
func (p *Pattern) AlertIDs() []string {
	ids := make([]string, 0, len(p.Entities))
	for _, e := range p.Entities {
		if e.Type == "alert" {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// Suggestion is an incident candidate derived from a qualifying pattern.
type Suggestion struct {
	ID                 uuid.UUID       `json:"id"`
	PatternID          uuid.UUID       `json:"pattern_id"`
	Title              string          `json:"title"`
	Description        string          `json:"description"`
	Confidence         float64         `json:"confidence"`
	Severity           schema.Severity `json:"severity"`
	Technique          string          `json:"technique"`
	AlertIDs           []string        `json:"alert_ids"`
	Timeline           []time.Time     `json:"timeline"`
	MitreTactics       []string        `json:"mitre_tactics,omitempty"`
	RecommendedActions []string        `json:"recommended_actions,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
}

// sortPatterns orders by confidence descending, id ascending on ties.
func sortPatterns(patterns []*Pattern) {
	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Confidence != patterns[j].Confidence {
			return patterns[i].Confidence > patterns[j].Confidence
		}
		return patterns[i].ID.String() < patterns[j].ID.String()
	})
}
