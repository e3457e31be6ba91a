package correlation

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"watchtower-soar/internal/schema"
)

// Edge weights per relation kind.
const (
	weightSharedIP     = 1.0
	weightSharedDomain = 0.8
	weightSharedHash   = 1.0
	weightSameSource   = 0.6
)

// GraphConfig holds graph correlator settings.
type GraphConfig struct {
	// TimeWindowHours bounds the same-source edge relation.
	TimeWindowHours int `json:"time_window_hours" yaml:"time_window_hours"`

	// MinDensity gates community acceptance.
	MinDensity float64 `json:"min_density" yaml:"min_density"`
}

// DefaultGraphConfig returns production defaults.
func DefaultGraphConfig() *GraphConfig {
	return &GraphConfig{
		TimeWindowHours: 24,
		MinDensity:      0.5,
	}
}

// Validate checks the configuration for errors.
func (c *GraphConfig) Validate() error {
	if c.TimeWindowHours < 1 {
		return errors.New("correlation: graph time window must be at least one hour")
	}
	if c.MinDensity < 0 || c.MinDensity > 1 {
		return errors.New("correlation: graph min density must be in [0, 1]")
	}
	return nil
}

// GraphCorrelator builds an entity graph over alerts and threat intel
// and extracts connected communities as patterns.
type GraphCorrelator struct {
	config *GraphConfig
	logger *slog.Logger
}

// NewGraphCorrelator creates a graph correlator.
func NewGraphCorrelator(cfg *GraphConfig, logger *slog.Logger) *GraphCorrelator {
	return &GraphCorrelator{config: cfg, logger: logger}
}

type graphNode struct {
	id        string
	kind      string
	label     string
	source    string
	severity  schema.Severity
	timestamp time.Time
}

type edgeKey struct{ a, b string }

func makeEdgeKey(a, b string) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a: a, b: b}
}

type entityGraph struct {
	nodes map[string]*graphNode
	edges map[edgeKey]float64
	adj   map[string][]string
}

func (g *entityGraph) addEdge(a, b string, weight float64) {
	if a == b {
		return
	}
	key := makeEdgeKey(a, b)
	if existing, ok := g.edges[key]; ok {
		// Multiple relations between the same pair keep the strongest.
		if weight <= existing {
			return
		}
		g.edges[key] = weight
		return
	}
	g.edges[key] = weight
	g.adj[a] = append(g.adj[a], b)
	g.adj[b] = append(g.adj[b], a)
}

// FindPatterns builds the graph and extracts each connected community
// of size 2 or more whose density clears the configured gate.
func (c *GraphCorrelator) FindPatterns(alerts []*schema.Alert, intel []*schema.ThreatIntel) []*Pattern {
	graph := c.buildGraph(alerts, intel)
	communities := connectedComponents(graph)

	var patterns []*Pattern
	for _, community := range communities {
		if len(community) < 2 {
			continue
		}
		if p := c.scoreCommunity(graph, community); p != nil {
			patterns = append(patterns, p)
		}
	}
	sortPatterns(patterns)

	c.logger.Debug("graph analysis finished",
		"nodes", len(graph.nodes),
		"edges", len(graph.edges),
		"patterns", len(patterns))
	return patterns
}

func (c *GraphCorrelator) buildGraph(alerts []*schema.Alert, intel []*schema.ThreatIntel) *entityGraph {
	graph := &entityGraph{
		nodes: make(map[string]*graphNode),
		edges: make(map[edgeKey]float64),
		adj:   make(map[string][]string),
	}
	idx := newIOCIndex()

	for _, a := range alerts {
		node := &graphNode{
			id:        a.ID.String(),
			kind:      "alert",
			label:     a.Title,
			source:    a.Source,
			severity:  a.Severity,
			timestamp: a.Timestamp,
		}
		graph.nodes[node.id] = node

		ips := a.IOCs.IPs
		if a.SourceIP != "" {
			ips = append(append([]string(nil), ips...), a.SourceIP)
		}
		if a.DestinationIP != "" {
			ips = append(append([]string(nil), ips...), a.DestinationIP)
		}
		idx.add(node.id, ips, a.IOCs.Domains, a.IOCs.Hashes)
	}

	for _, ti := range intel {
		node := &graphNode{
			id:        ti.ID.String(),
			kind:      "threat_intel",
			label:     ti.Name,
			source:    ti.Source,
			severity:  ti.Severity,
			timestamp: ti.Timestamp,
		}
		graph.nodes[node.id] = node
		idx.add(node.id, ti.IOCs.IPs, ti.IOCs.Domains, ti.IOCs.Hashes)
	}

	for _, pair := range idx.pairs("ip") {
		graph.addEdge(pair[0], pair[1], weightSharedIP)
	}
	for _, pair := range idx.pairs("domain") {
		graph.addEdge(pair[0], pair[1], weightSharedDomain)
	}
	for _, pair := range idx.pairs("hash") {
		graph.addEdge(pair[0], pair[1], weightSharedHash)
	}

	c.addSameSourceEdges(graph, alerts)
	return graph
}

// addSameSourceEdges links alerts from the same source whose timestamps
// fall within the configured window.
func (c *GraphCorrelator) addSameSourceEdges(graph *entityGraph, alerts []*schema.Alert) {
	window := time.Duration(c.config.TimeWindowHours) * time.Hour
	bySource := make(map[string][]*schema.Alert)
	for _, a := range alerts {
		if a.Source != "" {
			bySource[a.Source] = append(bySource[a.Source], a)
		}
	}

	for _, group := range bySource {
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				gap := group[i].Timestamp.Sub(group[j].Timestamp)
				if gap < 0 {
					gap = -gap
				}
				if gap <= window {
					graph.addEdge(group[i].ID.String(), group[j].ID.String(), weightSameSource)
				}
			}
		}
	}
}

// connectedComponents finds communities by BFS over the adjacency map.
// Plain component search, not modularity clustering; large loosely
// connected graphs come back as one component.
func connectedComponents(graph *entityGraph) [][]string {
	visited := make(map[string]bool, len(graph.nodes))

	// Deterministic iteration order keeps output stable for tests.
	ids := make([]string, 0, len(graph.nodes))
	for id := range graph.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var components [][]string
	for _, start := range ids {
		if visited[start] {
			continue
		}
		var component []string
		queue := []string{start}
		visited[start] = true
		for len(queue) > 0 {
			node := queue[0]
			queue = queue[1:]
			component = append(component, node)
			for _, next := range graph.adj[node] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
		sort.Strings(component)
		components = append(components, component)
	}
	return components
}

func (c *GraphCorrelator) scoreCommunity(graph *entityGraph, community []string) *Pattern {
	inCommunity := make(map[string]bool, len(community))
	for _, id := range community {
		inCommunity[id] = true
	}

	var edgeCount int
	var weightSum float64
	degree := make(map[string]int, len(community))
	for key, weight := range graph.edges {
		if inCommunity[key.a] && inCommunity[key.b] {
			edgeCount++
			weightSum += weight
			degree[key.a]++
			degree[key.b]++
		}
	}
	if edgeCount == 0 {
		return nil
	}

	n := len(community)
	density := float64(edgeCount) / (float64(n) * float64(n-1) / 2)
	if density <= c.config.MinDensity {
		return nil
	}
	avgWeight := weightSum / float64(edgeCount)
	confidence := 0.6*density + 0.4*avgWeight

	central := centralNodes(graph, community, degree, 3)
	entities := make([]Entity, 0, len(community))
	for _, id := range community {
		node := graph.nodes[id]
		role := "member"
		for _, cid := range central {
			if cid == id {
				role = "central"
				break
			}
		}
		entities = append(entities, Entity{Type: node.kind, ID: id, Role: role})
	}

	titles := make([]string, 0, len(central))
	for _, id := range central {
		titles = append(titles, graph.nodes[id].label)
	}

	return &Pattern{
		ID:          uuid.New(),
		Name:        fmt.Sprintf("Linked activity: %s", strings.Join(titles, "; ")),
		Description: fmt.Sprintf("%d entities linked by shared indicators, density %.2f", n, density),
		Confidence:  confidence,
		Entities:    entities,
		Technique:   TechniqueGraphBased,
		Metadata: map[string]any{
			"density":         density,
			"avg_edge_weight": avgWeight,
			"edge_count":      edgeCount,
		},
	}
}

// centralNodes returns the top-k community members by degree, ties
// broken by id for determinism.
func centralNodes(graph *entityGraph, community []string, degree map[string]int, k int) []string {
	sorted := make([]string, len(community))
	copy(sorted, community)
	sort.Slice(sorted, func(i, j int) bool {
		if degree[sorted[i]] != degree[sorted[j]] {
			return degree[sorted[i]] > degree[sorted[j]]
		}
		return sorted[i] < sorted[j]
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	return sorted
}
