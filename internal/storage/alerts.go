package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"watchtower-soar/internal/schema"
)

// AlertStore reads alerts and threat intel for correlation and applies
// response tags. It satisfies the coordinator's AlertSource and
// IntelSource and the tag_alert action's AlertTagger.
type AlertStore struct {
	client *Client
}

// NewAlertStore creates an alert store.
func NewAlertStore(client *Client) *AlertStore {
	return &AlertStore{client: client}
}

const alertColumns = `id, title, description, severity, source, source_ip,
	destination_ip, timestamp, status, organization_id,
	ioc_ips, ioc_domains, ioc_hashes, metadata`

// ListOpenAlerts returns unresolved alerts newer than since, oldest
// first, across all organizations.
func (s *AlertStore) ListOpenAlerts(ctx context.Context, since time.Time) ([]*schema.Alert, error) {
	rows, err := s.client.Query(ctx, `
		SELECT `+alertColumns+`
		FROM alerts
		WHERE timestamp >= ?
		  AND status IN ('new', 'acknowledged')
		ORDER BY timestamp ASC`, since)
	if err != nil {
		return nil, wrapQueryError("ListOpenAlerts", "alerts", err)
	}
	defer rows.Close()

	var alerts []*schema.Alert
	for rows.Next() {
		var a schema.Alert
		var metadata string
		if err := rows.Scan(
			&a.ID, &a.Title, &a.Description, &a.Severity, &a.Source,
			&a.SourceIP, &a.DestinationIP, &a.Timestamp, &a.Status,
			&a.OrganizationID, &a.IOCs.IPs, &a.IOCs.Domains,
			&a.IOCs.Hashes, &metadata,
		); err != nil {
			return nil, wrapQueryError("ListOpenAlerts", "alerts", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
				return nil, wrapQueryError("ListOpenAlerts", "alerts", err)
			}
		}
		alerts = append(alerts, &a)
	}
	return alerts, rows.Err()
}

// ListThreatIntel returns one organization's threat intel newer than since.
func (s *AlertStore) ListThreatIntel(ctx context.Context, organizationID string, since time.Time) ([]*schema.ThreatIntel, error) {
	rows, err := s.client.Query(ctx, `
		SELECT id, name, source, severity, ioc_ips, ioc_domains,
		       ioc_hashes, timestamp, metadata
		FROM threat_intel
		WHERE organization_id = ? AND timestamp >= ?
		ORDER BY timestamp ASC`, organizationID, since)
	if err != nil {
		return nil, wrapQueryError("ListThreatIntel", "threat_intel", err)
	}
	defer rows.Close()

	var intel []*schema.ThreatIntel
	for rows.Next() {
		var ti schema.ThreatIntel
		var metadata string
		if err := rows.Scan(
			&ti.ID, &ti.Name, &ti.Source, &ti.Severity, &ti.IOCs.IPs,
			&ti.IOCs.Domains, &ti.IOCs.Hashes, &ti.Timestamp, &metadata,
		); err != nil {
			return nil, wrapQueryError("ListThreatIntel", "threat_intel", err)
		}
		if metadata != "" && metadata != "{}" {
			if err := json.Unmarshal([]byte(metadata), &ti.Metadata); err != nil {
				return nil, wrapQueryError("ListThreatIntel", "threat_intel", err)
			}
		}
		intel = append(intel, &ti)
	}
	return intel, rows.Err()
}

// TagAlert records response tags against an alert. Alerts themselves
// are immutable here, so tags live in their own table.
func (s *AlertStore) TagAlert(ctx context.Context, alertID string, tags []string) error {
	batch, err := s.client.PrepareBatch(ctx, "INSERT INTO alert_tags (alert_id, tag)")
	if err != nil {
		return wrapQueryError("TagAlert", "alert_tags", err)
	}
	for _, tag := range tags {
		if err := batch.Append(alertID, tag); err != nil {
			return wrapQueryError("TagAlert", "alert_tags", err)
		}
	}
	if err := batch.Send(); err != nil {
		return wrapQueryError("TagAlert", "alert_tags", err)
	}
	return nil
}

// Lookup finds threat intel entries carrying an indicator. It satisfies
// the enrich action's IntelLookup. An unknown indicator returns an
// empty result, not an error.
func (s *AlertStore) Lookup(ctx context.Context, indicatorType, value string) (map[string]any, error) {
	var column string
	switch indicatorType {
	case "ip":
		column = "ioc_ips"
	case "domain":
		column = "ioc_domains"
	case "hash":
		column = "ioc_hashes"
	default:
		return nil, fmt.Errorf("storage: unknown indicator type %q", indicatorType)
	}

	rows, err := s.client.Query(ctx, `
		SELECT name, source, severity, timestamp
		FROM threat_intel
		WHERE has(`+column+`, ?)
		ORDER BY timestamp DESC
		LIMIT 10`, value)
	if err != nil {
		return nil, wrapQueryError("Lookup", "threat_intel", err)
	}
	defer rows.Close()

	var matches []map[string]any
	for rows.Next() {
		var (
			name, source, severity string
			ts                     time.Time
		)
		if err := rows.Scan(&name, &source, &severity, &ts); err != nil {
			return nil, wrapQueryError("Lookup", "threat_intel", err)
		}
		matches = append(matches, map[string]any{
			"name":      name,
			"source":    source,
			"severity":  severity,
			"timestamp": ts,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapQueryError("Lookup", "threat_intel", err)
	}
	return map[string]any{"matches": matches, "match_count": len(matches)}, nil
}
