package action

import (
	"context"
	"fmt"
	"log/slog"
)

// IntelLookup resolves reputation data for an indicator.
type IntelLookup interface {
	Lookup(ctx context.Context, indicatorType, value string) (map[string]any, error)
}

// EnrichAction looks up an indicator against threat intelligence and
// exposes the result to later steps.
//
// Inputs: indicator_type (ip|domain|hash), value (required).
// Outputs: indicator_type, value, intel (lookup result, may be empty).
type EnrichAction struct {
	lookup IntelLookup
	logger *slog.Logger
}

// NewEnrichAction creates the enrich action.
func NewEnrichAction(lookup IntelLookup, logger *slog.Logger) *EnrichAction {
	return &EnrichAction{lookup: lookup, logger: logger}
}

func (a *EnrichAction) ID() string { return "enrich" }

func (a *EnrichAction) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	indicatorType, err := stringInput(inputs, "indicator_type")
	if err != nil {
		return nil, err
	}
	switch indicatorType {
	case "ip", "domain", "hash":
	default:
		return nil, fmt.Errorf("action: unsupported indicator type %q", indicatorType)
	}

	value, err := stringInput(inputs, "value")
	if err != nil {
		return nil, err
	}

	intel, err := a.lookup.Lookup(ctx, indicatorType, value)
	if err != nil {
		return nil, fmt.Errorf("action: intel lookup %s %s: %w", indicatorType, value, err)
	}
	if intel == nil {
		intel = map[string]any{}
	}

	a.logger.Debug("indicator enriched", "type", indicatorType, "value", value)
	return map[string]any{
		"indicator_type": indicatorType,
		"value":          value,
		"intel":          intel,
	}, nil
}
