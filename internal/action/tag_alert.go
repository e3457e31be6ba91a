package action

import (
	"context"
	"fmt"
	"log/slog"
)

// AlertTagger applies tags to a stored alert.
type AlertTagger interface {
	TagAlert(ctx context.Context, alertID string, tags []string) error
}

// TagAlertAction attaches tags to the alert that triggered the playbook.
//
// Inputs: alert_id (required), tags (required list). Outputs: tagged.
type TagAlertAction struct {
	tagger AlertTagger
	logger *slog.Logger
}

// NewTagAlertAction creates the tag_alert action.
func NewTagAlertAction(tagger AlertTagger, logger *slog.Logger) *TagAlertAction {
	return &TagAlertAction{tagger: tagger, logger: logger}
}

func (a *TagAlertAction) ID() string { return "tag_alert" }

func (a *TagAlertAction) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	alertID, err := stringInput(inputs, "alert_id")
	if err != nil {
		return nil, err
	}

	tags, err := stringListInput(inputs, "tags")
	if err != nil {
		return nil, err
	}

	if err := a.tagger.TagAlert(ctx, alertID, tags); err != nil {
		return nil, fmt.Errorf("action: tag alert %s: %w", alertID, err)
	}

	a.logger.Debug("alert tagged", "alert_id", alertID, "tags", tags)
	return map[string]any{"tagged": len(tags)}, nil
}

// stringListInput accepts []string or []any of strings.
func stringListInput(inputs map[string]any, key string) ([]string, error) {
	v, ok := inputs[key]
	if !ok {
		return nil, fmt.Errorf("action: missing input %q", key)
	}
	switch vv := v.(type) {
	case []string:
		if len(vv) == 0 {
			return nil, fmt.Errorf("action: input %q must not be empty", key)
		}
		return vv, nil
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("action: input %q must be a list of strings", key)
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("action: input %q must not be empty", key)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("action: input %q must be a list of strings", key)
	}
}
