package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// WebhookAction POSTs a JSON payload to an external system.
//
// Inputs: url (required), payload (optional map), header_auth (optional
// bearer token). Outputs: status_code, response_body (truncated).
type WebhookAction struct {
	client *http.Client
	logger *slog.Logger
}

const webhookBodyLimit = 4 * 1024

// NewWebhookAction creates the webhook action with the given timeout.
func NewWebhookAction(timeout time.Duration, logger *slog.Logger) *WebhookAction {
	return &WebhookAction{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

func (a *WebhookAction) ID() string { return "webhook" }

func (a *WebhookAction) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	url, err := stringInput(inputs, "url")
	if err != nil {
		return nil, err
	}

	var body []byte
	if payload, ok := inputs["payload"]; ok {
		body, err = json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("action: marshal webhook payload: %w", err)
		}
	} else {
		body = []byte("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("action: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := optionalString(inputs, "header_auth", ""); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("action: webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, webhookBodyLimit))
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("action: webhook returned %d", resp.StatusCode)
	}

	a.logger.Debug("webhook delivered", "url", url, "status", resp.StatusCode)
	return map[string]any{
		"status_code":   resp.StatusCode,
		"response_body": string(respBody),
	}, nil
}
