package eventlog

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower-soar/internal/schema"
)

func newTestPublisher(t *testing.T) *Publisher {
	t.Helper()
	pub, err := NewPublisher(DefaultConfig(), NewBus(), schema.NewValidator(), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close() })
	return pub
}

func TestPublishRejectsInvalidEvent(t *testing.T) {
	pub := newTestPublisher(t)

	// Missing organization id fails validation before any broker IO.
	event := &schema.Event{
		ID:         uuid.New(),
		Type:       "alert.created",
		EntityID:   "alert-1",
		EntityType: "alert",
		Timestamp:  time.Now().UTC(),
	}
	err := pub.Publish(context.Background(), event)
	require.Error(t, err)
	assert.Equal(t, int64(1), pub.Stats()["errors"])
	assert.Equal(t, int64(0), pub.Stats()["published"])
}

func TestPublishRejectsMalformedEventType(t *testing.T) {
	pub := newTestPublisher(t)

	event := &schema.Event{
		ID:             uuid.New(),
		Type:           "Alert.Created",
		EntityID:       "alert-1",
		EntityType:     "alert",
		OrganizationID: "org-1",
		Timestamp:      time.Now().UTC(),
	}
	assert.Error(t, pub.Publish(context.Background(), event))
}

func TestPublishAfterCloseFails(t *testing.T) {
	pub := newTestPublisher(t)
	require.NoError(t, pub.Close())

	alert := &schema.Alert{
		ID:             uuid.New(),
		Title:          "Suspicious login",
		Severity:       schema.SeverityHigh,
		Source:         "edr",
		Timestamp:      time.Now().UTC(),
		Status:         schema.AlertStatusNew,
		OrganizationID: "org-1",
	}
	_, err := pub.PublishAlertCreated(context.Background(), alert)
	assert.Error(t, err)
}

func TestNewPublisherRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Brokers = nil
	_, err := NewPublisher(cfg, NewBus(), schema.NewValidator(), slog.Default())
	assert.Error(t, err)
}
