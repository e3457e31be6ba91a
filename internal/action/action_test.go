package action

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewBlockIPAction(NewMemoryBlocklist(), slog.Default()))
	r.Register(NewTicketAction(&SequentialIDGen{}, slog.Default()))

	a, err := r.Get("block_ip")
	require.NoError(t, err)
	assert.Equal(t, "block_ip", a.ID())

	_, err = r.Get("nuke_from_orbit")
	assert.Error(t, err)

	assert.Equal(t, []string{"block_ip", "create_ticket"}, r.IDs())
}

func TestBlockIPExecuteAndCompensate(t *testing.T) {
	blocklist := NewMemoryBlocklist()
	a := NewBlockIPAction(blocklist, slog.Default())
	ctx := context.Background()

	inputs := map[string]any{"ip": "203.0.113.7"}
	out, err := a.Execute(ctx, inputs)
	require.NoError(t, err)
	assert.Equal(t, true, out["blocked"])
	assert.True(t, blocklist.IsBlocked("203.0.113.7"))

	require.NoError(t, a.Compensate(ctx, inputs, out))
	assert.False(t, blocklist.IsBlocked("203.0.113.7"))
}

func TestBlockIPRejectsInvalidAddress(t *testing.T) {
	a := NewBlockIPAction(NewMemoryBlocklist(), slog.Default())
	_, err := a.Execute(context.Background(), map[string]any{"ip": "not-an-ip"})
	assert.Error(t, err)
}

func TestWebhookAction(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := NewWebhookAction(5*time.Second, slog.Default())
	out, err := a.Execute(context.Background(), map[string]any{
		"url":         srv.URL,
		"payload":     map[string]any{"alert": "a-1"},
		"header_auth": "tok123",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, out["status_code"])
	assert.Equal(t, `{"ok":true}`, out["response_body"])
	assert.Equal(t, "Bearer tok123", gotAuth)
}

func TestWebhookActionServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewWebhookAction(5*time.Second, slog.Default())
	_, err := a.Execute(context.Background(), map[string]any{"url": srv.URL})
	assert.ErrorContains(t, err, "502")
}

func TestTicketActionSequentialIDs(t *testing.T) {
	a := NewTicketAction(&SequentialIDGen{}, slog.Default())
	ctx := context.Background()

	out1, err := a.Execute(ctx, map[string]any{"title": "Ransomware on host-7"})
	require.NoError(t, err)
	out2, err := a.Execute(ctx, map[string]any{"title": "Follow-up"})
	require.NoError(t, err)

	assert.Equal(t, "INC-000001", out1["ticket_id"])
	assert.Equal(t, "INC-000002", out2["ticket_id"])
}

func TestTicketActionRequiresTitle(t *testing.T) {
	a := NewTicketAction(&SequentialIDGen{}, slog.Default())
	_, err := a.Execute(context.Background(), map[string]any{})
	assert.Error(t, err)
}

type fakeTagger struct {
	alertID string
	tags    []string
}

func (f *fakeTagger) TagAlert(ctx context.Context, alertID string, tags []string) error {
	f.alertID = alertID
	f.tags = tags
	return nil
}

func TestTagAlertAction(t *testing.T) {
	tagger := &fakeTagger{}
	a := NewTagAlertAction(tagger, slog.Default())

	out, err := a.Execute(context.Background(), map[string]any{
		"alert_id": "alert-9",
		"tags":     []any{"contained", "ransomware"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, out["tagged"])
	assert.Equal(t, "alert-9", tagger.alertID)
	assert.Equal(t, []string{"contained", "ransomware"}, tagger.tags)
}

type fakeIntel struct{}

func (fakeIntel) Lookup(ctx context.Context, indicatorType, value string) (map[string]any, error) {
	return map[string]any{"score": 87, "source": "feed-a"}, nil
}

func TestEnrichAction(t *testing.T) {
	a := NewEnrichAction(fakeIntel{}, slog.Default())

	out, err := a.Execute(context.Background(), map[string]any{
		"indicator_type": "ip",
		"value":          "198.51.100.4",
	})
	require.NoError(t, err)
	intel := out["intel"].(map[string]any)
	assert.Equal(t, 87, intel["score"])

	_, err = a.Execute(context.Background(), map[string]any{
		"indicator_type": "registry_key",
		"value":          "x",
	})
	assert.Error(t, err)
}

func TestNotifyAction(t *testing.T) {
	sender := &captureSender{}
	a := NewNotifyAction(sender, "#soc", slog.Default())

	out, err := a.Execute(context.Background(), map[string]any{"message": "containment started"})
	require.NoError(t, err)
	assert.Equal(t, "#soc", out["channel"])
	assert.Equal(t, "containment started", sender.message)
}

type captureSender struct {
	channel string
	message string
}

func (s *captureSender) Send(ctx context.Context, channel, message string) error {
	s.channel = channel
	s.message = message
	return nil
}
