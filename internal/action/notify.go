package action

import (
	"context"
	"log/slog"
	"time"
)

// NotifySender delivers a notification to a named channel. Production
// wires a chat or paging integration; tests use a fake.
type NotifySender interface {
	Send(ctx context.Context, channel, message string) error
}

// NotifyAction posts a message to an on-call or team channel.
//
// Inputs: channel (optional, defaults to config), message (required).
// Outputs: channel, sent_at.
type NotifyAction struct {
	sender         NotifySender
	defaultChannel string
	logger         *slog.Logger
}

// NewNotifyAction creates the notify action.
func NewNotifyAction(sender NotifySender, defaultChannel string, logger *slog.Logger) *NotifyAction {
	return &NotifyAction{sender: sender, defaultChannel: defaultChannel, logger: logger}
}

func (a *NotifyAction) ID() string { return "notify" }

func (a *NotifyAction) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	message, err := stringInput(inputs, "message")
	if err != nil {
		return nil, err
	}
	channel := optionalString(inputs, "channel", a.defaultChannel)

	if err := a.sender.Send(ctx, channel, message); err != nil {
		return nil, err
	}

	a.logger.Info("notification sent", "channel", channel)
	return map[string]any{
		"channel": channel,
		"sent_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}

// LogSender is a NotifySender that only logs, for development setups
// with no chat integration configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, channel, message string) error {
	s.Logger.Info("notify", "channel", channel, "message", message)
	return nil
}
