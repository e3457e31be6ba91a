package action

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// TicketAction opens an incident ticket. The in-process implementation
// issues sequential INC numbers; production replaces the IDGen with an
// ITSM integration.
//
// Inputs: title (required), description (optional), severity (optional).
// Outputs: ticket_id, created_at.
type TicketAction struct {
	idgen  TicketIDGen
	logger *slog.Logger
}

// TicketIDGen produces ticket identifiers.
type TicketIDGen interface {
	NextTicketID(ctx context.Context) (string, error)
}

// SequentialIDGen issues INC-prefixed sequential ticket IDs.
type SequentialIDGen struct {
	counter atomic.Int64
}

func (g *SequentialIDGen) NextTicketID(ctx context.Context) (string, error) {
	return fmt.Sprintf("INC-%06d", g.counter.Add(1)), nil
}

// NewTicketAction creates the ticket action.
func NewTicketAction(idgen TicketIDGen, logger *slog.Logger) *TicketAction {
	return &TicketAction{idgen: idgen, logger: logger}
}

func (a *TicketAction) ID() string { return "create_ticket" }

func (a *TicketAction) Execute(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	title, err := stringInput(inputs, "title")
	if err != nil {
		return nil, err
	}

	ticketID, err := a.idgen.NextTicketID(ctx)
	if err != nil {
		return nil, fmt.Errorf("action: allocate ticket id: %w", err)
	}

	a.logger.Info("ticket created",
		"ticket_id", ticketID,
		"title", title,
		"severity", optionalString(inputs, "severity", "medium"))

	return map[string]any{
		"ticket_id":  ticketID,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	}, nil
}
