package service

import (
	"context"
	"fmt"
	"log/slog"

	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/internal/model"
)

// Deliverer sends a response back to Slack.
type Deliverer interface {
	Deliver(ctx context.Context, inv model.InvocationContext, resp model.Response) error
}

// EventHandler runs a queued Slack event through the router and delivers the
// reply. Only delivery failures are returned; handler failures are already
// part of the reply. A reply's Commit runs only after it was delivered.
type EventHandler struct {
	router    *CommandRouter
	transport Deliverer
}

func NewEventHandler(router *CommandRouter, transport Deliverer) *EventHandler {
	return &EventHandler{router: router, transport: transport}
}

func (h *EventHandler) HandleEvent(ctx context.Context, ev model.InboundEvent) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(ev.ID),
		ChannelID: logger.Ptr(ev.Invocation.ChannelID),
		UserID:    logger.Ptr(ev.Invocation.UserID),
	})

	var resp model.Response
	switch ev.Kind {
	case model.EventKindCommand:
		resp = h.router.Handle(ctx, ev.Text, false, ev.Invocation)
	case model.EventKindMention:
		resp = h.router.Handle(ctx, ev.Text, true, ev.Invocation)
	case model.EventKindMemberJoined:
		resp = h.router.Welcome(ctx, ev.Invocation)
	default:
		slog.WarnContext(ctx, "ignoring event of unknown kind", "kind", ev.Kind)
		return nil
	}

	if resp.Text == "" {
		return nil
	}
	if err := h.transport.Deliver(ctx, ev.Invocation, resp); err != nil {
		return fmt.Errorf("delivering response: %w", err)
	}
	if resp.Commit != nil {
		// The reply is out; retrying would send it twice.
		if err := resp.Commit(context.WithoutCancel(ctx)); err != nil {
			slog.ErrorContext(ctx, "failed to commit after delivery", "error", err)
		}
	}
	return nil
}
