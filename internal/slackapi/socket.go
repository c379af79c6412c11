package slackapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/internal/model"
)

// EventSink accepts inbound events. It must return quickly; Socket Mode
// deliveries are acknowledged only after it returns.
type EventSink interface {
	Ingest(ctx context.Context, ev model.InboundEvent) error
}

// Listener receives Slack deliveries over Socket Mode, for deployments
// without a public HTTP endpoint.
type Listener struct {
	client    *Client
	socket    *socketmode.Client
	sink      EventSink
	botUserID string
	now       func() time.Time
}

func NewListener(client *Client, sink EventSink, botUserID string, debug bool) *Listener {
	return &Listener{
		client:    client,
		socket:    socketmode.New(client.API(), socketmode.OptionDebug(debug)),
		sink:      sink,
		botUserID: botUserID,
		now:       time.Now,
	}
}

// Run blocks until ctx is cancelled or the connection fails for good.
func (l *Listener) Run(ctx context.Context) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "pillar.slack.socket"})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-l.socket.Events:
				if !ok {
					return
				}
				l.handle(ctx, evt)
			}
		}
	}()

	if err := l.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("socket mode: %w", err)
	}
	return nil
}

func (l *Listener) handle(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		slog.InfoContext(ctx, "socket mode connecting")
	case socketmode.EventTypeConnected:
		slog.InfoContext(ctx, "socket mode connected")
	case socketmode.EventTypeConnectionError:
		slog.ErrorContext(ctx, "socket mode connection error", "error", evt.Data)

	case socketmode.EventTypeSlashCommand:
		cmd, ok := evt.Data.(slack.SlashCommand)
		if !ok {
			l.ack(evt)
			return
		}
		l.ingest(ctx, evt, FromSlashCommand(cmd, l.now()))

	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			l.ack(evt)
			return
		}
		inbound, ok := FromEventsAPI(apiEvent, l.botUserID)
		if !ok {
			l.ack(evt)
			return
		}
		l.ingest(ctx, evt, inbound)

	default:
		l.ack(evt)
	}
}

// ingest acknowledges only after the event was accepted, so a failed enqueue
// is redelivered by Slack.
func (l *Listener) ingest(ctx context.Context, evt socketmode.Event, inbound model.InboundEvent) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{EventID: logger.Ptr(inbound.ID)})
	if err := l.sink.Ingest(ctx, inbound); err != nil {
		slog.ErrorContext(ctx, "failed to ingest socket mode event", "error", err, "kind", inbound.Kind)
		return
	}
	l.ack(evt)
}

func (l *Listener) ack(evt socketmode.Event) {
	if evt.Request != nil {
		l.socket.Ack(*evt.Request)
	}
}
