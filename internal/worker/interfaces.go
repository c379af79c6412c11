package worker

import (
	"context"
	"time"

	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Claim(ctx context.Context, minIdle time.Duration, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// EventHandler runs one Slack event end to end.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev model.InboundEvent) error
}
