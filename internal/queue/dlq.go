package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DeadLetter is a message parked in the DLQ stream.
type DeadLetter struct {
	Message
	Error string
}

// DeadLetters lists up to count messages from the DLQ stream, oldest first.
func DeadLetters(ctx context.Context, client *redis.Client, dlqStream string, count int64) ([]DeadLetter, error) {
	entries, err := client.XRangeN(ctx, dlqStream, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange dlq (stream=%s): %w", dlqStream, err)
	}
	out := make([]DeadLetter, 0, len(entries))
	for _, e := range entries {
		msg, err := ParseMessage(e)
		if err != nil {
			slog.WarnContext(ctx, "skipping unreadable dead letter", "error", err, "message_id", e.ID)
			continue
		}
		out = append(out, DeadLetter{Message: msg, Error: parseOptionalString(e.Values, "error")})
	}
	return out, nil
}

// Replay moves one dead letter back onto the main stream with a fresh attempt count.
func Replay(ctx context.Context, client *redis.Client, stream, dlqStream string, dl DeadLetter) error {
	values, err := messageValues(dl.Event, dl.TraceID, 1)
	if err != nil {
		return err
	}
	_, err = client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values})
		pipe.XDel(ctx, dlqStream, dl.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("replaying %s: %w", dl.ID, err)
	}
	slog.InfoContext(ctx, "dead letter replayed",
		"message_id", dl.ID,
		"event_id", dl.Event.ID)
	return nil
}
