package queue

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"pillar.vc/assistant/internal/model"
)

// EventMessage is one inbound Slack event on its way to a worker.
type EventMessage struct {
	Event   model.InboundEvent
	TraceID *string
	Attempt int
}

// Message is an EventMessage as read back from a stream.
type Message struct {
	ID        string
	Event     model.InboundEvent
	Attempt   int
	TraceID   string
	LastError string
	Raw       redis.XMessage
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	raw, err := parseString(msg.Values, "event")
	if err != nil {
		return Message{}, err
	}
	var event model.InboundEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Message{}, fmt.Errorf("decoding event: %w", err)
	}
	if event.ID == "" {
		return Message{}, fmt.Errorf("missing event id")
	}
	switch event.Kind {
	case model.EventKindCommand, model.EventKindMention, model.EventKindMemberJoined:
	default:
		return Message{}, fmt.Errorf("unknown event kind %q", event.Kind)
	}
	if event.Invocation.ChannelID == "" {
		return Message{}, fmt.Errorf("missing channel_id")
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:        msg.ID,
		Event:     event,
		Attempt:   attempt,
		TraceID:   parseOptionalString(msg.Values, "trace_id"),
		LastError: parseOptionalString(msg.Values, "last_error"),
		Raw:       msg,
	}, nil
}

func messageValues(event model.InboundEvent, traceID string, attempt int) (map[string]any, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encoding event: %w", err)
	}
	values := map[string]any{
		"event":    string(payload),
		"event_id": event.ID,
		"kind":     string(event.Kind),
		"attempt":  attempt,
	}
	if traceID != "" {
		values["trace_id"] = traceID
	}
	return values, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	num, err := strconv.Atoi(fmt.Sprint(raw))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}
