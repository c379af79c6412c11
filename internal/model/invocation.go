package model

import "context"

// InvocationContext identifies the scope of one inbound request.
type InvocationContext struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name,omitempty"`
	UserID      string `json:"user_id"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	IsDM        bool   `json:"is_dm"`

	// EventTS is stable across redelivery of the same event. For slash commands it
	// is the time the command was ingested.
	EventTS     string `json:"event_ts"`
	ResponseURL string `json:"response_url,omitempty"`
}

// Response is what the router hands back to the transport.
type Response struct {
	Text      string `json:"text"`
	Ephemeral bool   `json:"ephemeral,omitempty"`

	// Commit, when set, persists state that must only change once the user
	// has seen Text. It runs after a successful delivery.
	Commit func(ctx context.Context) error `json:"-"`
}

type Watermark struct {
	UserID          string `json:"user_id"`
	ChannelID       string `json:"channel_id"`
	LastSeenOrdinal int64  `json:"last_seen_ordinal"`
}

// ActionItem is one extracted follow-up.
type ActionItem struct {
	Owner string `json:"owner"`
	Task  string `json:"task"`
	Ref   string `json:"ref"` // ts of the source message
}

const UnassignedOwner = "unassigned"

type EventKind string

const (
	EventKindCommand      EventKind = "slash_command"
	EventKindMention      EventKind = "app_mention"
	EventKindMemberJoined EventKind = "member_joined_channel"
)

// InboundEvent is a Slack delivery reduced to what the assistant acts on. It
// travels through the queue as JSON.
type InboundEvent struct {
	// ID is stable across redeliveries of the same Slack event.
	ID         string            `json:"id"`
	Kind       EventKind         `json:"kind"`
	Text       string            `json:"text,omitempty"`
	Invocation InvocationContext `json:"invocation"`
}
