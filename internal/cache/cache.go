// Package cache holds the short-lived Redis state of the assistant: summary
// results, event redelivery markers and pending OAuth handshakes.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned when an OAuth state is unknown, expired or already used.
var ErrStateNotFound = errors.New("oauth state not found")

const defaultPrefix = "pillar:"

// SummaryCache stores channel digests keyed by what they summarized.
type SummaryCache struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewSummaryCache(client redis.Cmdable, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, prefix: defaultPrefix + "summary:", ttl: ttl}
}

// SummaryKey identifies a digest. A new message in the channel changes the
// newest ordinal and therefore the key.
func SummaryKey(channelID, rangeLabel string, newestOrdinal int64) string {
	return fmt.Sprintf("%s:%s:%d", channelID, rangeLabel, newestOrdinal)
}

func (c *SummaryCache) Get(ctx context.Context, key string) (string, bool, error) {
	text, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading summary cache: %w", err)
	}
	return text, true, nil
}

func (c *SummaryCache) Set(ctx context.Context, key, text string) error {
	if c.ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.prefix+key, text, c.ttl).Err(); err != nil {
		return fmt.Errorf("writing summary cache: %w", err)
	}
	return nil
}

// Deduper remembers inbound event ids so Slack retries are processed once.
type Deduper struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewDeduper(client redis.Cmdable, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduper{client: client, prefix: defaultPrefix + "event:", ttl: ttl}
}

// FirstSeen records eventID and reports whether this is its first delivery.
// Redis errors fail open: the event is treated as new.
func (d *Deduper) FirstSeen(ctx context.Context, eventID string) bool {
	if eventID == "" {
		return true
	}
	ok, err := d.client.SetNX(ctx, d.prefix+eventID, 1, d.ttl).Result()
	if err != nil {
		slog.WarnContext(ctx, "event dedupe unavailable, processing anyway",
			"event_id", eventID,
			"error", err)
		return true
	}
	return ok
}

// Forget drops eventID so a redelivery is accepted again.
func (d *Deduper) Forget(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := d.client.Del(ctx, d.prefix+eventID).Err(); err != nil {
		return fmt.Errorf("forgetting event %s: %w", eventID, err)
	}
	return nil
}

// OAuthStates ties an OAuth redirect back to the Slack user who started it.
type OAuthStates struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewOAuthStates(client redis.Cmdable, ttl time.Duration) *OAuthStates {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &OAuthStates{client: client, prefix: defaultPrefix + "oauth:", ttl: ttl}
}

// Issue returns a fresh state token for userID.
func (s *OAuthStates) Issue(ctx context.Context, userID string) (string, error) {
	state := uuid.NewString()
	if err := s.client.Set(ctx, s.prefix+state, userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("storing oauth state: %w", err)
	}
	return state, nil
}

// Consume returns the user bound to state and invalidates it.
func (s *OAuthStates) Consume(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", ErrStateNotFound
	}
	userID, err := s.client.GetDel(ctx, s.prefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrStateNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading oauth state: %w", err)
	}
	return userID, nil
}
