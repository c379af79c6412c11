package queries

import (
	"context"
	"time"
)

type Watermark struct {
	UserID          string
	ChannelID       string
	LastSeenOrdinal int64
	UpdatedAt       time.Time
}

const getWatermark = `SELECT user_id, channel_id, last_seen_ordinal, updated_at
FROM watermarks
WHERE user_id = $1 AND channel_id = $2`

func (q *Queries) GetWatermark(ctx context.Context, userID, channelID string) (Watermark, error) {
	var w Watermark
	err := q.db.QueryRow(ctx, getWatermark, userID, channelID).
		Scan(&w.UserID, &w.ChannelID, &w.LastSeenOrdinal, &w.UpdatedAt)
	return w, err
}

// GREATEST keeps the watermark monotonic under redelivered or out-of-order events.
const advanceWatermark = `INSERT INTO watermarks (user_id, channel_id, last_seen_ordinal)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, channel_id) DO UPDATE
SET last_seen_ordinal = GREATEST(watermarks.last_seen_ordinal, EXCLUDED.last_seen_ordinal),
    updated_at = CASE
        WHEN EXCLUDED.last_seen_ordinal > watermarks.last_seen_ordinal THEN now()
        ELSE watermarks.updated_at
    END
RETURNING user_id, channel_id, last_seen_ordinal, updated_at`

type AdvanceWatermarkParams struct {
	UserID          string
	ChannelID       string
	LastSeenOrdinal int64
}

func (q *Queries) AdvanceWatermark(ctx context.Context, arg AdvanceWatermarkParams) (Watermark, error) {
	var w Watermark
	err := q.db.QueryRow(ctx, advanceWatermark, arg.UserID, arg.ChannelID, arg.LastSeenOrdinal).
		Scan(&w.UserID, &w.ChannelID, &w.LastSeenOrdinal, &w.UpdatedAt)
	return w, err
}
