package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"pillar.vc/assistant/core/db/queries"
	"pillar.vc/assistant/internal/model"
)

type watermarkStore struct {
	queries *queries.Queries
}

func newWatermarkStore(q *queries.Queries) WatermarkStore {
	return &watermarkStore{queries: q}
}

func (s *watermarkStore) Get(ctx context.Context, userID, channelID string) (*model.Watermark, error) {
	row, err := s.queries.GetWatermark(ctx, userID, channelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return toWatermarkModel(row), nil
}

func (s *watermarkStore) Advance(ctx context.Context, userID, channelID string, ordinal int64) (*model.Watermark, error) {
	row, err := s.queries.AdvanceWatermark(ctx, queries.AdvanceWatermarkParams{
		UserID:          userID,
		ChannelID:       channelID,
		LastSeenOrdinal: ordinal,
	})
	if err != nil {
		return nil, err
	}
	return toWatermarkModel(row), nil
}

func toWatermarkModel(row queries.Watermark) *model.Watermark {
	return &model.Watermark{
		UserID:          row.UserID,
		ChannelID:       row.ChannelID,
		LastSeenOrdinal: row.LastSeenOrdinal,
	}
}
