package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"pillar.vc/assistant/core/db/queries"
	"pillar.vc/assistant/internal/model"
)

const uniqueViolation = "23505"

type agendaStore struct {
	queries *queries.Queries
}

func newAgendaStore(q *queries.Queries) AgendaStore {
	return &agendaStore{queries: q}
}

func (s *agendaStore) GetActive(ctx context.Context, channelID string) (*model.AgendaDraft, error) {
	row, err := s.queries.GetActiveAgendaDraft(ctx, channelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.withItems(ctx, row)
}

func (s *agendaStore) GetLatest(ctx context.Context, channelID string) (*model.AgendaDraft, error) {
	row, err := s.queries.GetLatestAgendaDraft(ctx, channelID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.withItems(ctx, row)
}

func (s *agendaStore) Create(ctx context.Context, draft *model.AgendaDraft) error {
	row, err := s.queries.CreateAgendaDraft(ctx, queries.CreateAgendaDraftParams{
		ID:        draft.ID,
		ChannelID: draft.ChannelID,
		CreatedBy: draft.CreatedBy,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return err
	}
	*draft = *toAgendaDraftModel(row, nil)
	return nil
}

func (s *agendaStore) Transition(ctx context.Context, draftID int64, from, to model.AgendaStatus, documentURL *string) error {
	n, err := s.queries.TransitionAgendaDraft(ctx, queries.TransitionAgendaDraftParams{
		ID:          draftID,
		From:        string(from),
		To:          string(to),
		DocumentURL: documentURL,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrConflict
		}
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (s *agendaStore) AddItem(ctx context.Context, item *model.AgendaItem) (bool, error) {
	row, err := s.queries.InsertAgendaItem(ctx, queries.InsertAgendaItemParams{
		ID:          item.ID,
		DraftID:     item.DraftID,
		Category:    string(item.Category),
		Text:        item.Text,
		SubmittedBy: item.SubmittedBy,
		SubmittedAt: item.SubmittedAt,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	*item = toAgendaItemModel(row)
	return true, nil
}

func (s *agendaStore) withItems(ctx context.Context, row queries.AgendaDraft) (*model.AgendaDraft, error) {
	items, err := s.queries.ListAgendaItems(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	return toAgendaDraftModel(row, items), nil
}

func toAgendaDraftModel(row queries.AgendaDraft, items []queries.AgendaItem) *model.AgendaDraft {
	d := &model.AgendaDraft{
		ID:          row.ID,
		ChannelID:   row.ChannelID,
		Status:      model.AgendaStatus(row.Status),
		CreatedBy:   row.CreatedBy,
		DocumentURL: row.DocumentURL,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
		FinalizedAt: row.FinalizedAt,
		Items:       make([]model.AgendaItem, 0, len(items)),
	}
	for _, it := range items {
		d.Items = append(d.Items, toAgendaItemModel(it))
	}
	return d
}

func toAgendaItemModel(row queries.AgendaItem) model.AgendaItem {
	return model.AgendaItem{
		ID:             row.ID,
		DraftID:        row.DraftID,
		Category:       model.Category(row.Category),
		Text:           row.Text,
		SubmittedBy:    row.SubmittedBy,
		SubmittedAt:    row.SubmittedAt,
		InsertionOrder: int(row.InsertionOrder),
		CreatedAt:      row.CreatedAt,
	}
}
