package queries

import (
	"context"
	"time"
)

type AgendaDraft struct {
	ID          int64
	ChannelID   string
	Status      string
	CreatedBy   string
	DocumentURL *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FinalizedAt *time.Time
}

type AgendaItem struct {
	ID             int64
	DraftID        int64
	Category       string
	Text           string
	SubmittedBy    string
	SubmittedAt    string
	InsertionOrder int32
	CreatedAt      time.Time
}

const agendaDraftColumns = `id, channel_id, status, created_by, document_url, created_at, updated_at, finalized_at`

func scanAgendaDraft(row interface{ Scan(...any) error }) (AgendaDraft, error) {
	var d AgendaDraft
	err := row.Scan(&d.ID, &d.ChannelID, &d.Status, &d.CreatedBy, &d.DocumentURL, &d.CreatedAt, &d.UpdatedAt, &d.FinalizedAt)
	return d, err
}

const getActiveAgendaDraft = `SELECT ` + agendaDraftColumns + `
FROM agenda_drafts
WHERE channel_id = $1 AND status IN ('open', 'finalizing')
ORDER BY created_at DESC
LIMIT 1
FOR UPDATE`

// GetActiveAgendaDraft row-locks the channel's open or finalizing draft for the
// rest of the surrounding transaction.
func (q *Queries) GetActiveAgendaDraft(ctx context.Context, channelID string) (AgendaDraft, error) {
	return scanAgendaDraft(q.db.QueryRow(ctx, getActiveAgendaDraft, channelID))
}

const getLatestAgendaDraft = `SELECT ` + agendaDraftColumns + `
FROM agenda_drafts
WHERE channel_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1`

func (q *Queries) GetLatestAgendaDraft(ctx context.Context, channelID string) (AgendaDraft, error) {
	return scanAgendaDraft(q.db.QueryRow(ctx, getLatestAgendaDraft, channelID))
}

const createAgendaDraft = `INSERT INTO agenda_drafts (id, channel_id, status, created_by)
VALUES ($1, $2, 'open', $3)
RETURNING ` + agendaDraftColumns

type CreateAgendaDraftParams struct {
	ID        int64
	ChannelID string
	CreatedBy string
}

func (q *Queries) CreateAgendaDraft(ctx context.Context, arg CreateAgendaDraftParams) (AgendaDraft, error) {
	return scanAgendaDraft(q.db.QueryRow(ctx, createAgendaDraft, arg.ID, arg.ChannelID, arg.CreatedBy))
}

const transitionAgendaDraft = `UPDATE agenda_drafts
SET status = $3,
    document_url = COALESCE($4, document_url),
    finalized_at = CASE WHEN $3 = 'finalized' THEN now() ELSE finalized_at END,
    updated_at = now()
WHERE id = $1 AND status = $2`

type TransitionAgendaDraftParams struct {
	ID          int64
	From        string
	To          string
	DocumentURL *string
}

// TransitionAgendaDraft is a compare-and-set on status. It returns the number of
// rows changed, which is zero when the draft was not in the expected state.
func (q *Queries) TransitionAgendaDraft(ctx context.Context, arg TransitionAgendaDraftParams) (int64, error) {
	tag, err := q.db.Exec(ctx, transitionAgendaDraft, arg.ID, arg.From, arg.To, arg.DocumentURL)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const insertAgendaItem = `INSERT INTO agenda_items (id, draft_id, category, text, submitted_by, submitted_at, insertion_order)
VALUES ($1, $2, $3, $4, $5, $6,
        (SELECT COALESCE(MAX(insertion_order), 0) + 1 FROM agenda_items WHERE draft_id = $2))
ON CONFLICT (draft_id, submitted_by, text, submitted_at) DO NOTHING
RETURNING id, draft_id, category, text, submitted_by, submitted_at, insertion_order, created_at`

type InsertAgendaItemParams struct {
	ID          int64
	DraftID     int64
	Category    string
	Text        string
	SubmittedBy string
	SubmittedAt string
}

// InsertAgendaItem returns pgx.ErrNoRows when an identical submission already exists.
func (q *Queries) InsertAgendaItem(ctx context.Context, arg InsertAgendaItemParams) (AgendaItem, error) {
	var i AgendaItem
	err := q.db.QueryRow(ctx, insertAgendaItem,
		arg.ID, arg.DraftID, arg.Category, arg.Text, arg.SubmittedBy, arg.SubmittedAt,
	).Scan(&i.ID, &i.DraftID, &i.Category, &i.Text, &i.SubmittedBy, &i.SubmittedAt, &i.InsertionOrder, &i.CreatedAt)
	return i, err
}

const listAgendaItems = `SELECT id, draft_id, category, text, submitted_by, submitted_at, insertion_order, created_at
FROM agenda_items
WHERE draft_id = $1
ORDER BY insertion_order`

func (q *Queries) ListAgendaItems(ctx context.Context, draftID int64) ([]AgendaItem, error) {
	rows, err := q.db.Query(ctx, listAgendaItems, draftID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []AgendaItem
	for rows.Next() {
		var i AgendaItem
		if err := rows.Scan(&i.ID, &i.DraftID, &i.Category, &i.Text, &i.SubmittedBy, &i.SubmittedAt, &i.InsertionOrder, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
