package store

import (
	"context"
	"errors"

	"pillar.vc/assistant/internal/model"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a compare-and-set lost or a uniqueness rule fired
	ErrConflict = errors.New("conflict")
)

// AgendaStore defines the contract for agenda draft data access
type AgendaStore interface {
	// GetActive returns the channel's open or finalizing draft with its items.
	GetActive(ctx context.Context, channelID string) (*model.AgendaDraft, error)
	// GetLatest returns the most recent draft in any state, with its items.
	GetLatest(ctx context.Context, channelID string) (*model.AgendaDraft, error)
	// Create inserts an open draft. ErrConflict when the channel already has an active one.
	Create(ctx context.Context, draft *model.AgendaDraft) error
	// Transition moves a draft from one status to another. ErrConflict when the
	// draft was not in status from.
	Transition(ctx context.Context, draftID int64, from, to model.AgendaStatus, documentURL *string) error
	// AddItem appends an item. It reports false when the same submission is already recorded.
	AddItem(ctx context.Context, item *model.AgendaItem) (bool, error)
}

// WatermarkStore defines the contract for catch-up watermark data access
type WatermarkStore interface {
	Get(ctx context.Context, userID, channelID string) (*model.Watermark, error)
	// Advance raises the watermark to ordinal. A lower ordinal leaves it unchanged.
	Advance(ctx context.Context, userID, channelID string, ordinal int64) (*model.Watermark, error)
}

// CredentialStore defines the contract for stored Google credentials
type CredentialStore interface {
	Get(ctx context.Context, userID string) (*model.OAuthCredential, error)
	Upsert(ctx context.Context, cred *model.OAuthCredential) error
	Delete(ctx context.Context, userID string) error
}
