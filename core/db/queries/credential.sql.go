package queries

import (
	"context"
	"time"
)

type GoogleCredential struct {
	UserID       string
	AccessToken  string
	RefreshToken *string
	TokenType    string
	Expiry       *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const getGoogleCredential = `SELECT user_id, access_token, refresh_token, token_type, expiry, created_at, updated_at
FROM google_credentials
WHERE user_id = $1`

func (q *Queries) GetGoogleCredential(ctx context.Context, userID string) (GoogleCredential, error) {
	var c GoogleCredential
	err := q.db.QueryRow(ctx, getGoogleCredential, userID).
		Scan(&c.UserID, &c.AccessToken, &c.RefreshToken, &c.TokenType, &c.Expiry, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// A refreshed token from Google may omit the refresh token, so the stored one is kept.
const upsertGoogleCredential = `INSERT INTO google_credentials (user_id, access_token, refresh_token, token_type, expiry)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (user_id) DO UPDATE
SET access_token = EXCLUDED.access_token,
    refresh_token = COALESCE(EXCLUDED.refresh_token, google_credentials.refresh_token),
    token_type = EXCLUDED.token_type,
    expiry = EXCLUDED.expiry,
    updated_at = now()`

type UpsertGoogleCredentialParams struct {
	UserID       string
	AccessToken  string
	RefreshToken *string
	TokenType    string
	Expiry       *time.Time
}

func (q *Queries) UpsertGoogleCredential(ctx context.Context, arg UpsertGoogleCredentialParams) error {
	_, err := q.db.Exec(ctx, upsertGoogleCredential, arg.UserID, arg.AccessToken, arg.RefreshToken, arg.TokenType, arg.Expiry)
	return err
}

const deleteGoogleCredential = `DELETE FROM google_credentials WHERE user_id = $1`

func (q *Queries) DeleteGoogleCredential(ctx context.Context, userID string) error {
	_, err := q.db.Exec(ctx, deleteGoogleCredential, userID)
	return err
}
