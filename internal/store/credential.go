package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"pillar.vc/assistant/core/db/queries"
	"pillar.vc/assistant/internal/model"
)

type credentialStore struct {
	queries *queries.Queries
}

func newCredentialStore(q *queries.Queries) CredentialStore {
	return &credentialStore{queries: q}
}

func (s *credentialStore) Get(ctx context.Context, userID string) (*model.OAuthCredential, error) {
	row, err := s.queries.GetGoogleCredential(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	cred := &model.OAuthCredential{
		UserID:      row.UserID,
		AccessToken: row.AccessToken,
		TokenType:   row.TokenType,
	}
	if row.RefreshToken != nil {
		cred.RefreshToken = *row.RefreshToken
	}
	if row.Expiry != nil {
		cred.Expiry = *row.Expiry
	}
	return cred, nil
}

func (s *credentialStore) Upsert(ctx context.Context, cred *model.OAuthCredential) error {
	var refresh *string
	if cred.RefreshToken != "" {
		refresh = &cred.RefreshToken
	}
	var expiry *time.Time
	if !cred.Expiry.IsZero() {
		expiry = &cred.Expiry
	}
	return s.queries.UpsertGoogleCredential(ctx, queries.UpsertGoogleCredentialParams{
		UserID:       cred.UserID,
		AccessToken:  cred.AccessToken,
		RefreshToken: refresh,
		TokenType:    cred.TokenType,
		Expiry:       expiry,
	})
}

func (s *credentialStore) Delete(ctx context.Context, userID string) error {
	return s.queries.DeleteGoogleCredential(ctx, userID)
}
