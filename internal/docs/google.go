// Package docs publishes rendered documents to Google Docs on behalf of a
// Slack user, and runs the OAuth handshake that authorizes it.
package docs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
	gdocs "google.golang.org/api/docs/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/store"
)

const serviceName = "Google"

// ErrNotConfigured is returned when Google credentials are missing from the config.
var ErrNotConfigured = errors.New("google docs is not configured")

// StateStore binds OAuth state tokens to Slack users.
type StateStore interface {
	Issue(ctx context.Context, userID string) (string, error)
	Consume(ctx context.Context, state string) (string, error)
}

type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// PublicURL is where users start the OAuth flow, e.g. https://pillar.example.
	PublicURL string
	// Endpoint overrides the Docs API base URL.
	Endpoint string
}

type Service struct {
	oauth     *oauth2.Config
	creds     store.CredentialStore
	states    StateStore
	publicURL string
	endpoint  string
	now       func() time.Time
}

func NewService(cfg Config, creds store.CredentialStore, states StateStore) *Service {
	redirect := cfg.RedirectURL
	if redirect == "" {
		redirect = cfg.PublicURL + "/oauth/google/callback"
	}
	return &Service{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirect,
			Endpoint:     endpoints.Google,
			Scopes:       []string{gdocs.DocumentsScope, gdocs.DriveFileScope},
		},
		creds:     creds,
		states:    states,
		publicURL: cfg.PublicURL,
		endpoint:  cfg.Endpoint,
		now:       time.Now,
	}
}

// CreateDocument creates a Google Doc owned by userID and returns its URL.
// It returns domain.AuthRequired when the user has not connected Google.
func (s *Service) CreateDocument(ctx context.Context, userID string, doc model.Document) (string, error) {
	cred, err := s.creds.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return "", s.authRequired(ctx, userID)
	}
	if err != nil {
		return "", fmt.Errorf("loading google credential: %w", err)
	}

	src := &persistingSource{
		base: s.oauth.TokenSource(ctx, toToken(cred)),
		last: cred.AccessToken,
		save: func(t *oauth2.Token) {
			if err := s.creds.Upsert(context.WithoutCancel(ctx), fromToken(userID, t, cred.RefreshToken)); err != nil {
				slog.WarnContext(ctx, "failed to persist refreshed google token", "error", err)
			}
		},
	}
	opts := []option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}
	if s.endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.endpoint))
	}
	svc, err := gdocs.NewService(ctx, opts...)
	if err != nil {
		return "", fmt.Errorf("creating docs client: %w", err)
	}

	created, err := svc.Documents.Create(&gdocs.Document{Title: doc.Title}).Context(ctx).Do()
	if err != nil {
		return "", s.mapError(ctx, userID, "docs.create", err)
	}

	if reqs := layout(doc); len(reqs) > 0 {
		_, err = svc.Documents.BatchUpdate(created.DocumentId, &gdocs.BatchUpdateDocumentRequest{Requests: reqs}).
			Context(ctx).Do()
		if err != nil {
			return "", s.mapError(ctx, userID, "docs.batch_update", err)
		}
	}

	docURL := fmt.Sprintf("https://docs.google.com/document/d/%s/edit", created.DocumentId)
	slog.InfoContext(ctx, "google doc created",
		"document_id", created.DocumentId,
		"title", doc.Title,
		"sections", len(doc.Sections))
	return docURL, nil
}

// ConnectURL returns the link that starts the OAuth flow for userID.
func (s *Service) ConnectURL(ctx context.Context, userID string) (string, error) {
	state, err := s.states.Issue(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.publicURL + "/oauth/google/start?state=" + url.QueryEscape(state), nil
}

// AuthURL is Google's consent page for a previously issued state.
func (s *Service) AuthURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange completes the OAuth flow and stores the credential. It returns the
// Slack user the state was issued to.
func (s *Service) Exchange(ctx context.Context, state, code string) (string, error) {
	userID, err := s.states.Consume(ctx, state)
	if err != nil {
		return "", fmt.Errorf("resolving oauth state: %w", err)
	}
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return "", domain.Upstream("docs.oauth_exchange", err)
	}
	if err := s.creds.Upsert(ctx, fromToken(userID, tok, "")); err != nil {
		return "", fmt.Errorf("storing google credential: %w", err)
	}
	slog.InfoContext(ctx, "google account connected", "user_id", userID)
	return userID, nil
}

func (s *Service) authRequired(ctx context.Context, userID string) error {
	connect, err := s.ConnectURL(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "failed to issue oauth state", "error", err)
	}
	return &domain.AuthRequired{Service: serviceName, ConnectURL: connect}
}

func (s *Service) mapError(ctx context.Context, userID, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		// The refresh token was revoked or expired.
		if derr := s.creds.Delete(context.WithoutCancel(ctx), userID); derr != nil && !errors.Is(derr, store.ErrNotFound) {
			slog.WarnContext(ctx, "failed to delete revoked google credential", "error", derr)
		}
		return s.authRequired(ctx, userID)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return s.authRequired(ctx, userID)
		case apiErr.Code == http.StatusTooManyRequests:
			return domain.Upstream(op, &domain.RateLimited{RetryAfter: retryAfter(apiErr.Header), Err: err})
		}
	}
	return domain.Upstream(op, err)
}

func retryAfter(h http.Header) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(h.Get("Retry-After"))); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 10 * time.Second
}

// persistingSource writes refreshed tokens back to the credential store.
type persistingSource struct {
	base oauth2.TokenSource
	last string
	save func(*oauth2.Token)
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	t, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	if t.AccessToken != p.last {
		p.last = t.AccessToken
		p.save(t)
	}
	return t, nil
}

func toToken(c *model.OAuthCredential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// fromToken keeps the previous refresh token when Google omits it on refresh.
func fromToken(userID string, t *oauth2.Token, previousRefresh string) *model.OAuthCredential {
	refresh := t.RefreshToken
	if refresh == "" {
		refresh = previousRefresh
	}
	return &model.OAuthCredential{
		UserID:       userID,
		AccessToken:  t.AccessToken,
		RefreshToken: refresh,
		TokenType:    t.TokenType,
		Expiry:       t.Expiry,
	}
}

// Disabled is used when Google is not configured.
type Disabled struct{}

func (Disabled) CreateDocument(context.Context, string, model.Document) (string, error) {
	return "", domain.Upstream("docs.create", ErrNotConfigured)
}
