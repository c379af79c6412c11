package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GoogleConnector runs the Google OAuth handshake.
type GoogleConnector interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, state, code string) (string, error)
}

type OAuthHandler struct {
	google GoogleConnector
}

func NewOAuthHandler(google GoogleConnector) *OAuthHandler {
	return &OAuthHandler{google: google}
}

// Start redirects to Google's consent page. The state was issued to a Slack
// user when they were asked to connect.
func (h *OAuthHandler) Start(c *gin.Context) {
	state := c.Query("state")
	if state == "" {
		c.String(http.StatusBadRequest, "Missing state. Run the command in Slack again to get a fresh link.")
		return
	}
	c.Redirect(http.StatusFound, h.google.AuthURL(state))
}

func (h *OAuthHandler) Callback(c *gin.Context) {
	ctx := c.Request.Context()

	if reason := c.Query("error"); reason != "" {
		slog.InfoContext(ctx, "google authorization declined", "reason", reason)
		c.String(http.StatusOK, "Google access was not granted. You can close this tab.")
		return
	}

	state, code := c.Query("state"), c.Query("code")
	if state == "" || code == "" {
		c.String(http.StatusBadRequest, "Missing state or code.")
		return
	}

	userID, err := h.google.Exchange(ctx, state, code)
	if err != nil {
		slog.WarnContext(ctx, "google oauth exchange failed", "error", err)
		c.String(http.StatusBadRequest, "That link has expired or was already used. Run the command in Slack again to get a fresh one.")
		return
	}

	slog.InfoContext(ctx, "google oauth completed", "user_id", userID)
	c.String(http.StatusOK, "Google account connected. Head back to Slack and run the command again.")
}
