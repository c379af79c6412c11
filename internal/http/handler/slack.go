package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/internal/http/dto"
	"pillar.vc/assistant/internal/service"
	"pillar.vc/assistant/internal/slackapi"
)

const commandAckText = "Working on it..."

type SlackHandler struct {
	ingest    service.EventIngestService
	botUserID string
	now       func() time.Time
}

func NewSlackHandler(ingest service.EventIngestService, botUserID string) *SlackHandler {
	return &SlackHandler{
		ingest:    ingest,
		botUserID: botUserID,
		now:       time.Now,
	}
}

// Command accepts a slash command. Slack gives us three seconds, so the
// command is queued and acknowledged right away.
func (h *SlackHandler) Command(c *gin.Context) {
	ctx := c.Request.Context()

	cmd, err := slack.SlashCommandParse(c.Request)
	if err != nil {
		slog.WarnContext(ctx, "invalid slash command", "error", err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid slash command"})
		return
	}

	ev := slackapi.FromSlashCommand(cmd, h.now())
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(ev.ID),
		ChannelID: logger.Ptr(cmd.ChannelID),
		UserID:    logger.Ptr(cmd.UserID),
	})
	if _, err := h.ingest.IngestEvent(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "failed to ingest slash command", "error", err)
		c.JSON(http.StatusOK, dto.CommandAck{
			ResponseType: slack.ResponseTypeEphemeral,
			Text:         "Sorry, I couldn't take that request right now. Please try again in a moment.",
		})
		return
	}

	slog.InfoContext(ctx, "slash command queued", "command", cmd.Command)
	c.JSON(http.StatusOK, dto.CommandAck{ResponseType: slack.ResponseTypeEphemeral, Text: commandAckText})
}

// Event accepts an Events API callback, including the one-off URL
// verification handshake.
func (h *SlackHandler) Event(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read request body"})
		return
	}

	// The signature middleware already authenticated the request.
	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		slog.WarnContext(ctx, "invalid slack event", "error", err)
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid event"})
		return
	}

	if event.Type == slackevents.URLVerification {
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid challenge"})
			return
		}
		c.JSON(http.StatusOK, dto.ChallengeResponse{Challenge: challenge.Challenge})
		return
	}

	inbound, ok := slackapi.FromEventsAPI(event, h.botUserID)
	if !ok {
		c.Status(http.StatusOK)
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(inbound.ID),
		ChannelID: logger.Ptr(inbound.Invocation.ChannelID),
		UserID:    logger.Ptr(inbound.Invocation.UserID),
	})
	result, err := h.ingest.IngestEvent(ctx, inbound)
	if err != nil {
		// A non-2xx makes Slack retry the delivery.
		slog.ErrorContext(ctx, "failed to ingest slack event", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "failed to ingest event"})
		return
	}

	slog.InfoContext(ctx, "slack event accepted",
		"kind", inbound.Kind,
		"duplicated", result.Duplicated)
	c.Status(http.StatusOK)
}
