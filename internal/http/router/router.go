package router

import (
	"github.com/gin-gonic/gin"

	"pillar.vc/assistant/internal/http/handler"
	"pillar.vc/assistant/internal/metrics"
	"pillar.vc/assistant/internal/service"
)

type RouterConfig struct {
	SigningSecret string
	BotUserID     string
	// SlackEnabled is false in Socket Mode, where events arrive over the socket.
	SlackEnabled bool
}

// SetupRoutes mounts the ingress endpoints. google may be nil when Google
// Docs is not configured.
func SetupRoutes(router *gin.Engine, ingest service.EventIngestService, google handler.GoogleConnector, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if cfg.SlackEnabled {
		slackHandler := handler.NewSlackHandler(ingest, cfg.BotUserID)
		SlackRouter(router.Group("/slack"), slackHandler, cfg.SigningSecret)
	}

	if google != nil {
		OAuthRouter(router.Group("/oauth/google"), handler.NewOAuthHandler(google))
	}
}
