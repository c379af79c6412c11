package router

import (
	"github.com/gin-gonic/gin"

	"pillar.vc/assistant/internal/http/handler"
)

func SlackRouter(rg *gin.RouterGroup, h *handler.SlackHandler, signingSecret string) {
	rg.Use(handler.VerifySlackSignature(signingSecret))
	rg.POST("/commands", h.Command)
	rg.POST("/events", h.Event)
}
