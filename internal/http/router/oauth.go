package router

import (
	"github.com/gin-gonic/gin"

	"pillar.vc/assistant/internal/http/handler"
)

func OAuthRouter(rg *gin.RouterGroup, h *handler.OAuthHandler) {
	rg.GET("/start", h.Start)
	rg.GET("/callback", h.Callback)
}
