package router_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pillar.vc/assistant/internal/http/router"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/service"
)

type nopIngest struct{}

func (nopIngest) IngestEvent(context.Context, model.InboundEvent) (*service.EventIngestResult, error) {
	return &service.EventIngestResult{Enqueued: true}, nil
}

func (nopIngest) Ingest(context.Context, model.InboundEvent) error { return nil }

var _ = Describe("SetupRoutes", func() {
	serve := func(engine *gin.Engine, method, path string) int {
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, httptest.NewRequest(method, path, strings.NewReader("")))
		return w.Code
	}

	It("mounts health, metrics and signed Slack endpoints", func() {
		engine := gin.New()
		router.SetupRoutes(engine, nopIngest{}, nil, router.RouterConfig{SigningSecret: "secret", SlackEnabled: true})

		Expect(serve(engine, http.MethodGet, "/health")).To(Equal(http.StatusOK))
		Expect(serve(engine, http.MethodGet, "/metrics")).To(Equal(http.StatusOK))
		Expect(serve(engine, http.MethodPost, "/slack/events")).To(Equal(http.StatusUnauthorized))
		Expect(serve(engine, http.MethodGet, "/oauth/google/start?state=x")).To(Equal(http.StatusNotFound))
	})

	It("leaves Slack endpoints out in Socket Mode", func() {
		engine := gin.New()
		router.SetupRoutes(engine, nopIngest{}, nil, router.RouterConfig{})

		Expect(serve(engine, http.MethodPost, "/slack/commands")).To(Equal(http.StatusNotFound))
	})
})
