package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"pillar.vc/assistant/common/id"
	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/common/otel"
	"pillar.vc/assistant/core/config"
	"pillar.vc/assistant/core/db"
	"pillar.vc/assistant/internal/cache"
	"pillar.vc/assistant/internal/docs"
	"pillar.vc/assistant/internal/http/handler"
	"pillar.vc/assistant/internal/http/middleware"
	httprouter "pillar.vc/assistant/internal/http/router"
	"pillar.vc/assistant/internal/queue"
	"pillar.vc/assistant/internal/service"
	"pillar.vc/assistant/internal/slackapi"
	"pillar.vc/assistant/internal/store"
)

const oauthStateTTL = 15 * time.Minute

func main() {
	fmt.Printf("%s\n", banner)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "pillar server starting",
		"env", cfg.Env,
		"socket_mode", cfg.Slack.SocketMode,
		"otel", telemetry != nil)

	if err := id.Init(cfg.NodeID); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	redisOpts, err := redis.ParseURL(cfg.Pipeline.RedisURL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.InfoContext(ctx, "redis connected", "stream", cfg.Pipeline.RedisStream)

	slackClient := slackapi.New(slackapi.Config{
		BotToken: cfg.Slack.BotToken,
		AppToken: cfg.Slack.AppToken,
		Debug:    cfg.Slack.Debug,
	})
	botUserID := cfg.Slack.BotUserID
	if botUserID == "" {
		if botUserID, err = slackClient.BotUserID(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to resolve bot user", "error", err)
			os.Exit(1)
		}
	}

	producer := queue.NewRedisProducer(redisClient, cfg.Pipeline.RedisStream, slog.Default())
	defer producer.Close()

	stores := store.NewStores(database.Queries())
	services := service.NewServices(cfg, service.Dependencies{
		Stores:    stores,
		TxRunner:  service.NewTxRunner(database),
		Redis:     redisClient,
		Slack:     slackClient,
		BotUserID: botUserID,
	})
	ingest := services.Ingest(producer)

	var google handler.GoogleConnector
	if cfg.Google.Enabled() {
		google = docs.NewService(docs.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			PublicURL:    cfg.PublicURL,
		}, stores.Credentials(), cache.NewOAuthStates(redisClient, oauthStateTTL))
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           setupRouter(cfg, ingest, google, botUserID),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if cfg.Slack.SocketMode {
		listener := slackapi.NewListener(slackClient, ingest, botUserID, cfg.Slack.Debug)
		go func() {
			if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("socket mode: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.ErrorContext(ctx, "server failed", "error", err)
	}

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, ingest service.EventIngestService, google handler.GoogleConnector, botUserID string) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, ingest, google, httprouter.RouterConfig{
		SigningSecret: cfg.Slack.SigningSecret,
		BotUserID:     botUserID,
		SlackEnabled:  !cfg.Slack.SocketMode,
	})
	return router
}

const banner = `
 ____ ___ _     _        _    ____
|  _ \_ _| |   | |      / \  |  _ \
| |_) | || |   | |     / _ \ | |_) |
|  __/| || |___| |___ / ___ \|  _ <
|_|  |___|_____|_____/_/   \_\_| \_\
`
