package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"pillar.vc/assistant/common/id"
	"pillar.vc/assistant/common/llm"
	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/common/otel"
	"pillar.vc/assistant/core/config"
	"pillar.vc/assistant/core/db"
	"pillar.vc/assistant/internal/cache"
	"pillar.vc/assistant/internal/docs"
	"pillar.vc/assistant/internal/metrics"
	"pillar.vc/assistant/internal/queue"
	"pillar.vc/assistant/internal/records"
	"pillar.vc/assistant/internal/service"
	"pillar.vc/assistant/internal/slackapi"
	"pillar.vc/assistant/internal/store"
	"pillar.vc/assistant/internal/worker"
)

const oauthStateTTL = 15 * time.Minute

func main() {
	fmt.Printf("%s\n", banner)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel, cfg.Env)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	slog.InfoContext(ctx, "pillar worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Pipeline.RedisGroup,
		"consumer_name", cfg.Pipeline.RedisConsumer)

	// Workers use a different node id than the server.
	if err := id.Init(cfg.NodeID + 1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
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

	llmClient, err := llm.New(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create llm client", "error", err)
		os.Exit(1)
	}
	agentClient, err := llm.NewAgentClient(llm.Config{
		Provider: cfg.LLM.Provider,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Model:    cfg.LLM.Model,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create agent client", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "llm client ready", "provider", cfg.LLM.Provider, "model", llmClient.Model())

	slackClient := slackapi.New(slackapi.Config{BotToken: cfg.Slack.BotToken, Debug: cfg.Slack.Debug})
	botUserID := cfg.Slack.BotUserID
	if botUserID == "" {
		if botUserID, err = slackClient.BotUserID(ctx); err != nil {
			slog.ErrorContext(ctx, "failed to resolve bot user", "error", err)
			os.Exit(1)
		}
	}

	stores := store.NewStores(database.Queries())

	var recordStore service.Records = records.Disabled{}
	if cfg.Airtable.Enabled() {
		recordStore = records.NewClient(records.Config{
			APIKey:       cfg.Airtable.APIKey,
			BaseID:       cfg.Airtable.BaseID,
			CompanyTable: cfg.Airtable.CompanyTable,
			AgendaTable:  cfg.Airtable.AgendaTable,
			Timeout:      cfg.Airtable.Timeout,
		})
	} else {
		slog.WarnContext(ctx, "airtable not configured, portfolio records disabled")
	}

	var documents service.DocumentCreator = docs.Disabled{}
	if cfg.Google.Enabled() {
		documents = docs.NewService(docs.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURL,
			PublicURL:    cfg.PublicURL,
		}, stores.Credentials(), cache.NewOAuthStates(redisClient, oauthStateTTL))
	} else {
		slog.WarnContext(ctx, "google not configured, document creation disabled")
	}

	services := service.NewServices(cfg, service.Dependencies{
		Stores:    stores,
		TxRunner:  service.NewTxRunner(database),
		Redis:     redisClient,
		Slack:     slackClient,
		LLM:       llmClient,
		Agent:     agentClient,
		Records:   recordStore,
		Docs:      documents,
		BotUserID: botUserID,
	})

	consumer, err := queue.NewRedisConsumer(ctx, redisClient, queue.ConsumerConfig{
		Stream:       cfg.Pipeline.RedisStream,
		Group:        cfg.Pipeline.RedisGroup,
		Consumer:     cfg.Pipeline.RedisConsumer,
		DLQStream:    cfg.Pipeline.RedisDLQStream,
		BatchSize:    int64(cfg.Pipeline.Concurrency),
		Block:        5 * time.Second,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		RequeueDelay: time.Second,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create consumer", "error", err)
		os.Exit(1)
	}

	w := worker.New(consumer, services.EventHandler(), worker.Config{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Concurrency: cfg.Pipeline.Concurrency,
	})
	reclaimer := worker.NewReclaimer(consumer, w, worker.ReclaimerConfig{
		MinIdle:   5 * time.Minute,
		Interval:  time.Minute,
		BatchSize: 10,
	})

	errCh := make(chan error, 2)
	go func() {
		errCh <- w.Run(ctx)
	}()
	go reclaimer.Run(ctx)
	go func() {
		if err := metrics.Serve(ctx, cfg.Pipeline.MetricsAddr); err != nil {
			slog.ErrorContext(ctx, "metrics server error", "error", err)
		}
	}()

	slog.InfoContext(ctx, "worker initialized and running", "metrics_addr", cfg.Pipeline.MetricsAddr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker stopped unexpectedly", "error", err)
		}
	}

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		// Stop reclaimer first (quick), then the worker (may be processing).
		reclaimer.Stop()
		w.Stop()
		close(done)
	}()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case <-done:
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "worker shutdown complete")
}

const banner = `
 ____ ___ _     _        _    ____   __        _____  ____  _  _______ ____
|  _ \_ _| |   | |      / \  |  _ \  \ \      / / _ \|  _ \| |/ / ____|  _ \
| |_) | || |   | |     / _ \ | |_) |  \ \ /\ / / | | | |_) | ' /|  _| | |_) |
|  __/| || |___| |___ / ___ \|  _ <    \ V  V /| |_| |  _ <| . \| |___|  _ <
|_|  |___|_____|_____/_/   \_\_| \_\    \_/\_/  \___/|_| \_\_|\_\_____|_| \_\
`
