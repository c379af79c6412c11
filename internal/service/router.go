package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/metrics"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/store"
)

type RouterConfig struct {
	// CatchupMax bounds how far back a catch-up reaches, with or without a watermark.
	CatchupMax          time.Duration
	MaxMessages         int
	ChunkBudget         int
	PortfolioLookback   time.Duration
	LPLetterLookback    time.Duration
	LPLetterMaxChannels int
	HandlerTimeout      time.Duration
	Now                 func() time.Time
}

// RouterDeps are the collaborators of the router. Records and Docs may be
// nil-safe disabled implementations when those integrations are not configured.
type RouterDeps struct {
	Parser     IntentParser
	Transport  Transport
	Chunker    Chunker
	Summarizer Summarizer
	Mentions   MentionAnswerer
	Actions    ActionExtractor
	Letters    LetterComposer
	Agendas    AgendaManager
	Resolver   CompanyResolver
	Companies  CompanyLister
	Docs       DocumentCreator
	Watermarks store.WatermarkStore
	Cache      SummaryCache
}

// CommandRouter turns intents into responses. It holds no per-request state;
// per-channel exclusion lives in the agenda manager.
type CommandRouter struct {
	RouterDeps
	cfg RouterConfig
}

func NewCommandRouter(deps RouterDeps, cfg RouterConfig) *CommandRouter {
	if cfg.CatchupMax <= 0 {
		cfg.CatchupMax = 168 * time.Hour
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 500
	}
	if cfg.ChunkBudget <= 0 {
		cfg.ChunkBudget = 6000
	}
	if cfg.PortfolioLookback <= 0 {
		cfg.PortfolioLookback = 30 * 24 * time.Hour
	}
	if cfg.LPLetterLookback <= 0 {
		cfg.LPLetterLookback = 90 * 24 * time.Hour
	}
	if cfg.LPLetterMaxChannels <= 0 {
		cfg.LPLetterMaxChannels = 20
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CommandRouter{RouterDeps: deps, cfg: cfg}
}

// Handle parses raw command or mention text and routes the result.
func (r *CommandRouter) Handle(ctx context.Context, raw string, isMention bool, inv model.InvocationContext) model.Response {
	in, err := r.Parser.Parse(ctx, raw, isMention)
	if err != nil {
		metrics.IntentsHandled.WithLabelValues("unparsed", metrics.ErrorClass(err)).Inc()
		slog.InfoContext(ctx, "command not understood",
			"error", err,
			"text", logger.Truncate(raw, 200))
		return errorResponse(err)
	}
	return r.Route(ctx, in, inv)
}

// Route runs the handler for in. Errors and panics become user-facing text.
func (r *CommandRouter) Route(ctx context.Context, in intent.Intent, inv model.InvocationContext) (resp model.Response) {
	kind := string(in.Kind())
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ChannelID: logger.Ptr(inv.ChannelID),
		UserID:    logger.Ptr(inv.UserID),
		Intent:    logger.Ptr(kind),
		Component: "pillar.service.router",
	})
	sc := logger.StartSpan(ctx, "router."+kind)
	defer sc.End()
	ctx = sc.Context()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	var err error
	defer func() {
		if rec := recover(); rec != nil {
			slog.ErrorContext(ctx, "panic recovered in handler",
				"panic", rec,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
			resp = errorResponse(err)
		}
		metrics.ObserveIntent(kind, start, err)
	}()

	resp, err = r.dispatch(ctx, in, inv)
	if err != nil {
		sc.RecordError(err)
		logHandlerError(ctx, err)
		return errorResponse(err)
	}

	slog.InfoContext(ctx, "intent handled",
		"duration_ms", time.Since(start).Milliseconds())
	return resp
}

func (r *CommandRouter) dispatch(ctx context.Context, in intent.Intent, inv model.InvocationContext) (model.Response, error) {
	switch in := in.(type) {
	case intent.Help:
		return ephemeral(domain.UsageText), nil
	case intent.Summarize:
		return r.summarize(ctx, in, inv)
	case intent.Catchup:
		return r.catchup(ctx, inv)
	case intent.Actions:
		return r.actions(ctx, in, inv)
	case intent.AgendaStart:
		return r.agendaStart(ctx, inv)
	case intent.AgendaAddItem:
		return r.agendaAdd(ctx, in, inv)
	case intent.AgendaView:
		return r.agendaView(ctx, inv)
	case intent.AgendaFinalize:
		return r.agendaFinalize(ctx, inv)
	case intent.Portfolio:
		return r.portfolio(ctx, in, inv)
	case intent.LPLetter:
		return r.lpLetter(ctx, in, inv)
	case intent.Mention:
		return r.answer(ctx, in, inv)
	default:
		return model.Response{}, fmt.Errorf("no handler for intent %q", in.Kind())
	}
}

func errorResponse(err error) model.Response {
	return ephemeral(domain.UserMessage(err))
}

func ephemeral(text string) model.Response {
	return model.Response{Text: text, Ephemeral: true}
}

func inChannel(text string) model.Response {
	return model.Response{Text: text}
}

// logHandlerError logs expected user-facing failures quietly and the rest loudly.
func logHandlerError(ctx context.Context, err error) {
	var (
		parseErr *domain.ParseError
		auth     *domain.AuthRequired
		conflict *domain.StateConflict
	)
	switch {
	case errors.As(err, &parseErr), errors.Is(err, domain.ErrNotFound), errors.As(err, &auth), errors.As(err, &conflict):
		slog.InfoContext(ctx, "intent rejected", "error", err)
	case errors.Is(err, domain.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		slog.WarnContext(ctx, "intent failed upstream", "error", err)
	default:
		slog.ErrorContext(ctx, "intent failed", "error", err)
	}
}
