package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"pillar.vc/assistant/common/llm"
	"pillar.vc/assistant/core/config"
	"pillar.vc/assistant/internal/agenda"
	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/cache"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/portfolio"
	"pillar.vc/assistant/internal/queue"
	"pillar.vc/assistant/internal/slackapi"
	"pillar.vc/assistant/internal/store"
	"pillar.vc/assistant/internal/web"
)

// Records is the records store as the services use it.
type Records interface {
	FindCompany(ctx context.Context, name string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)
	CompanyNames(ctx context.Context) ([]string, error)
	UpsertAgendaRecord(ctx context.Context, rec model.AgendaRecord) error
}

type Dependencies struct {
	Stores    *store.Stores
	TxRunner  TxRunner
	Redis     redis.Cmdable
	Slack     *slackapi.Client
	LLM       llm.Client
	Agent     llm.AgentClient
	Records   Records
	Docs      DocumentCreator
	BotUserID string
}

type Services struct {
	cfg  config.Config
	deps Dependencies
}

func NewServices(cfg config.Config, deps Dependencies) *Services {
	return &Services{cfg: cfg, deps: deps}
}

func (s *Services) DefaultRange() intent.TimeRange {
	return intent.HoursRange(s.cfg.Assistant.DefaultSummaryHours)
}

func (s *Services) Parser() *intent.Parser {
	return intent.NewParser(intent.ParserConfig{
		Keywords:     intent.NewKeywordClassifier(s.deps.Records, s.DefaultRange(), nil),
		Fallback:     brain.NewIntentClassifier(s.deps.LLM, s.DefaultRange()),
		BotUserID:    s.deps.BotUserID,
		DefaultRange: s.DefaultRange(),
	})
}

func (s *Services) Resolver() *portfolio.Resolver {
	return portfolio.NewResolver(s.deps.Records, s.deps.Slack, s.cfg.Assistant.PortfolioPrefix)
}

func (s *Services) Agendas() *agenda.Manager {
	return agenda.NewManager(
		AgendaTx(s.deps.TxRunner),
		agenda.NewRedisLocker(s.deps.Redis, "pillar:lock:"),
		s.deps.Docs,
		s.deps.Records,
		agenda.Config{
			LockTTL: s.cfg.Assistant.AgendaLockTTL,
			Names:   s.deps.Slack.UserName,
		},
	)
}

func (s *Services) MentionAgent() *brain.MentionAgent {
	a := s.cfg.Assistant
	return brain.NewMentionAgent(s.deps.Agent, s.deps.Slack, s.deps.Slack,
		web.NewFetcher(web.Config{Timeout: a.WebFetchTimeout, MaxBytes: a.WebFetchMaxBytes}),
		brain.MentionAgentConfig{
			MaxIterations:   a.MentionMaxIterations,
			MaxTokens:       a.MentionMaxTokens,
			HistoryMessages: a.MaxMessages,
			RetryBackoff:    a.RetryBackoff,
		})
}

func (s *Services) Router() *CommandRouter {
	a := s.cfg.Assistant
	pipeline := brain.NewPipeline(s.deps.LLM, brain.PipelineConfig{
		MapConcurrency: a.MapConcurrency,
		MaxTokens:      a.SummaryMaxTokens,
		RetryBackoff:   a.RetryBackoff,
	})

	return NewCommandRouter(RouterDeps{
		Parser:     s.Parser(),
		Transport:  s.deps.Slack,
		Chunker:    brain.NewChunker(),
		Summarizer: pipeline,
		Mentions:   s.MentionAgent(),
		Actions:    brain.NewActionItemExtractor(pipeline),
		Letters:    brain.NewLPLetterComposer(pipeline),
		Agendas:    s.Agendas(),
		Resolver:   s.Resolver(),
		Companies:  s.deps.Records,
		Docs:       s.deps.Docs,
		Watermarks: s.deps.Stores.Watermarks(),
		Cache:      cache.NewSummaryCache(s.deps.Redis, a.SummaryCacheTTL),
	}, RouterConfig{
		CatchupMax:          time.Duration(a.CatchupMaxHours) * time.Hour,
		MaxMessages:         a.MaxMessages,
		ChunkBudget:         a.ChunkTokenBudget,
		PortfolioLookback:   a.PortfolioLookback,
		LPLetterLookback:    time.Duration(a.LPLetterLookbackDays) * 24 * time.Hour,
		LPLetterMaxChannels: a.LPLetterMaxChannels,
	})
}

func (s *Services) EventHandler() *EventHandler {
	return NewEventHandler(s.Router(), s.deps.Slack)
}

func (s *Services) Ingest(producer queue.Producer) EventIngestService {
	return NewEventIngestService(cache.NewDeduper(s.deps.Redis, time.Hour), producer, slog.Default())
}
