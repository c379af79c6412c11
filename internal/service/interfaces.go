package service

import (
	"context"

	"pillar.vc/assistant/internal/agenda"
	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/slackapi"
)

// Transport is the part of the Slack client the handlers use.
type Transport interface {
	History(ctx context.Context, channelID string, oldest int64, limit int) ([]model.Message, error)
	UserName(ctx context.Context, userID string) string
	ChannelName(ctx context.Context, channelID string) (string, error)
	ListChannels(ctx context.Context, prefix string) ([]slackapi.Channel, error)
	Deliver(ctx context.Context, inv model.InvocationContext, resp model.Response) error
}

type IntentParser interface {
	Parse(ctx context.Context, raw string, isMention bool) (intent.Intent, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, chunks []brain.Chunk, in brain.Instruction) (brain.Summary, error)
}

// MentionAnswerer replies to free-form questions.
type MentionAnswerer interface {
	Answer(ctx context.Context, req brain.MentionRequest) (string, error)
}

type ActionExtractor interface {
	Extract(ctx context.Context, chunks []brain.Chunk, filter *brain.OwnerFilter) ([]model.ActionItem, error)
}

type LetterComposer interface {
	Section(ctx context.Context, company, background string, chunks []brain.Chunk) (brain.CompanySection, error)
	Compose(ctx context.Context, period string, sections []brain.CompanySection) (string, error)
}

type Chunker interface {
	Chunk(messages []model.Message, budget int) []brain.Chunk
}

type AgendaManager interface {
	Start(ctx context.Context, channelID, userID string) (*agenda.StartResult, error)
	AddItem(ctx context.Context, channelID, userID string, category model.Category, text, eventTS string) (*agenda.AddResult, error)
	View(ctx context.Context, channelID string) (*model.AgendaDraft, error)
	Finalize(ctx context.Context, channelID, userID string) (*agenda.FinalizeResult, error)
}

type CompanyResolver interface {
	ResolveCompany(ctx context.Context, nameOrChannel string) (model.PortfolioCompanyRef, model.Company, error)
	IsPortfolioChannel(name string) bool
	DisplayName(channelName string) string
	ChannelFor(company string) string
	Prefix() string
}

type CompanyLister interface {
	ListCompanies(ctx context.Context) ([]model.Company, error)
}

type DocumentCreator interface {
	CreateDocument(ctx context.Context, userID string, doc model.Document) (string, error)
}

type SummaryCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, text string) error
}
