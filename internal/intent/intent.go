// Package intent turns raw slash-command or mention text into one of a closed
// set of typed requests.
package intent

import (
	"context"
	"errors"
	"time"

	"pillar.vc/assistant/internal/model"
)

type Kind string

const (
	KindHelp           Kind = "help"
	KindSummarize      Kind = "summarize"
	KindCatchup        Kind = "catchup"
	KindActions        Kind = "actions"
	KindAgendaStart    Kind = "agenda_start"
	KindAgendaAddItem  Kind = "agenda_add"
	KindAgendaFinalize Kind = "agenda_finalize"
	KindAgendaView     Kind = "agenda_view"
	KindPortfolio      Kind = "portfolio"
	KindLPLetter       Kind = "lp_letter"
	KindMention        Kind = "mention"
)

// Intent is implemented only by the types in this package.
type Intent interface {
	Kind() Kind
	sealed()
}

// TimeRange is a look-back window ending now.
type TimeRange struct {
	Duration time.Duration
	Label    string // human readable, e.g. "the last 7 days"
}

// Since returns the start of the window relative to now.
func (r TimeRange) Since(now time.Time) time.Time {
	return now.Add(-r.Duration)
}

// UserRef is a Slack user reference taken from command text.
type UserRef struct {
	ID   string // empty when only a display name was given
	Name string
}

func (u UserRef) String() string {
	if u.ID != "" {
		return "<@" + u.ID + ">"
	}
	return "@" + u.Name
}

type Help struct{}

type Summarize struct {
	Range TimeRange
}

type Catchup struct{}

type Actions struct {
	Owner *UserRef
	Range TimeRange
}

type AgendaStart struct{}

type AgendaAddItem struct {
	Category model.Category
	Text     string
}

type AgendaFinalize struct{}

type AgendaView struct{}

// Portfolio asks for a company update. An empty Company means "the company of
// the current channel".
type Portfolio struct {
	Company string
}

type LPLetter struct {
	Period string
}

// Mention is free text that matched no command; it is answered as a general question.
type Mention struct {
	FreeText string
}

func (Help) Kind() Kind           { return KindHelp }
func (Summarize) Kind() Kind      { return KindSummarize }
func (Catchup) Kind() Kind        { return KindCatchup }
func (Actions) Kind() Kind        { return KindActions }
func (AgendaStart) Kind() Kind    { return KindAgendaStart }
func (AgendaAddItem) Kind() Kind  { return KindAgendaAddItem }
func (AgendaFinalize) Kind() Kind { return KindAgendaFinalize }
func (AgendaView) Kind() Kind     { return KindAgendaView }
func (Portfolio) Kind() Kind      { return KindPortfolio }
func (LPLetter) Kind() Kind       { return KindLPLetter }
func (Mention) Kind() Kind        { return KindMention }

func (Help) sealed()           {}
func (Summarize) sealed()      {}
func (Catchup) sealed()        {}
func (Actions) sealed()        {}
func (AgendaStart) sealed()    {}
func (AgendaAddItem) sealed()  {}
func (AgendaFinalize) sealed() {}
func (AgendaView) sealed()     {}
func (Portfolio) sealed()      {}
func (LPLetter) sealed()       {}
func (Mention) sealed()        {}

// ErrUnclassified is returned by a Classifier that does not recognise the text.
var ErrUnclassified = errors.New("text not classified")

// Classifier maps free text to an intent. Keyword matching and the
// model-backed classifier both satisfy it.
type Classifier interface {
	Classify(ctx context.Context, text string) (Intent, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, text string) (Intent, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Intent, error) {
	return f(ctx, text)
}
