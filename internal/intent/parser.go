package intent

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
)

var (
	userMention = regexp.MustCompile(`^<@([A-Z0-9]+)(?:\|([^>]*))?>$`)
	anyMention  = regexp.MustCompile(`<@([A-Z0-9]+)(?:\|[^>]*)?>`)
)

// categoryAliases maps accepted category words to categories.
var categoryAliases = map[string]model.Category{
	"investment":  model.CategoryInvestment,
	"investments": model.CategoryInvestment,
	"decision":    model.CategoryInvestment,
	"decisions":   model.CategoryInvestment,
	"pipeline":    model.CategoryPipeline,
	"deal":        model.CategoryPipeline,
	"deals":       model.CategoryPipeline,
	"portfolio":   model.CategoryPortfolio,
	"company":     model.CategoryPortfolio,
	"companies":   model.CategoryPortfolio,
	"other":       model.CategoryOther,
	"misc":        model.CategoryOther,
}

// ParseCategory resolves a category word or alias.
func ParseCategory(word string) (model.Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(word))]
	return c, ok
}

type ParserConfig struct {
	// Keywords runs first on mention text. Nil disables keyword matching.
	Keywords Classifier
	// Fallback is consulted when keyword matching does not classify the text.
	Fallback Classifier
	// BotUserID is stripped from mention text.
	BotUserID    string
	DefaultRange TimeRange
	Now          func() time.Time
}

type Parser struct {
	keywords     Classifier
	fallback     Classifier
	botUserID    string
	defaultRange TimeRange
	now          func() time.Time
}

func NewParser(cfg ParserConfig) *Parser {
	p := &Parser{
		keywords:     cfg.Keywords,
		fallback:     cfg.Fallback,
		botUserID:    cfg.BotUserID,
		defaultRange: cfg.DefaultRange,
		now:          cfg.Now,
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.defaultRange.Duration == 0 {
		p.defaultRange = HoursRange(24)
	}
	return p
}

// Parse dispatches to the slash grammar or mention classification.
func (p *Parser) Parse(ctx context.Context, raw string, isMention bool) (Intent, error) {
	if isMention {
		return p.ParseMention(ctx, raw), nil
	}
	return p.ParseCommand(raw)
}

// ParseCommand parses slash-command text. An empty command is Help.
func (p *Parser) ParseCommand(raw string) (Intent, error) {
	verb, rest := nextToken(raw)
	switch strings.ToLower(verb) {
	case "", "help":
		return Help{}, nil
	case "summarize", "summarise", "summary":
		return p.parseSummarize(rest)
	case "catchup", "catch-up":
		if arg, _ := nextToken(rest); arg != "" {
			return nil, &domain.ParseError{Expected: "no arguments after catchup", Got: arg}
		}
		return Catchup{}, nil
	case "actions", "action-items":
		return p.parseActions(rest)
	case "agenda":
		return p.parseAgenda(rest)
	case "portfolio":
		return Portfolio{Company: unquote(strings.TrimSpace(rest))}, nil
	case "lp-letter", "lpletter", "lp_letter":
		return LPLetter{Period: unquote(strings.TrimSpace(rest))}, nil
	default:
		return nil, &domain.ParseError{
			Expected: "one of summarize, catchup, actions, agenda, portfolio, lp-letter, help",
			Got:      verb,
		}
	}
}

func (p *Parser) parseSummarize(rest string) (Intent, error) {
	arg, extra := nextToken(rest)
	if arg == "" {
		return Summarize{Range: p.defaultRange}, nil
	}
	r, ok := ParseRange(arg, p.now())
	if !ok {
		return nil, &domain.ParseError{Expected: "a time range like 24h, 7d, 2w, today or yesterday", Got: arg}
	}
	if tok, _ := nextToken(extra); tok != "" {
		return nil, &domain.ParseError{Expected: "a single time range", Got: tok}
	}
	return Summarize{Range: r}, nil
}

func (p *Parser) parseActions(rest string) (Intent, error) {
	out := Actions{Range: p.defaultRange}
	var haveOwner, haveRange bool
	for {
		var tok string
		tok, rest = nextToken(rest)
		if tok == "" {
			return out, nil
		}
		if ref, ok := parseUserRef(tok); ok && !haveOwner {
			out.Owner = &ref
			haveOwner = true
			continue
		}
		if r, ok := ParseRange(tok, p.now()); ok && !haveRange {
			out.Range = r
			haveRange = true
			continue
		}
		return nil, &domain.ParseError{Expected: "an optional @user and an optional time range like 7d", Got: tok}
	}
}

func (p *Parser) parseAgenda(rest string) (Intent, error) {
	sub, rest := nextToken(rest)
	switch strings.ToLower(sub) {
	case "", "start", "new":
		return AgendaStart{}, nil
	case "view", "show", "list":
		return AgendaView{}, nil
	case "finalize", "finalise", "done":
		return AgendaFinalize{}, nil
	case "add":
		word, text := nextToken(rest)
		if word == "" {
			return nil, &domain.ParseError{Expected: "a category (investment, pipeline, portfolio, other)", Got: ""}
		}
		category, ok := ParseCategory(word)
		if !ok {
			return nil, &domain.ParseError{Expected: "a category (investment, pipeline, portfolio, other)", Got: word}
		}
		text = unquote(strings.TrimSpace(text))
		if text == "" {
			return nil, &domain.ParseError{Expected: "item text after the category", Got: ""}
		}
		return AgendaAddItem{Category: category, Text: text}, nil
	default:
		return nil, &domain.ParseError{Expected: "agenda start, add, view or finalize", Got: sub}
	}
}

// ParseMention classifies free text addressed to the bot. It never fails:
// anything unclassified becomes a Mention.
func (p *Parser) ParseMention(ctx context.Context, raw string) Intent {
	text := p.stripBotMention(raw)
	if text == "" {
		return Help{}
	}

	// Slash grammar is accepted verbatim in mentions ("@pillar agenda add pipeline ...").
	if in, err := p.ParseCommand(text); err == nil {
		if _, isHelp := in.(Help); !isHelp || strings.EqualFold(strings.TrimSpace(text), "help") {
			return in
		}
	}

	for _, c := range []Classifier{p.keywords, p.fallback} {
		if c == nil {
			continue
		}
		in, err := c.Classify(ctx, text)
		if err == nil && in != nil {
			return in
		}
		if err != nil && !errors.Is(err, ErrUnclassified) {
			slog.WarnContext(ctx, "intent classifier failed, falling back",
				"error", err)
		}
	}
	return Mention{FreeText: text}
}

func (p *Parser) stripBotMention(raw string) string {
	text := raw
	if p.botUserID != "" {
		text = anyMention.ReplaceAllStringFunc(text, func(m string) string {
			if sub := anyMention.FindStringSubmatch(m); sub != nil && sub[1] == p.botUserID {
				return ""
			}
			return m
		})
	}
	return strings.Join(strings.Fields(text), " ")
}

func parseUserRef(tok string) (UserRef, bool) {
	if m := userMention.FindStringSubmatch(tok); m != nil {
		return UserRef{ID: m[1], Name: m[2]}, true
	}
	if strings.HasPrefix(tok, "@") && len(tok) > 1 {
		return UserRef{Name: tok[1:]}, true
	}
	return UserRef{}, false
}

// nextToken splits off the first whitespace-delimited token.
func nextToken(s string) (string, string) {
	s = strings.TrimLeft(s, " \t\n")
	if s == "" {
		return "", ""
	}
	i := strings.IndexAny(s, " \t\n")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}

var quotePairs = [][2]string{{`"`, `"`}, {"'", "'"}, {"\u201c", "\u201d"}}

func unquote(s string) string {
	for _, q := range quotePairs {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			return strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
		}
	}
	return s
}
