package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

var quarterPattern = regexp.MustCompile(`(?i)\bQ([1-4])\s*(?:FY)?\s*'?(\d{2,4})\b`)

// CompanyNamer lists the portfolio company names keyword matching may detect.
type CompanyNamer interface {
	CompanyNames(ctx context.Context) ([]string, error)
}

// KeywordClassifier recognises common requests without a model call.
type KeywordClassifier struct {
	companies    CompanyNamer
	defaultRange TimeRange
	now          func() time.Time
}

func NewKeywordClassifier(companies CompanyNamer, defaultRange TimeRange, now func() time.Time) *KeywordClassifier {
	if now == nil {
		now = time.Now
	}
	if defaultRange.Duration == 0 {
		defaultRange = HoursRange(24)
	}
	return &KeywordClassifier{companies: companies, defaultRange: defaultRange, now: now}
}

func (k *KeywordClassifier) Classify(ctx context.Context, text string) (Intent, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	now := k.now()

	switch {
	case lower == "help" || containsWord(lower, "what can you do"):
		return Help{}, nil

	case containsWord(lower, "catch me up") || containsWord(lower, "catch up") || containsWord(lower, "catchup") ||
		containsWord(lower, "what did i miss"):
		return Catchup{}, nil

	case containsWord(lower, "agenda"):
		return k.agenda(text, lower), nil

	case containsWord(lower, "lp letter") || containsWord(lower, "lp-letter") || containsWord(lower, "lp update"):
		return LPLetter{Period: quarterOf(text)}, nil

	case containsWord(lower, "action items") || containsWord(lower, "action item") ||
		containsWord(lower, "todos") || containsWord(lower, "to-dos") || containsWord(lower, "follow ups") ||
		containsWord(lower, "follow-ups"):
		out := Actions{Range: k.defaultRange}
		if r, ok := findRange(lower, now); ok {
			out.Range = r
		}
		if m := anyMention.FindStringSubmatch(text); m != nil {
			out.Owner = &UserRef{ID: m[1]}
		}
		return out, nil

	case strings.Contains(lower, "summar") || containsWord(lower, "recap") || containsWord(lower, "tl;dr") ||
		containsWord(lower, "tldr"):
		out := Summarize{Range: k.defaultRange}
		if r, ok := findRange(lower, now); ok {
			out.Range = r
		}
		return out, nil
	}

	if name := k.matchCompany(ctx, lower); name != "" {
		return Portfolio{Company: name}, nil
	}
	if containsWord(lower, "portfolio update") || containsWord(lower, "company update") {
		return Portfolio{}, nil
	}
	return nil, ErrUnclassified
}

func (k *KeywordClassifier) agenda(text, lower string) Intent {
	switch {
	case containsWord(lower, "finalize") || containsWord(lower, "finalise") || containsWord(lower, "publish"):
		return AgendaFinalize{}
	case containsWord(lower, "start") || containsWord(lower, "new") || containsWord(lower, "begin"):
		return AgendaStart{}
	}
	if i := strings.Index(lower, "add "); i >= 0 && len(lower) == len(text) {
		rest := strings.TrimSpace(text[i+len("add "):])
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "to the agenda"), "to agenda")
		word, itemText := nextToken(rest)
		if c, ok := ParseCategory(strings.TrimSuffix(word, ":")); ok {
			if itemText = unquote(strings.TrimSpace(itemText)); itemText != "" {
				return AgendaAddItem{Category: c, Text: itemText}
			}
		}
	}
	return AgendaView{}
}

func (k *KeywordClassifier) matchCompany(ctx context.Context, lower string) string {
	if k.companies == nil {
		return ""
	}
	names, err := k.companies.CompanyNames(ctx)
	if err != nil {
		slog.DebugContext(ctx, "company names unavailable for keyword matching", "error", err)
		return ""
	}
	best := ""
	for _, name := range names {
		n := strings.ToLower(strings.TrimSpace(name))
		if len(n) < 3 || !containsWord(lower, n) {
			continue
		}
		if len(n) > len(best) {
			best = name
		}
	}
	return best
}

// containsWord reports whether phrase occurs in s on word boundaries.
func containsWord(s, phrase string) bool {
	for from := 0; ; {
		i := strings.Index(s[from:], phrase)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(phrase)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end])) {
			return true
		}
		from = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}

func quarterOf(text string) string {
	m := quarterPattern.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	year := m[2]
	if len(year) == 2 {
		year = "20" + year
	}
	return "Q" + m[1] + " " + year
}
