package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const lpLetterMaxTokens = 4000

// CompanySection is one portfolio company's contribution to the LP letter.
type CompanySection struct {
	Company string
	Text    string
}

// LPLetterComposer writes the quarterly LP letter from per-company sections.
type LPLetterComposer struct {
	pipeline *Pipeline
}

func NewLPLetterComposer(p *Pipeline) *LPLetterComposer {
	return &LPLetterComposer{pipeline: p}
}

// Section summarizes one company's channel history as an LP letter section.
func (c *LPLetterComposer) Section(ctx context.Context, company, background string, chunks []Chunk) (CompanySection, error) {
	summary, err := c.pipeline.Summarize(ctx, chunks, Instruction{
		Kind:    LPSection,
		Subject: company,
		Context: background,
		Period:  "the last quarter",
	})
	if err != nil {
		return CompanySection{}, fmt.Errorf("lp section for %s: %w", company, err)
	}
	return CompanySection{Company: company, Text: summary.Text}, nil
}

// Compose merges the sections into the full letter with one model call.
func (c *LPLetterComposer) Compose(ctx context.Context, period string, sections []CompanySection) (string, error) {
	var b strings.Builder
	for _, s := range sections {
		fmt.Fprintf(&b, "%s:\n%s\n\n", s.Company, strings.TrimSpace(s.Text))
	}

	p := c.pipeline
	text, err := p.retry.complete(ctx, "lp_letter.compose", p.llm,
		fmt.Sprintf(lpLetterPrompt, period, b.String()), lpLetterMaxTokens)
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "lp letter composed",
		"period", period,
		"sections", len(sections))
	return strings.TrimSpace(text), nil
}

// CurrentQuarter formats t's calendar quarter, e.g. "Q4 2026".
func CurrentQuarter(t time.Time) string {
	return fmt.Sprintf("Q%d %d", (int(t.Month())-1)/3+1, t.Year())
}
