package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

type InstructionKind string

const (
	ChannelDigest InstructionKind = "channel_digest"
	Catchup       InstructionKind = "catchup"
	CompanyUpdate InstructionKind = "company_update"
	LPSection     InstructionKind = "lp_section"
)

// Instruction tells the pipeline what kind of summary to produce.
type Instruction struct {
	Kind InstructionKind
	// Subject is the channel or company being summarized.
	Subject string
	// Context is extra background for the prompt, such as a company record.
	Context string
	// Period describes the window, e.g. "the last 7 days".
	Period string
}

func (in Instruction) focus() string {
	switch in.Kind {
	case Catchup:
		return catchupFocus
	case CompanyUpdate:
		return companyFocus
	case LPSection:
		return lpSectionFocus
	default:
		return digestFocus
	}
}

func (in Instruction) header() string {
	var b strings.Builder
	switch in.Kind {
	case CompanyUpdate, LPSection:
		fmt.Fprintf(&b, "Company: %s\n", in.Subject)
	default:
		if in.Subject != "" {
			fmt.Fprintf(&b, "Channel: #%s\n", in.Subject)
		}
	}
	if in.Period != "" {
		fmt.Fprintf(&b, "Period: %s\n", in.Period)
	}
	if in.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n", in.Context)
	}
	return b.String()
}

func (in Instruction) tone() string {
	if in.Kind == LPSection {
		return ""
	}
	return slackTone + "\n\n"
}

type Summary struct {
	Text        string
	Messages    int
	Chunks      int
	MapCalls    int
	ReduceCalls int
}

type PipelineConfig struct {
	MapConcurrency int
	MaxTokens      int
	RetryBackoff   time.Duration
}

// Pipeline summarizes chunked history with one model call per chunk and,
// when there is more than one chunk, a single merging call.
type Pipeline struct {
	llm         Completer
	concurrency int
	maxTokens   int
	retry       retrier
}

func NewPipeline(client Completer, cfg PipelineConfig) *Pipeline {
	if cfg.MapConcurrency <= 0 {
		cfg.MapConcurrency = 4
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1200
	}
	return &Pipeline{
		llm:         client,
		concurrency: cfg.MapConcurrency,
		maxTokens:   cfg.MaxTokens,
		retry:       newRetrier(cfg.RetryBackoff),
	}
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func (p *Pipeline) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Pipeline {
	p.retry.sleep = sleep
	return p
}

func (p *Pipeline) Summarize(ctx context.Context, chunks []Chunk, in Instruction) (Summary, error) {
	summary := Summary{Chunks: len(chunks)}
	for _, c := range chunks {
		summary.Messages += len(c.Messages)
	}
	if len(chunks) == 0 {
		return summary, nil
	}

	start := time.Now()
	partials, err := p.mapChunks(ctx, chunks, func(i int, c Chunk) string {
		return p.mapPrompt(in, i, len(chunks), c)
	})
	summary.MapCalls = len(chunks)
	if err != nil {
		return summary, err
	}

	if len(partials) == 1 {
		summary.Text = strings.TrimSpace(partials[0])
	} else {
		merged, err := p.retry.complete(ctx, "summarize.reduce", p.llm, p.reducePrompt(in, partials), p.maxTokens)
		summary.ReduceCalls = 1
		if err != nil {
			return summary, err
		}
		summary.Text = strings.TrimSpace(merged)
	}

	slog.InfoContext(ctx, "summary generated",
		"kind", in.Kind,
		"messages", summary.Messages,
		"chunks", summary.Chunks,
		"reduce_calls", summary.ReduceCalls,
		"duration_ms", time.Since(start).Milliseconds())

	return summary, nil
}

// mapChunks runs one model call per chunk with bounded parallelism. The first
// failure cancels the calls still in flight.
func (p *Pipeline) mapChunks(ctx context.Context, chunks []Chunk, prompt func(int, Chunk) string) ([]string, error) {
	out := make([]string, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			text, err := p.retry.complete(gctx, "summarize.map", p.llm, prompt(i, c), p.maxTokens)
			if err != nil {
				return fmt.Errorf("chunk %d/%d: %w", i+1, len(chunks), err)
			}
			out[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Pipeline) mapPrompt(in Instruction, i, n int, c Chunk) string {
	var b strings.Builder
	if n > 1 {
		fmt.Fprintf(&b, mapPreamble, i+1, n)
	} else {
		b.WriteString("You're the Pillar VC assistant helping the team keep up with Slack.")
	}
	b.WriteString("\n\n")
	b.WriteString(in.tone())
	b.WriteString(in.header())
	b.WriteString("\nMessages:\n")
	b.WriteString(c.Render())
	b.WriteString("\n")
	b.WriteString(in.focus())
	return b.String()
}

func (p *Pipeline) reducePrompt(in Instruction, partials []string) string {
	var b strings.Builder
	b.WriteString(reducePreamble)
	b.WriteString("\n\n")
	b.WriteString(in.tone())
	b.WriteString(in.header())
	for i, part := range partials {
		fmt.Fprintf(&b, "\nPart %d:\n%s\n", i+1, strings.TrimSpace(part))
	}
	b.WriteString("\n")
	b.WriteString(in.focus())
	return b.String()
}
