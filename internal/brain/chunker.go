package brain

import (
	"fmt"
	"strings"

	"pillar.vc/assistant/internal/model"
)

// Chunk is a contiguous slice of history sized to fit one model call.
type Chunk struct {
	Messages []model.Message
	Tokens   int
}

// Render formats the chunk as prompt lines, one per message.
func (c Chunk) Render() string {
	var b strings.Builder
	for _, m := range c.Messages {
		b.WriteString(RenderLine(m))
		b.WriteByte('\n')
	}
	return b.String()
}

// RenderLine is the prompt form of a single message. Replies are indented
// under their parent.
func RenderLine(m model.Message) string {
	var b strings.Builder
	if m.IsReply() {
		b.WriteString("  ↳ ")
	}
	fmt.Fprintf(&b, "[%s] %s: %s", m.TS, m.Author(), m.Text)
	if len(m.Attachments) > 0 {
		fmt.Fprintf(&b, " [Attached: %s]", strings.Join(m.Attachments, ", "))
	}
	if len(m.Reactions) > 0 {
		fmt.Fprintf(&b, " [Reactions: %s]", strings.Join(m.Reactions, " "))
	}
	return b.String()
}

// EstimateTokens approximates the token cost of a message at four characters
// per token of its rendered line.
func EstimateTokens(m model.Message) int {
	return (len(RenderLine(m)) + 3) / 4
}

type Chunker struct {
	estimate func(model.Message) int
}

func NewChunker() *Chunker {
	return &Chunker{estimate: EstimateTokens}
}

// Chunk packs messages greedily into chunks of at most budget tokens.
// A message whose cost alone exceeds the budget becomes its own chunk.
// A thread (a parent followed by its replies) is kept in one chunk when it
// fits in a chunk at all. Message order is never changed, so concatenating
// the chunks yields the input.
func (c *Chunker) Chunk(messages []model.Message, budget int) []Chunk {
	if len(messages) == 0 {
		return nil
	}
	if budget <= 0 {
		budget = 1
	}

	var (
		chunks []Chunk
		cur    Chunk
	)
	flush := func() {
		if len(cur.Messages) > 0 {
			chunks = append(chunks, cur)
			cur = Chunk{}
		}
	}
	add := func(m model.Message, cost int) {
		cur.Messages = append(cur.Messages, m)
		cur.Tokens += cost
	}

	for start := 0; start < len(messages); {
		end := threadRunEnd(messages, start)
		run := messages[start:end]
		costs := make([]int, len(run))
		runCost := 0
		for i, m := range run {
			costs[i] = c.estimate(m)
			runCost += costs[i]
		}

		if len(run) > 1 && runCost <= budget {
			if cur.Tokens+runCost > budget {
				flush()
			}
			for i, m := range run {
				add(m, costs[i])
			}
			start = end
			continue
		}

		for i, m := range run {
			switch {
			case costs[i] > budget:
				flush()
				add(m, costs[i])
				flush()
			case cur.Tokens+costs[i] > budget:
				flush()
				add(m, costs[i])
			default:
				add(m, costs[i])
			}
		}
		start = end
	}
	flush()
	return chunks
}

// threadRunEnd returns the index just past the run that starts at i: the
// message at i plus the replies to the same thread that directly follow it.
func threadRunEnd(messages []model.Message, i int) int {
	root := messages[i].TS
	if messages[i].IsReply() {
		root = messages[i].ThreadTS
	}
	j := i + 1
	for j < len(messages) && messages[j].IsReply() && messages[j].ThreadTS == root {
		j++
	}
	return j
}

// Flatten concatenates chunk messages back into one slice.
func Flatten(chunks []Chunk) []model.Message {
	var out []model.Message
	for _, c := range chunks {
		out = append(out, c.Messages...)
	}
	return out
}
