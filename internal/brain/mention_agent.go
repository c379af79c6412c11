package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pillar.vc/assistant/common/llm"
	"pillar.vc/assistant/common/logger"
)

const (
	doomLoopThreshold = 3
	maxParallelTools  = 4
)

type MentionAgentConfig struct {
	// MaxIterations bounds the model turns that may call tools. One more
	// turn without tools writes the answer.
	MaxIterations int
	MaxTokens     int
	// HistoryMessages caps the messages one history read returns.
	HistoryMessages int
	RetryBackoff    time.Duration
	Now             func() time.Time
}

// MentionRequest is a free-form question addressed to the bot.
type MentionRequest struct {
	Question    string
	Asker       string
	ChannelID   string
	ChannelName string
	// ThreadTS is the thread the mention was posted in. It equals MessageTS,
	// or is empty, for a top-level mention.
	ThreadTS  string
	MessageTS string
}

// MentionAgent answers mentions with a bounded tool loop: the model may read
// the thread, channel history, shared files and web pages before replying.
type MentionAgent struct {
	llm           llm.AgentClient
	conversations ConversationReader
	files         FileReader
	pages         PageFetcher
	cfg           MentionAgentConfig
	retry         retrier
}

func NewMentionAgent(client llm.AgentClient, conversations ConversationReader, files FileReader, pages PageFetcher, cfg MentionAgentConfig) *MentionAgent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 5
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.HistoryMessages <= 0 {
		cfg.HistoryMessages = 300
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MentionAgent{
		llm:           client,
		conversations: conversations,
		files:         files,
		pages:         pages,
		cfg:           cfg,
		retry:         newRetrier(cfg.RetryBackoff),
	}
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func (a *MentionAgent) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *MentionAgent {
	a.retry.sleep = sleep
	return a
}

type toolCallRecord struct {
	name string
	args string
}

func (a *MentionAgent) Answer(ctx context.Context, req MentionRequest) (string, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "pillar.brain.mention"})
	sc := logger.StartSpan(ctx, "brain.mention_agent")
	defer sc.End()
	ctx = sc.Context()

	tools := newMentionTools(a, req)
	scene := tools.load(ctx)
	defs := tools.definitions()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: fmt.Sprintf(mentionSystemPrompt, slackTone)},
		{Role: llm.RoleUser, Content: sceneText(req, scene)},
	}

	start := time.Now()
	iterations := 0
	toolCalls := 0
	reason := "natural"
	defer func() {
		slog.InfoContext(ctx, "mention agent completed",
			"duration_ms", time.Since(start).Milliseconds(),
			"iterations", iterations,
			"tool_calls", toolCalls,
			"termination_reason", reason)
	}()

	var recent []toolCallRecord
	for {
		iterations++
		if iterations > a.cfg.MaxIterations {
			reason = "iteration_limit"
			slog.InfoContext(ctx, "mention agent hit iteration limit, answering with what it has",
				"iterations", iterations)
			return a.forceAnswer(ctx, messages, "You're out of tool calls. Answer now with what you've found, and say briefly what you couldn't check.")
		}

		resp, err := a.chat(ctx, messages, defs)
		if err != nil {
			reason = "error"
			return "", err
		}

		if len(resp.ToolCalls) == 0 {
			answer := strings.TrimSpace(resp.Content)
			if answer == "" {
				reason = "empty"
				return a.forceAnswer(ctx, append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content}),
					"Please write your answer for the user now.")
			}
			return answer, nil
		}
		toolCalls += len(resp.ToolCalls)

		if len(resp.ToolCalls) == 1 {
			tc := resp.ToolCalls[0]
			recent = append(recent, toolCallRecord{name: tc.Name, args: normalizeArgs(tc.Arguments)})
			if len(recent) > doomLoopThreshold {
				recent = recent[1:]
			}
			if len(recent) == doomLoopThreshold && allIdentical(recent) {
				reason = "doom_loop"
				slog.WarnContext(ctx, "mention agent repeated the same tool call, forcing an answer",
					"tool", tc.Name,
					"arguments", logger.Truncate(tc.Arguments, 200))
				return a.forceAnswer(ctx, messages, "You keep making the same call. Answer now with what you have.")
			}
		} else {
			recent = nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for i, result := range a.executeTools(ctx, tools, resp.ToolCalls) {
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: resp.ToolCalls[i].ID,
			})
		}
	}
}

func (a *MentionAgent) chat(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.AgentResponse, error) {
	return retryCall(ctx, a.retry, "mention.agent", func(ctx context.Context) (*llm.AgentResponse, error) {
		return a.llm.ChatWithTools(ctx, llm.AgentRequest{
			Messages:  messages,
			Tools:     tools,
			MaxTokens: a.cfg.MaxTokens,
		})
	})
}

// forceAnswer asks for a reply with no tools offered.
func (a *MentionAgent) forceAnswer(ctx context.Context, messages []llm.Message, prompt string) (string, error) {
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})
	resp, err := a.chat(ctx, messages, nil)
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Content)
	if answer == "" {
		return "I looked around but couldn't put together an answer. Try asking more specifically?", nil
	}
	return answer, nil
}

// executeTools runs calls concurrently. Failures become error text for the
// model rather than aborting the loop.
func (a *MentionAgent) executeTools(ctx context.Context, tools *mentionTools, calls []llm.ToolCall) []string {
	results := make([]string, len(calls))
	var g errgroup.Group
	g.SetLimit(maxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			slog.DebugContext(ctx, "mention agent executing tool",
				"tool", call.Name,
				"call_id", call.ID)
			out, err := tools.execute(ctx, call)
			if err != nil {
				slog.InfoContext(ctx, "mention tool failed",
					"tool", call.Name,
					"error", err)
				out = toolError(err)
			}
			results[i] = truncateResult(out)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// sceneText is the opening user turn: where the question was asked and what
// it points at.
func sceneText(req MentionRequest, scene mentionScene) string {
	var b strings.Builder
	if req.ChannelName != "" {
		fmt.Fprintf(&b, "Asked by %s in #%s.\n", req.Asker, req.ChannelName)
	} else {
		fmt.Fprintf(&b, "Asked by %s in a direct message.\n", req.Asker)
	}
	if scene.parent != nil {
		fmt.Fprintf(&b, "They are replying in a thread to %s: %q\n", scene.parent.Author(), scene.parent.Text)
	}
	if len(scene.files) > 0 {
		names := make([]string, len(scene.files))
		for i, f := range scene.files {
			names[i] = f.Name
		}
		fmt.Fprintf(&b, "Files attached: %s\n", strings.Join(names, ", "))
	}
	if len(scene.links) > 0 {
		fmt.Fprintf(&b, "Links mentioned: %s\n", strings.Join(scene.links, ", "))
	}
	fmt.Fprintf(&b, "\nQuestion: %s", req.Question)
	return b.String()
}

func normalizeArgs(args string) string {
	var v any
	if err := json.Unmarshal([]byte(args), &v); err != nil {
		return args
	}
	out, err := json.Marshal(v)
	if err != nil {
		return args
	}
	return string(out)
}

func allIdentical(calls []toolCallRecord) bool {
	for _, c := range calls[1:] {
		if c != calls[0] {
			return false
		}
	}
	return true
}
