package brain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pillar.vc/assistant/common/llm"
	"pillar.vc/assistant/internal/intent"
)

type ClassificationResponse struct {
	Intent     string `json:"intent" jsonschema:"enum=summarize,enum=catchup,enum=actions,enum=agenda_start,enum=agenda_view,enum=agenda_add,enum=agenda_finalize,enum=portfolio,enum=lp_letter,enum=help,enum=question" jsonschema_description:"What the user is asking for"`
	Target     string `json:"target" jsonschema_description:"User id, company name or period the request is about; empty if none"`
	TimePeriod string `json:"time_period" jsonschema_description:"Look-back window like 24h, 7d, 2w, today or yesterday; empty if none"`
	Category   string `json:"category" jsonschema_description:"Agenda category for agenda_add: investment, pipeline, portfolio or other; empty otherwise"`
	Text       string `json:"text" jsonschema_description:"Agenda item text for agenda_add"`
}

var classificationSchema = llm.GenerateSchema[ClassificationResponse]()

// IntentClassifier asks the model to classify mention text that keyword
// matching could not place.
type IntentClassifier struct {
	llm          llm.Client
	defaultRange intent.TimeRange
	now          func() time.Time
}

func NewIntentClassifier(client llm.Client, defaultRange intent.TimeRange) *IntentClassifier {
	return &IntentClassifier{llm: client, defaultRange: defaultRange, now: time.Now}
}

func (c *IntentClassifier) Classify(ctx context.Context, text string) (intent.Intent, error) {
	var resp ClassificationResponse
	_, err := c.llm.Chat(ctx, llm.Request{
		SystemPrompt: classifyPrompt,
		UserPrompt:   text,
		SchemaName:   "classification",
		Schema:       classificationSchema,
		MaxTokens:    200,
		Temperature:  llm.Temp(0),
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("classify intent: %w", err)
	}

	in := c.toIntent(resp, text)
	slog.DebugContext(ctx, "intent classified by model",
		"label", resp.Intent,
		"kind", in.Kind())
	return in, nil
}

func (c *IntentClassifier) toIntent(r ClassificationResponse, text string) intent.Intent {
	rng := c.defaultRange
	if parsed, ok := intent.ParseRange(r.TimePeriod, c.now()); ok {
		rng = parsed
	}
	target := strings.TrimSpace(r.Target)

	switch strings.ToLower(strings.TrimSpace(r.Intent)) {
	case "help":
		return intent.Help{}
	case "summarize":
		return intent.Summarize{Range: rng}
	case "catchup":
		return intent.Catchup{}
	case "actions":
		out := intent.Actions{Range: rng}
		if target != "" {
			ref := intent.UserRef{Name: strings.TrimPrefix(target, "@")}
			if isUserID(target) {
				ref = intent.UserRef{ID: target}
			}
			out.Owner = &ref
		}
		return out
	case "agenda_start":
		return intent.AgendaStart{}
	case "agenda_view":
		return intent.AgendaView{}
	case "agenda_finalize":
		return intent.AgendaFinalize{}
	case "agenda_add":
		cat, ok := intent.ParseCategory(r.Category)
		item := strings.TrimSpace(r.Text)
		if !ok || item == "" {
			return intent.AgendaView{}
		}
		return intent.AgendaAddItem{Category: cat, Text: item}
	case "portfolio":
		return intent.Portfolio{Company: target}
	case "lp_letter":
		return intent.LPLetter{Period: target}
	default:
		return intent.Mention{FreeText: text}
	}
}

func isUserID(s string) bool {
	if len(s) < 2 || (s[0] != 'U' && s[0] != 'W') {
		return false
	}
	for i := 1; i < len(s); i++ {
		if (s[i] < 'A' || s[i] > 'Z') && (s[i] < '0' || s[i] > '9') {
			return false
		}
	}
	return true
}
