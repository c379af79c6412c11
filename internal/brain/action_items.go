package brain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pillar.vc/assistant/common/llm"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
)

type ActionItemsResponse struct {
	Items []ActionItemResult `json:"items" jsonschema_description:"Action items in the order they appear"`
}

type ActionItemResult struct {
	Owner string `json:"owner" jsonschema_description:"Author name or user id of the owner, or unassigned"`
	Task  string `json:"task" jsonschema_description:"What needs doing, one short sentence"`
	Ref   string `json:"ref" jsonschema_description:"Timestamp of the source message"`
}

var actionItemsSchema = llm.SchemaJSON(llm.GenerateSchema[ActionItemsResponse]())

// OwnerFilter selects the action items of one person.
type OwnerFilter struct {
	UserID string
	Name   string
}

// ActionItemExtractor finds action items in chunked history using the same
// map-reduce shape as the summarization pipeline.
type ActionItemExtractor struct {
	pipeline *Pipeline
}

func NewActionItemExtractor(p *Pipeline) *ActionItemExtractor {
	return &ActionItemExtractor{pipeline: p}
}

// Extract returns the action items found in chunks. When filter is set, only
// items owned by that person are returned; the filter is applied after
// extraction so the model always sees the whole conversation.
func (e *ActionItemExtractor) Extract(ctx context.Context, chunks []Chunk, filter *OwnerFilter) ([]model.ActionItem, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	start := time.Now()
	p := e.pipeline

	partials, err := p.mapChunks(ctx, chunks, func(_ int, c Chunk) string {
		return fmt.Sprintf(actionItemsPrompt, actionItemsSchema, c.Render())
	})
	if err != nil {
		return nil, err
	}

	var items []ActionItemResult
	if len(partials) == 1 {
		items, err = decodeActionItems(partials[0])
		if err != nil {
			return nil, domain.Upstream("actions.decode", err)
		}
	} else {
		var merged []ActionItemResult
		for i, raw := range partials {
			part, err := decodeActionItems(raw)
			if err != nil {
				return nil, domain.Upstream("actions.decode", fmt.Errorf("part %d of %d: %w", i+1, len(partials), err))
			}
			merged = append(merged, part...)
		}
		listing, err := json.Marshal(ActionItemsResponse{Items: merged})
		if err != nil {
			return nil, fmt.Errorf("marshal partial action items: %w", err)
		}
		raw, err := p.retry.complete(ctx, "actions.reduce", p.llm,
			fmt.Sprintf(mergeActionItemsPrompt, actionItemsSchema, listing), p.maxTokens)
		if err != nil {
			return nil, err
		}
		items, err = decodeActionItems(raw)
		if err != nil {
			return nil, domain.Upstream("actions.decode", err)
		}
	}

	participants := participantsOf(chunks)
	out := make([]model.ActionItem, 0, len(items))
	for _, it := range items {
		task := strings.TrimSpace(it.Task)
		if task == "" {
			continue
		}
		out = append(out, model.ActionItem{
			Owner: participants.resolve(it.Owner),
			Task:  task,
			Ref:   strings.TrimSpace(it.Ref),
		})
	}
	if filter != nil {
		out = filterByOwner(out, participants, *filter)
	}

	slog.InfoContext(ctx, "action items extracted",
		"chunks", len(chunks),
		"items", len(out),
		"filtered", filter != nil,
		"duration_ms", time.Since(start).Milliseconds())

	return out, nil
}

func decodeActionItems(raw string) ([]ActionItemResult, error) {
	var resp ActionItemsResponse
	if err := llm.DecodeJSON(raw, &resp); err == nil {
		return resp.Items, nil
	}
	// Some replies are a bare array.
	var items []ActionItemResult
	if err := llm.DecodeJSON(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// participants maps every known spelling of a history author (id, display
// name, lowercased name) to the canonical display name.
type participants map[string]string

func participantsOf(chunks []Chunk) participants {
	p := participants{}
	for _, c := range chunks {
		for _, m := range c.Messages {
			name := m.Author()
			if m.AuthorID != "" {
				p[m.AuthorID] = name
				p["<@"+m.AuthorID+">"] = name
			}
			if m.AuthorName != "" {
				p[m.AuthorName] = name
				p[strings.ToLower(m.AuthorName)] = name
				p["@"+strings.ToLower(m.AuthorName)] = name
			}
		}
	}
	return p
}

// resolve returns the canonical owner name, or UnassignedOwner when the
// owner is not someone who took part in the conversation.
func (p participants) resolve(owner string) string {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return model.UnassignedOwner
	}
	if name, ok := p[owner]; ok {
		return name
	}
	if name, ok := p[strings.ToLower(owner)]; ok {
		return name
	}
	return model.UnassignedOwner
}

func filterByOwner(items []model.ActionItem, p participants, f OwnerFilter) []model.ActionItem {
	want := map[string]bool{}
	if f.UserID != "" {
		want[p.resolve(f.UserID)] = true
	}
	if f.Name != "" {
		want[p.resolve(f.Name)] = true
		want[f.Name] = true
	}
	delete(want, model.UnassignedOwner)

	out := make([]model.ActionItem, 0, len(items))
	for _, it := range items {
		if want[it.Owner] {
			out = append(out, it)
		}
	}
	return out
}
