package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/cache"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/metrics"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/store"
)

func (r *CommandRouter) summarize(ctx context.Context, in intent.Summarize, inv model.InvocationContext) (model.Response, error) {
	since := in.Range.Since(r.cfg.Now())
	messages, err := r.Transport.History(ctx, inv.ChannelID, model.OrdinalFromTime(since), r.cfg.MaxMessages)
	if err != nil {
		return model.Response{}, err
	}
	if len(messages) == 0 {
		return ephemeral(fmt.Sprintf("No messages found in this channel for %s.", in.Range.Label)), nil
	}

	channel := r.channelName(ctx, inv)
	header := fmt.Sprintf("*Summary of %s for %s*\n\n", channelLabel(channel, inv), in.Range.Label)

	key := cache.SummaryKey(inv.ChannelID, in.Range.Label, newestOrdinal(messages))
	if r.Cache != nil {
		text, ok, err := r.Cache.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "summary cache unavailable", "error", err)
		}
		if ok {
			metrics.SummaryCache.WithLabelValues("hit").Inc()
			return inChannel(header + text), nil
		}
		metrics.SummaryCache.WithLabelValues("miss").Inc()
	}

	summary, err := r.Summarizer.Summarize(ctx, r.chunk(messages), brain.Instruction{
		Kind:    brain.ChannelDigest,
		Subject: channel,
		Period:  in.Range.Label,
	})
	if err != nil {
		return model.Response{}, err
	}

	if r.Cache != nil {
		if err := r.Cache.Set(ctx, key, summary.Text); err != nil {
			slog.WarnContext(ctx, "failed to cache summary", "error", err)
		}
	}
	return inChannel(header + summary.Text), nil
}

// catchup summarizes what the user has not seen in this channel. The
// watermark moves in the response's Commit, after the summary was delivered,
// so a redelivered event covers the same window again.
func (r *CommandRouter) catchup(ctx context.Context, inv model.InvocationContext) (model.Response, error) {
	now := r.cfg.Now()
	floor := model.OrdinalFromTime(now.Add(-r.cfg.CatchupMax))

	oldest := floor
	wm, err := r.Watermarks.Get(ctx, inv.UserID, inv.ChannelID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return model.Response{}, fmt.Errorf("loading watermark: %w", err)
	case wm.LastSeenOrdinal > floor:
		oldest = wm.LastSeenOrdinal
	}

	messages, err := r.Transport.History(ctx, inv.ChannelID, oldest, r.cfg.MaxMessages)
	if err != nil {
		return model.Response{}, err
	}
	messages = newerThan(messages, oldest)
	if len(messages) == 0 {
		return ephemeral("You're all caught up! No new messages since your last catch-up."), nil
	}

	summary, err := r.Summarizer.Summarize(ctx, r.chunk(messages), brain.Instruction{
		Kind:    brain.Catchup,
		Subject: r.channelName(ctx, inv),
		Period:  "since " + model.OrdinalTime(oldest).UTC().Format("Mon Jan 2 15:04 MST"),
	})
	if err != nil {
		return model.Response{}, err
	}

	newest := newestOrdinal(messages)
	resp := ephemeral(fmt.Sprintf("*Here's what you missed* (%d messages)\n\n%s", summary.Messages, summary.Text))
	resp.Commit = func(ctx context.Context) error {
		if _, err := r.Watermarks.Advance(ctx, inv.UserID, inv.ChannelID, newest); err != nil {
			return fmt.Errorf("advancing watermark to %d: %w", newest, err)
		}
		return nil
	}
	return resp, nil
}

func (r *CommandRouter) actions(ctx context.Context, in intent.Actions, inv model.InvocationContext) (model.Response, error) {
	since := in.Range.Since(r.cfg.Now())
	messages, err := r.Transport.History(ctx, inv.ChannelID, model.OrdinalFromTime(since), r.cfg.MaxMessages)
	if err != nil {
		return model.Response{}, err
	}
	if len(messages) == 0 {
		return ephemeral(fmt.Sprintf("No messages found in this channel for %s.", in.Range.Label)), nil
	}

	var filter *brain.OwnerFilter
	who := ""
	if in.Owner != nil {
		filter = &brain.OwnerFilter{UserID: in.Owner.ID, Name: in.Owner.Name}
		if filter.UserID != "" && filter.Name == "" {
			filter.Name = r.Transport.UserName(ctx, filter.UserID)
		}
		who = " for " + in.Owner.String()
	}

	items, err := r.Actions.Extract(ctx, r.chunk(messages), filter)
	if err != nil {
		return model.Response{}, err
	}
	if len(items) == 0 {
		return inChannel(fmt.Sprintf("No action items%s in %s. You're all clear!", who, in.Range.Label)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*Action items%s* (%s)\n", who, in.Range.Label)
	for _, it := range items {
		fmt.Fprintf(&b, "• *%s*: %s", it.Owner, it.Task)
		if it.Ref != "" {
			fmt.Fprintf(&b, " _(%s)_", refTime(it.Ref))
		}
		b.WriteByte('\n')
	}
	return inChannel(strings.TrimRight(b.String(), "\n")), nil
}

// answer replies to a free-form mention. The agent reads the thread, the
// channel, files and links itself as the question needs.
func (r *CommandRouter) answer(ctx context.Context, in intent.Mention, inv model.InvocationContext) (model.Response, error) {
	text, err := r.Mentions.Answer(ctx, brain.MentionRequest{
		Question:    in.FreeText,
		Asker:       r.Transport.UserName(ctx, inv.UserID),
		ChannelID:   inv.ChannelID,
		ChannelName: r.channelName(ctx, inv),
		ThreadTS:    inv.ThreadTS,
		MessageTS:   inv.EventTS,
	})
	if err != nil {
		return model.Response{}, err
	}
	return inChannel(text), nil
}

func (r *CommandRouter) chunk(messages []model.Message) []brain.Chunk {
	return r.Chunker.Chunk(messages, r.cfg.ChunkBudget)
}

func (r *CommandRouter) channelName(ctx context.Context, inv model.InvocationContext) string {
	if inv.ChannelName != "" {
		return inv.ChannelName
	}
	if inv.IsDM {
		return ""
	}
	name, err := r.Transport.ChannelName(ctx, inv.ChannelID)
	if err != nil {
		slog.DebugContext(ctx, "channel name unavailable", "error", err)
		return ""
	}
	return name
}

func channelLabel(name string, inv model.InvocationContext) string {
	switch {
	case name != "":
		return "#" + name
	case inv.IsDM:
		return "this conversation"
	default:
		return "<#" + inv.ChannelID + ">"
	}
}

func newerThan(messages []model.Message, ordinal int64) []model.Message {
	out := messages[:0:0]
	for _, m := range messages {
		if m.Ordinal() > ordinal {
			out = append(out, m)
		}
	}
	return out
}

func newestOrdinal(messages []model.Message) int64 {
	var newest int64
	for _, m := range messages {
		if o := m.Ordinal(); o > newest {
			newest = o
		}
	}
	return newest
}

func refTime(ts string) string {
	o, err := model.ParseOrdinal(ts)
	if err != nil {
		return ts
	}
	return model.OrdinalTime(o).UTC().Format(time.DateTime)
}
