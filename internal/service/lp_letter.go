package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/slackapi"
)

const (
	lpLetterTitlePrefix = "Pillar VC - LP Letter - "
	lpSectionWorkers    = 2
)

// lpLetter drafts the quarterly LP letter from the portfolio channels and
// publishes it as a document owned by the invoking user.
func (r *CommandRouter) lpLetter(ctx context.Context, in intent.LPLetter, inv model.InvocationContext) (model.Response, error) {
	now := r.cfg.Now()
	period := strings.TrimSpace(in.Period)
	if period == "" {
		period = brain.CurrentQuarter(now)
	}

	channels, err := r.Transport.ListChannels(ctx, r.Resolver.Prefix())
	if err != nil {
		return model.Response{}, err
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i].Name < channels[j].Name })
	if len(channels) > r.cfg.LPLetterMaxChannels {
		slog.InfoContext(ctx, "lp letter limited to first portfolio channels",
			"channels", len(channels),
			"limit", r.cfg.LPLetterMaxChannels)
		channels = channels[:r.cfg.LPLetterMaxChannels]
	}
	if len(channels) == 0 {
		return model.Response{}, &domain.NotFoundError{What: "any portfolio channels", Note: "expected channels named #" + r.Resolver.Prefix() + "<company>"}
	}

	since := model.OrdinalFromTime(now.Add(-r.cfg.LPLetterLookback))
	sections := make([]*brain.CompanySection, len(channels))
	failures := make([]error, len(channels))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lpSectionWorkers)
	for i, ch := range channels {
		g.Go(func() error {
			section, err := r.lpSection(gctx, ch, since)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.WarnContext(gctx, "skipping company in lp letter",
					"channel", ch.Name,
					"error", err)
				failures[i] = err
				return nil
			}
			sections[i] = section
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return model.Response{}, err
	}

	var collected []brain.CompanySection
	for _, s := range sections {
		if s != nil {
			collected = append(collected, *s)
		}
	}
	if len(collected) == 0 {
		if err := errors.Join(failures...); err != nil {
			return model.Response{}, err
		}
		return model.Response{}, &domain.NotFoundError{What: fmt.Sprintf("any portfolio channel activity in the last %d days", days(r.cfg.LPLetterLookback))}
	}

	letter, err := r.Letters.Compose(ctx, period, collected)
	if err != nil {
		return model.Response{}, err
	}

	url, err := r.Docs.CreateDocument(ctx, inv.UserID, lpLetterDocument(period, letter, collected, now))
	if err != nil {
		return model.Response{}, err
	}
	return inChannel(fmt.Sprintf("Drafted the %s LP letter from %d portfolio companies: <%s|open LP letter>",
		period, len(collected), url)), nil
}

// lpSection returns nil when the channel had no activity in the window.
func (r *CommandRouter) lpSection(ctx context.Context, ch slackapi.Channel, since int64) (*brain.CompanySection, error) {
	messages, err := r.Transport.History(ctx, ch.ID, since, r.cfg.MaxMessages)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	name := r.Resolver.DisplayName(ch.Name)
	var bg string
	ref, company, err := r.Resolver.ResolveCompany(ctx, ch.ID)
	switch {
	case err == nil:
		name = ref.CanonicalName
		bg = background(company)
	case errors.Is(err, domain.ErrNotFound):
	default:
		return nil, err
	}

	section, err := r.Letters.Section(ctx, name, bg, r.chunk(messages))
	if err != nil {
		return nil, err
	}
	return &section, nil
}

func lpLetterDocument(period, letter string, sections []brain.CompanySection, now time.Time) model.Document {
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = s.Company
	}
	return model.Document{
		Title:    lpLetterTitlePrefix + period,
		Preamble: fmt.Sprintf("LP Letter %s\nDraft prepared %s", period, now.Format("January 2, 2006")),
		Sections: []model.DocumentSection{
			{Heading: "Letter", Body: letter},
			{Heading: "Companies covered", Lines: names},
		},
	}
}

func days(d time.Duration) int {
	return int(d / (24 * time.Hour))
}
