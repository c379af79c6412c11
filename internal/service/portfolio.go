package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/model"
)

// portfolio reports on one company: its record plus a summary of its channel.
// Without a company name it uses the current portfolio channel, or lists the
// portfolio when run elsewhere.
func (r *CommandRouter) portfolio(ctx context.Context, in intent.Portfolio, inv model.InvocationContext) (model.Response, error) {
	query := in.Company
	if query == "" {
		channel := r.channelName(ctx, inv)
		if channel == "" || !r.Resolver.IsPortfolioChannel(channel) {
			return r.portfolioList(ctx)
		}
		query = inv.ChannelID
	}

	ref, company, err := r.Resolver.ResolveCompany(ctx, query)
	if err != nil {
		return model.Response{}, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", ref.CanonicalName)
	if card := companyCard(company); card != "" {
		b.WriteString(card)
		b.WriteByte('\n')
	}

	if ref.ChannelID == "" {
		fmt.Fprintf(&b, "\nThere is no #%s channel, so there is no recent activity to summarize.", r.Resolver.ChannelFor(ref.CanonicalName))
		return inChannel(b.String()), nil
	}

	since := r.cfg.Now().Add(-r.cfg.PortfolioLookback)
	messages, err := r.Transport.History(ctx, ref.ChannelID, model.OrdinalFromTime(since), r.cfg.MaxMessages)
	if err != nil {
		return model.Response{}, err
	}
	if len(messages) == 0 {
		fmt.Fprintf(&b, "\nNo activity in <#%s> in the last %d days.", ref.ChannelID, days(r.cfg.PortfolioLookback))
		return inChannel(b.String()), nil
	}

	summary, err := r.Summarizer.Summarize(ctx, r.chunk(messages), brain.Instruction{
		Kind:    brain.CompanyUpdate,
		Subject: ref.CanonicalName,
		Context: background(company),
		Period:  fmt.Sprintf("the last %d days", days(r.cfg.PortfolioLookback)),
	})
	if err != nil {
		return model.Response{}, err
	}
	fmt.Fprintf(&b, "\n%s", summary.Text)
	return inChannel(b.String()), nil
}

func (r *CommandRouter) portfolioList(ctx context.Context) (model.Response, error) {
	companies, err := r.Companies.ListCompanies(ctx)
	if err != nil {
		return model.Response{}, err
	}
	if len(companies) == 0 {
		return model.Response{}, &domain.NotFoundError{What: "any portfolio companies", Note: "the records store is empty or not configured"}
	}
	sort.Slice(companies, func(i, j int) bool {
		return strings.ToLower(companies[i].Name) < strings.ToLower(companies[j].Name)
	})

	var b strings.Builder
	fmt.Fprintf(&b, "*Portfolio companies* (%d)\n", len(companies))
	for _, c := range companies {
		fmt.Fprintf(&b, "• %s", c.Name)
		if details := joinNonEmpty(", ", c.Stage, c.Sector); details != "" {
			fmt.Fprintf(&b, " (%s)", details)
		}
		b.WriteByte('\n')
	}
	b.WriteString("Use `/pillar portfolio <company>` for an update.")
	return ephemeral(b.String()), nil
}

// Welcome greets a member who joined a portfolio channel. It returns an empty
// response for any other channel.
func (r *CommandRouter) Welcome(ctx context.Context, inv model.InvocationContext) model.Response {
	channel := r.channelName(ctx, inv)
	if channel == "" || !r.Resolver.IsPortfolioChannel(channel) {
		return model.Response{}
	}

	name := r.Resolver.DisplayName(channel)
	var card string
	ref, company, err := r.Resolver.ResolveCompany(ctx, inv.ChannelID)
	switch {
	case err == nil:
		name = ref.CanonicalName
		card = companyCard(company)
	case errors.Is(err, domain.ErrNotFound):
	default:
		logHandlerError(ctx, err)
	}

	text := fmt.Sprintf("Welcome to the %s portfolio channel, <@%s>! Use `/pillar summarize` to catch up on recent activity, or `/pillar portfolio %s` for a full update.",
		name, inv.UserID, name)
	if card != "" {
		text += "\n" + card
	}
	return inChannel(text)
}

func companyCard(c model.Company) string {
	var lines []string
	add := func(label, value string) {
		if value != "" {
			lines = append(lines, fmt.Sprintf("*%s:* %s", label, value))
		}
	}
	add("Stage", c.Stage)
	add("Sector", c.Sector)
	add("Lead partner", c.LeadPartner)
	add("Last board meeting", c.LastBoardMeeting)
	return strings.Join(lines, " · ")
}

// background is the company record as prompt context.
func background(c model.Company) string {
	return joinNonEmpty("; ",
		prefixed("stage ", c.Stage),
		prefixed("sector ", c.Sector),
		prefixed("lead partner ", c.LeadPartner),
		prefixed("last board meeting ", c.LastBoardMeeting),
		c.Notes)
}

func prefixed(prefix, v string) string {
	if v == "" {
		return ""
	}
	return prefix + v
}

func joinNonEmpty(sep string, vals ...string) string {
	var out []string
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
