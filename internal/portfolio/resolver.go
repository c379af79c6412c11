// Package portfolio maps a company name or a portfolio channel to the
// company's record and channel.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"

	"pillar.vc/assistant/common"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/slackapi"
)

const DefaultPrefix = "portfolio-"

var (
	channelIDPattern      = regexp.MustCompile(`^[CG][A-Z0-9]{6,}$`)
	channelMentionPattern = regexp.MustCompile(`^<#([CG][A-Z0-9]+)(?:\|([^>]*))?>$`)
)

type Records interface {
	FindCompany(ctx context.Context, name string) (*model.Company, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)
}

type Channels interface {
	ChannelName(ctx context.Context, channelID string) (string, error)
	ListChannels(ctx context.Context, prefix string) ([]slackapi.Channel, error)
}

type Resolver struct {
	records  Records
	channels Channels
	prefix   string
}

func NewResolver(records Records, channels Channels, prefix string) *Resolver {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Resolver{records: records, channels: channels, prefix: strings.ToLower(prefix)}
}

// Prefix is the channel-name prefix that marks portfolio channels.
func (r *Resolver) Prefix() string {
	return r.prefix
}

// Normalize reduces a company name or channel name to its comparable form:
// no leading '#' or channel prefix, lowercase, word separators as single spaces.
func (r *Resolver) Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "#")
	s = strings.TrimPrefix(s, r.prefix)
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// ChannelFor is the expected channel name of a company.
// It is empty when the name has nothing usable in a channel name.
func (r *Resolver) ChannelFor(company string) string {
	name, err := common.ChannelName(r.prefix, company)
	if err != nil {
		return ""
	}
	return name
}

// IsPortfolioChannel reports whether a channel name carries the prefix.
func (r *Resolver) IsPortfolioChannel(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), r.prefix)
}

// DisplayName turns a portfolio channel name into a title-cased company name.
func (r *Resolver) DisplayName(channelName string) string {
	words := strings.Fields(r.Normalize(channelName))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Resolve returns the company referred to by a name, a channel name, a
// channel id or a channel mention.
func (r *Resolver) Resolve(ctx context.Context, nameOrChannel string) (model.PortfolioCompanyRef, error) {
	ref, _, err := r.ResolveCompany(ctx, nameOrChannel)
	return ref, err
}

// ResolveCompany is Resolve that also returns the company record, which is
// empty when the company is only known from its channel.
func (r *Resolver) ResolveCompany(ctx context.Context, nameOrChannel string) (model.PortfolioCompanyRef, model.Company, error) {
	input := strings.TrimSpace(nameOrChannel)
	var channel slackapi.Channel

	if m := channelMentionPattern.FindStringSubmatch(input); m != nil {
		channel = slackapi.Channel{ID: m[1], Name: m[2]}
	} else if channelIDPattern.MatchString(input) {
		channel = slackapi.Channel{ID: input}
	}
	if channel.ID != "" {
		if channel.Name == "" {
			name, err := r.channels.ChannelName(ctx, channel.ID)
			if err != nil {
				return model.PortfolioCompanyRef{}, model.Company{}, err
			}
			channel.Name = name
		}
		input = channel.Name
	}

	query := r.Normalize(input)
	if query == "" {
		return model.PortfolioCompanyRef{}, model.Company{}, domain.NotFound("a portfolio company to look up")
	}

	company, err := r.match(ctx, query)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound) && !isAmbiguous(err):
		// The records store may not know the company yet; its channel is enough.
		ch, cerr := r.findChannel(ctx, channel, query)
		if cerr != nil {
			return model.PortfolioCompanyRef{}, model.Company{}, &domain.NotFoundError{
				What: fmt.Sprintf("a portfolio company matching %q", strings.TrimSpace(nameOrChannel)),
			}
		}
		return model.PortfolioCompanyRef{CanonicalName: r.DisplayName(ch.Name), ChannelID: ch.ID}, model.Company{}, nil
	default:
		return model.PortfolioCompanyRef{}, model.Company{}, err
	}

	ref := model.PortfolioCompanyRef{
		CanonicalName: company.Name,
		RecordID:      company.RecordID,
		Sector:        company.Sector,
		Stage:         company.Stage,
	}
	if ch, err := r.findChannel(ctx, channel, r.Normalize(company.Name)); err == nil {
		ref.ChannelID = ch.ID
	} else if !errors.Is(err, domain.ErrNotFound) {
		slog.WarnContext(ctx, "failed to locate portfolio channel", "company", company.Name, "error", err)
	}
	return ref, *company, nil
}

// match finds the company record for a normalized query: the store's own
// lookup first, then exact normalized names, then fuzzy ranking. A tie at the
// top is ambiguous.
func (r *Resolver) match(ctx context.Context, query string) (*model.Company, error) {
	company, err := r.records.FindCompany(ctx, query)
	if err == nil {
		return company, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	companies, err := r.records.ListCompanies(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(companies))
	var exact []int
	for i, c := range companies {
		names[i] = r.Normalize(c.Name)
		if names[i] == query {
			exact = append(exact, i)
		}
	}
	switch len(exact) {
	case 1:
		return &companies[exact[0]], nil
	case 0:
	default:
		return nil, ambiguous(query, companies, exact)
	}

	matches := fuzzy.Find(query, names)
	if len(matches) == 0 {
		return nil, domain.NotFound(fmt.Sprintf("a portfolio company matching %q", query))
	}
	top := []int{matches[0].Index}
	for _, m := range matches[1:] {
		if m.Score != matches[0].Score {
			break
		}
		top = append(top, m.Index)
	}
	if len(top) > 1 {
		return nil, ambiguous(query, companies, top)
	}
	return &companies[top[0]], nil
}

// findChannel returns the known channel, or looks up <prefix><slug>.
func (r *Resolver) findChannel(ctx context.Context, known slackapi.Channel, normalized string) (slackapi.Channel, error) {
	if known.ID != "" && r.IsPortfolioChannel(known.Name) {
		return known, nil
	}
	want := r.prefix + strings.ReplaceAll(normalized, " ", "-")
	chans, err := r.channels.ListChannels(ctx, r.prefix)
	if err != nil {
		return slackapi.Channel{}, err
	}
	for _, ch := range chans {
		if strings.EqualFold(ch.Name, want) {
			return ch, nil
		}
	}
	return slackapi.Channel{}, domain.NotFound("#" + want)
}

func ambiguous(query string, companies []model.Company, idx []int) error {
	candidates := make([]string, 0, len(idx))
	for _, i := range idx {
		candidates = append(candidates, companies[i].Name)
	}
	return &domain.AmbiguousResolution{Query: query, Candidates: candidates}
}

func isAmbiguous(err error) bool {
	var amb *domain.AmbiguousResolution
	return errors.As(err, &amb)
}
