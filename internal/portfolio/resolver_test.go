package portfolio_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/portfolio"
	"pillar.vc/assistant/internal/slackapi"
)

var _ = Describe("Resolver", func() {
	var (
		ctx      context.Context
		records  *mockRecords
		channels *mockChannels
		resolver *portfolio.Resolver
	)

	BeforeEach(func() {
		ctx = context.Background()
		records = &mockRecords{companies: []model.Company{
			{RecordID: "rec1", Name: "Acme Robotics", Sector: "Robotics", Stage: "Series A"},
			{RecordID: "rec2", Name: "Beta Labs", Sector: "Bio"},
			{RecordID: "rec3", Name: "Gamma Health"},
			{RecordID: "rec4", Name: "Gamma Wealth"},
		}}
		channels = &mockChannels{channels: []slackapi.Channel{
			{ID: "C0000001", Name: "general"},
			{ID: "C0000002", Name: "portfolio-acme-robotics"},
			{ID: "C0000003", Name: "portfolio-beta-labs"},
			{ID: "C0000004", Name: "portfolio-delta-ai"},
		}}
		resolver = portfolio.NewResolver(records, channels, "")
	})

	DescribeTable("Normalize",
		func(in, want string) {
			Expect(resolver.Normalize(in)).To(Equal(want))
		},
		Entry("channel name", "portfolio-acme-robotics", "acme robotics"),
		Entry("hash and case", "#Portfolio-Acme-Robotics", "acme robotics"),
		Entry("underscores and spaces", "  beta__labs ", "beta labs"),
		Entry("plain name", "Gamma Health", "gamma health"),
	)

	It("maps a channel name to the company's record and channel", func() {
		ref, err := resolver.Resolve(ctx, "portfolio-acme-robotics")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal(model.PortfolioCompanyRef{
			CanonicalName: "Acme Robotics",
			RecordID:      "rec1",
			ChannelID:     "C0000002",
			Sector:        "Robotics",
			Stage:         "Series A",
		}))
		Expect(records.finds).To(Equal([]string{"acme robotics"}))
	})

	It("maps a channel id through the transport", func() {
		ref, company, err := resolver.ResolveCompany(ctx, "C0000003")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref.CanonicalName).To(Equal("Beta Labs"))
		Expect(ref.ChannelID).To(Equal("C0000003"))
		Expect(company.Sector).To(Equal("Bio"))
	})

	It("accepts channel mentions", func() {
		ref, err := resolver.Resolve(ctx, "<#C0000002|portfolio-acme-robotics>")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref.RecordID).To(Equal("rec1"))
	})

	It("ranks fuzzy matches", func() {
		ref, err := resolver.Resolve(ctx, "acme")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref.CanonicalName).To(Equal("Acme Robotics"))
	})

	It("reports a tie as ambiguous", func() {
		_, err := resolver.Resolve(ctx, "gamma")
		var amb *domain.AmbiguousResolution
		Expect(errors.As(err, &amb)).To(BeTrue())
		Expect(amb.Candidates).To(ConsistOf("Gamma Health", "Gamma Wealth"))
		Expect(err).To(MatchError(domain.ErrNotFound))
	})

	It("reports NotFound for unknown companies", func() {
		_, err := resolver.Resolve(ctx, "totally-unknown-xyz")
		Expect(err).To(MatchError(domain.ErrNotFound))
		var amb *domain.AmbiguousResolution
		Expect(errors.As(err, &amb)).To(BeFalse())
	})

	It("falls back to the channel when the records store does not know the company", func() {
		ref, err := resolver.Resolve(ctx, "portfolio-delta-ai")
		Expect(err).NotTo(HaveOccurred())
		Expect(ref).To(Equal(model.PortfolioCompanyRef{CanonicalName: "Delta Ai", ChannelID: "C0000004"}))
	})

	It("surfaces records store outages", func() {
		records.listErr = domain.Upstream("records.list_companies", errors.New("502"))
		_, err := resolver.Resolve(ctx, "zeta")
		Expect(err).To(MatchError(domain.ErrUpstreamUnavailable))
	})

	It("rejects empty input", func() {
		_, err := resolver.Resolve(ctx, "portfolio-")
		Expect(err).To(MatchError(domain.ErrNotFound))
	})

	It("derives channel and display names", func() {
		Expect(resolver.ChannelFor("Acme Robotics")).To(Equal("portfolio-acme-robotics"))
		Expect(resolver.ChannelFor("Acme & Co.")).To(Equal("portfolio-acme-co"))
		Expect(resolver.ChannelFor("???")).To(BeEmpty())
		Expect(resolver.DisplayName("portfolio-beta-labs")).To(Equal("Beta Labs"))
		Expect(resolver.IsPortfolioChannel("portfolio-x")).To(BeTrue())
		Expect(resolver.IsPortfolioChannel("general")).To(BeFalse())
	})
})
