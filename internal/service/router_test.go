package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pillar.vc/assistant/internal/agenda"
	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/portfolio"
	"pillar.vc/assistant/internal/service"
	"pillar.vc/assistant/internal/slackapi"
)

var now = time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC)

func message(userID, name string, at time.Time, text string) model.Message {
	return model.Message{
		AuthorID:   userID,
		AuthorName: name,
		TS:         model.FormatOrdinal(model.OrdinalFromTime(at)),
		Text:       text,
	}
}

var _ = Describe("CommandRouter", func() {
	var (
		ctx        context.Context
		transport  *mockTransport
		summarizer *mockSummarizer
		mentions   *mockMentions
		actions    *mockActions
		letters    *mockLetters
		agendas    *mockAgendas
		records    *mockRecords
		docs       *mockDocs
		watermarks *memoryWatermarks
		summaries  *memoryCache
		router     *service.CommandRouter
		inv        model.InvocationContext
	)

	BeforeEach(func() {
		ctx = context.Background()
		transport = newMockTransport()
		transport.names = map[string]string{"U1": "Alice", "U2": "Bob"}
		transport.channels = []slackapi.Channel{
			{ID: "C0GENRL1", Name: "general"},
			{ID: "C0ACME01", Name: "portfolio-acme-robotics"},
			{ID: "C0BETA01", Name: "portfolio-beta-labs"},
			{ID: "C0QUIET1", Name: "portfolio-quiet"},
		}
		transport.history["C0GENRL1"] = []model.Message{
			message("U1", "Alice", now.Add(-2*time.Hour), "kickoff notes"),
			message("U2", "Bob", now.Add(-1*time.Hour), "I'll send the deck"),
		}
		transport.history["C0ACME01"] = []model.Message{
			message("U1", "Alice", now.Add(-48*time.Hour), "Acme closed a pilot"),
		}
		transport.history["C0QUIET1"] = []model.Message{
			message("U2", "Bob", now.Add(-72*time.Hour), "quiet quarter"),
		}

		summarizer = &mockSummarizer{}
		mentions = &mockMentions{}
		actions = &mockActions{}
		letters = &mockLetters{}
		agendas = &mockAgendas{}
		records = &mockRecords{companies: []model.Company{
			{RecordID: "rec1", Name: "Acme Robotics", Stage: "Series A", Sector: "Robotics"},
			{RecordID: "rec2", Name: "Beta Labs", Stage: "Seed"},
		}}
		docs = &mockDocs{}
		watermarks = newMemoryWatermarks()
		summaries = &memoryCache{entries: map[string]string{}}

		router = service.NewCommandRouter(service.RouterDeps{
			Parser:     intent.NewParser(intent.ParserConfig{BotUserID: "UBOT", Now: func() time.Time { return now }}),
			Transport:  transport,
			Chunker:    brain.NewChunker(),
			Summarizer: summarizer,
			Mentions:   mentions,
			Actions:    actions,
			Letters:    letters,
			Agendas:    agendas,
			Resolver:   portfolio.NewResolver(records, transport, ""),
			Companies:  records,
			Docs:       docs,
			Watermarks: watermarks,
			Cache:      summaries,
		}, service.RouterConfig{Now: func() time.Time { return now }})

		inv = model.InvocationContext{ChannelID: "C0GENRL1", UserID: "U1", EventTS: "1773824400.000100"}
	})

	Describe("help and parsing", func() {
		It("shows usage for an empty command", func() {
			resp := router.Handle(ctx, "", false, inv)
			Expect(resp).To(Equal(model.Response{Text: domain.UsageText, Ephemeral: true}))
		})

		It("explains malformed commands", func() {
			resp := router.Handle(ctx, "agenda add bogus thing", false, inv)
			Expect(resp.Ephemeral).To(BeTrue())
			Expect(resp.Text).To(ContainSubstring("expected a category"))
			Expect(resp.Text).To(ContainSubstring("`bogus`"))
		})
	})

	Describe("summarize", func() {
		It("summarizes the requested window and caches the digest", func() {
			resp := router.Handle(ctx, "summarize 7d", false, inv)
			Expect(resp.Ephemeral).To(BeFalse())
			Expect(resp.Text).To(HavePrefix("*Summary of #general for the last 7 days*"))
			Expect(resp.Text).To(ContainSubstring("summary of general"))
			Expect(transport.historyCalls[0].oldest).To(Equal(model.OrdinalFromTime(now.Add(-7 * 24 * time.Hour))))
			Expect(summarizer.instructions).To(Equal([]brain.Instruction{
				{Kind: brain.ChannelDigest, Subject: "general", Period: "the last 7 days"},
			}))

			again := router.Handle(ctx, "summarize 7d", false, inv)
			Expect(again).To(Equal(resp))
			Expect(summarizer.instructions).To(HaveLen(1))
		})

		It("keys the cache on the newest reply, not the last top-level message", func() {
			parent := message("U1", "Alice", now.Add(-3*time.Hour), "term sheet thread")
			reply := message("U2", "Bob", now.Add(-30*time.Minute), "signed")
			reply.ThreadTS = parent.TS
			later := message("U1", "Alice", now.Add(-1*time.Hour), "lunch?")
			transport.history["C0GENRL1"] = []model.Message{parent, reply, later}

			router.Handle(ctx, "summarize", false, inv)
			Expect(summarizer.instructions).To(HaveLen(1))

			followUp := message("U1", "Alice", now.Add(-10*time.Minute), "countersigned")
			followUp.ThreadTS = parent.TS
			transport.history["C0GENRL1"] = []model.Message{parent, reply, followUp, later}

			router.Handle(ctx, "summarize", false, inv)
			Expect(summarizer.instructions).To(HaveLen(2))
		})

		It("reports an empty window without calling the model", func() {
			inv.ChannelID = "C9"
			resp := router.Handle(ctx, "summarize", false, inv)
			Expect(resp.Text).To(Equal("No messages found in this channel for the last 24 hours."))
			Expect(summarizer.instructions).To(BeEmpty())
		})

		It("recovers from a panicking handler", func() {
			summarizer.summarizeFn = func(context.Context, []brain.Chunk, brain.Instruction) (brain.Summary, error) {
				panic("boom")
			}
			resp := router.Handle(ctx, "summarize", false, inv)
			Expect(resp.Ephemeral).To(BeTrue())
			Expect(resp.Text).To(HavePrefix("Sorry, something went wrong"))
		})
	})

	Describe("catchup", func() {
		newest := model.OrdinalFromTime(now.Add(-1 * time.Hour))

		// delivered stands in for a successful delivery of resp.
		delivered := func(resp model.Response) model.Response {
			if resp.Commit != nil {
				Expect(resp.Commit(ctx)).To(Succeed())
			}
			return resp
		}

		It("starts from the catch-up window and advances the watermark once delivered", func() {
			resp := router.Handle(ctx, "catchup", false, inv)
			Expect(resp.Ephemeral).To(BeTrue())
			Expect(resp.Text).To(HavePrefix("*Here's what you missed* (2 messages)"))
			Expect(transport.historyCalls[0].oldest).To(Equal(model.OrdinalFromTime(now.Add(-168 * time.Hour))))

			_, ok := watermarks.value("U1", "C0GENRL1")
			Expect(ok).To(BeFalse())

			delivered(resp)
			mark, ok := watermarks.value("U1", "C0GENRL1")
			Expect(ok).To(BeTrue())
			Expect(mark).To(Equal(newest))
		})

		It("repeats the same window when the reply was never delivered", func() {
			first := router.Handle(ctx, "catchup", false, inv)
			again := router.Handle(ctx, "catchup", false, inv)
			Expect(again.Text).To(Equal(first.Text))
			Expect(transport.historyCalls[1].oldest).To(Equal(transport.historyCalls[0].oldest))
		})

		It("is idempotent when nothing new arrived", func() {
			delivered(router.Handle(ctx, "catchup", false, inv))
			resp := router.Handle(ctx, "catch-up", false, inv)

			Expect(resp.Text).To(HavePrefix("You're all caught up!"))
			Expect(summarizer.instructions).To(HaveLen(1))
			mark, _ := watermarks.value("U1", "C0GENRL1")
			Expect(mark).To(Equal(newest))
		})

		It("only covers messages after the watermark", func() {
			delivered(router.Handle(ctx, "catchup", false, inv))
			transport.history["C0GENRL1"] = append(transport.history["C0GENRL1"],
				message("U2", "Bob", now.Add(-10*time.Minute), "deck sent"))

			resp := router.Handle(ctx, "catchup", false, inv)
			Expect(resp.Text).To(HavePrefix("*Here's what you missed* (1 messages)"))
			Expect(transport.historyCalls[1].oldest).To(Equal(newest))
		})

		It("clamps an old watermark to the catch-up window", func() {
			_, err := watermarks.Advance(ctx, "U1", "C0GENRL1", model.OrdinalFromTime(now.Add(-30*24*time.Hour)))
			Expect(err).NotTo(HaveOccurred())

			router.Handle(ctx, "catchup", false, inv)
			Expect(transport.historyCalls[0].oldest).To(Equal(model.OrdinalFromTime(now.Add(-168 * time.Hour))))
		})

		It("leaves the watermark alone when summarization fails", func() {
			summarizer.summarizeFn = func(context.Context, []brain.Chunk, brain.Instruction) (brain.Summary, error) {
				return brain.Summary{}, domain.Upstream("summarize.map", errors.New("503"))
			}
			resp := router.Handle(ctx, "catchup", false, inv)
			Expect(resp.Text).To(Equal("The assistant is busy right now. Please try again shortly."))

			_, ok := watermarks.value("U1", "C0GENRL1")
			Expect(ok).To(BeFalse())
		})
	})

	Describe("actions", func() {
		It("filters by owner and formats the items", func() {
			actions.extractFn = func(_ context.Context, _ []brain.Chunk, _ *brain.OwnerFilter) ([]model.ActionItem, error) {
				return []model.ActionItem{{Owner: "Bob", Task: "send the deck", Ref: transport.history["C0GENRL1"][1].TS}}, nil
			}
			resp := router.Handle(ctx, "actions <@U2> 7d", false, inv)

			Expect(actions.filters).To(HaveLen(1))
			Expect(*actions.filters[0]).To(Equal(brain.OwnerFilter{UserID: "U2", Name: "Bob"}))
			Expect(resp.Text).To(HavePrefix("*Action items for <@U2>* (the last 7 days)\n• *Bob*: send the deck"))
		})

		It("says so when there is nothing to do", func() {
			resp := router.Handle(ctx, "actions", false, inv)
			Expect(actions.filters).To(Equal([]*brain.OwnerFilter{nil}))
			Expect(resp.Text).To(Equal("No action items in the last 24 hours. You're all clear!"))
		})
	})

	Describe("agenda", func() {
		It("adds items keyed on the event timestamp", func() {
			var gotTS string
			var gotCategory model.Category
			agendas.addFn = func(_ context.Context, _, userID string, category model.Category, text, eventTS string) (*agenda.AddResult, error) {
				gotTS, gotCategory = eventTS, category
				item := model.AgendaItem{Category: category, Text: text, SubmittedBy: userID}
				return &agenda.AddResult{Draft: &model.AgendaDraft{Items: []model.AgendaItem{item}}, Item: item, Added: true, Started: true}, nil
			}

			resp := router.Handle(ctx, `agenda add deal "Gamma intro"`, false, inv)
			Expect(gotTS).To(Equal(inv.EventTS))
			Expect(gotCategory).To(Equal(model.CategoryPipeline))
			Expect(resp.Text).To(Equal("Started a new agenda. Added to *Pipeline Review*: Gamma intro (1 items so far)"))
		})

		It("acknowledges a repeated submission privately", func() {
			agendas.addFn = func(_ context.Context, _, _ string, _ model.Category, _, _ string) (*agenda.AddResult, error) {
				return &agenda.AddResult{Draft: &model.AgendaDraft{}, Added: false}, nil
			}
			resp := router.Handle(ctx, "agenda add other lunch", false, inv)
			Expect(resp).To(Equal(model.Response{Text: "That item is already on the agenda.", Ephemeral: true}))
		})

		It("treats a bare agenda command as start", func() {
			started := false
			agendas.startFn = func(_ context.Context, channelID, _ string) (*agenda.StartResult, error) {
				started = true
				return &agenda.StartResult{Draft: &model.AgendaDraft{ChannelID: channelID}}, nil
			}
			resp := router.Handle(ctx, "agenda", false, inv)
			Expect(started).To(BeTrue())
			Expect(resp.Text).To(ContainSubstring("started the agenda for Monday March 23"))
		})

		It("asks the user to connect Google when finalize needs authorization", func() {
			agendas.finalizeFn = func(context.Context, string, string) (*agenda.FinalizeResult, error) {
				return nil, &domain.AuthRequired{Service: "Google", ConnectURL: "https://pillar.example/oauth/google/start?state=abc"}
			}
			resp := router.Handle(ctx, "agenda finalize", false, inv)
			Expect(resp.Ephemeral).To(BeTrue())
			Expect(resp.Text).To(ContainSubstring("<https://pillar.example/oauth/google/start?state=abc|connect account>"))
		})

		It("links the finished document", func() {
			agendas.finalizeFn = func(context.Context, string, string) (*agenda.FinalizeResult, error) {
				return &agenda.FinalizeResult{
					Draft:       &model.AgendaDraft{Items: make([]model.AgendaItem, 3)},
					DocumentURL: "https://docs.google.com/document/d/doc-1/edit",
				}, nil
			}
			resp := router.Handle(ctx, "agenda finalize", false, inv)
			Expect(resp.Text).To(Equal("The Monday meeting agenda is ready (3 items): <https://docs.google.com/document/d/doc-1/edit|open agenda>"))
		})

		It("refuses agenda changes in direct messages", func() {
			inv.IsDM = true
			resp := router.Handle(ctx, "agenda start", false, inv)
			Expect(resp.Text).To(HavePrefix("I couldn't find a channel agenda here"))
		})
	})

	Describe("portfolio", func() {
		It("lists companies outside portfolio channels", func() {
			resp := router.Handle(ctx, "portfolio", false, inv)
			Expect(resp.Ephemeral).To(BeTrue())
			Expect(resp.Text).To(HavePrefix("*Portfolio companies* (2)\n• Acme Robotics (Series A, Robotics)\n• Beta Labs (Seed)\n"))
		})

		It("summarizes the company channel with the record as context", func() {
			resp := router.Handle(ctx, "portfolio acme robotics", false, inv)

			Expect(resp.Text).To(HavePrefix("*Acme Robotics*\n*Stage:* Series A · *Sector:* Robotics\n"))
			Expect(resp.Text).To(HaveSuffix("summary of Acme Robotics"))
			Expect(transport.historyCalls[0].channelID).To(Equal("C0ACME01"))
			Expect(summarizer.instructions[0].Kind).To(Equal(brain.CompanyUpdate))
			Expect(summarizer.instructions[0].Context).To(Equal("stage Series A; sector Robotics"))
		})

		It("uses the current portfolio channel when no company is named", func() {
			inv.ChannelID = "C0ACME01"
			resp := router.Handle(ctx, "portfolio", false, inv)
			Expect(resp.Text).To(HavePrefix("*Acme Robotics*"))
		})

		It("notes a quiet channel", func() {
			resp := router.Handle(ctx, "portfolio Beta Labs", false, inv)
			Expect(resp.Text).To(ContainSubstring("No activity in <#C0BETA01> in the last 30 days."))
			Expect(summarizer.instructions).To(BeEmpty())
		})

		It("reports unknown companies", func() {
			resp := router.Handle(ctx, "portfolio totally-unknown-xyz", false, inv)
			Expect(resp.Text).To(HavePrefix("I couldn't find"))
		})
	})

	Describe("lp-letter", func() {
		It("composes sections from active portfolio channels into a document", func() {
			resp := router.Handle(ctx, "lp-letter", false, inv)

			Expect(resp.Text).To(Equal("Drafted the Q1 2026 LP letter from 2 portfolio companies: <https://docs.google.com/document/d/doc-1/edit|open LP letter>"))
			Expect(letters.composed).To(HaveLen(2))
			Expect(letters.composed[0].Company).To(Equal("Acme Robotics"))
			Expect(letters.composed[1].Company).To(Equal("Quiet"))
			Expect(docs.docs).To(HaveLen(1))
			Expect(docs.docs[0].Title).To(Equal("Pillar VC - LP Letter - Q1 2026"))
			Expect(docs.docs[0].Sections[0].Body).To(Equal("Dear LPs, Q1 2026"))
		})

		It("uses the requested period", func() {
			router.Handle(ctx, "lp-letter Q4 2025", false, inv)
			Expect(docs.docs[0].Title).To(Equal("Pillar VC - LP Letter - Q4 2025"))
		})

		It("surfaces missing document authorization", func() {
			docs.createFn = func(context.Context, string, model.Document) (string, error) {
				return "", &domain.AuthRequired{Service: "Google"}
			}
			resp := router.Handle(ctx, "lp-letter", false, inv)
			Expect(resp.Text).To(HavePrefix("Please connect your Google account first"))
		})
	})

	Describe("mentions", func() {
		It("hands free text to the mention agent with where it was asked", func() {
			resp := router.Handle(ctx, "<@UBOT> what is the latest on hiring?", true, inv)
			Expect(resp).To(Equal(model.Response{Text: "answer for Alice"}))
			Expect(mentions.requests).To(Equal([]brain.MentionRequest{{
				Question:    "what is the latest on hiring?",
				Asker:       "Alice",
				ChannelID:   "C0GENRL1",
				ChannelName: "general",
				MessageTS:   "1773824400.000100",
			}}))
			Expect(summarizer.instructions).To(BeEmpty())
		})

		It("passes the thread of a mention posted in a thread", func() {
			inv.ThreadTS = "1773820000.000200"
			router.Handle(ctx, "<@UBOT> what does this deck say?", true, inv)
			Expect(mentions.requests).To(HaveLen(1))
			Expect(mentions.requests[0].ThreadTS).To(Equal("1773820000.000200"))
			Expect(mentions.requests[0].MessageTS).To(Equal("1773824400.000100"))
		})

		It("reports an agent failure", func() {
			mentions.answerFn = func(context.Context, brain.MentionRequest) (string, error) {
				return "", errors.New("model unavailable")
			}
			resp := router.Handle(ctx, "<@UBOT> anything new?", true, inv)
			Expect(resp.Text).NotTo(BeEmpty())
			Expect(resp.Text).NotTo(ContainSubstring("answer for"))
		})

		It("routes slash grammar inside mentions", func() {
			resp := router.Handle(ctx, "<@UBOT> help", true, inv)
			Expect(resp.Text).To(Equal(domain.UsageText))
		})
	})

	Describe("Welcome", func() {
		It("greets members of portfolio channels with the company record", func() {
			resp := router.Welcome(ctx, model.InvocationContext{ChannelID: "C0ACME01", UserID: "U3"})
			Expect(resp.Text).To(HavePrefix("Welcome to the Acme Robotics portfolio channel, <@U3>!"))
			Expect(resp.Text).To(ContainSubstring("*Stage:* Series A"))
		})

		It("stays quiet elsewhere", func() {
			resp := router.Welcome(ctx, model.InvocationContext{ChannelID: "C0GENRL1", UserID: "U3"})
			Expect(resp.Text).To(BeEmpty())
		})
	})
})
