package agenda_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pillar.vc/assistant/internal/agenda"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
)

var _ = Describe("Manager", func() {
	var (
		ctx      context.Context
		agendas  *memoryAgendaStore
		docs     *mockDocs
		archiver *mockArchiver
		manager  *agenda.Manager
		ids      atomic.Int64
	)

	const channel = "C100"

	BeforeEach(func() {
		ctx = context.Background()
		agendas = &memoryAgendaStore{}
		docs = &mockDocs{}
		archiver = &mockArchiver{}
		manager = agenda.NewManager(
			&mockTxRunner{provider: &memoryProvider{agendas: agendas}},
			agenda.NewLocalLocker(),
			docs,
			archiver,
			agenda.Config{
				Now:   func() time.Time { return time.Date(2026, 3, 18, 9, 0, 0, 0, time.UTC) },
				NewID: func() int64 { return ids.Add(1) },
			},
		)
	})

	Describe("Start", func() {
		It("opens a draft when the channel has none", func() {
			res, err := manager.Start(ctx, channel, "U1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Resumed).To(BeFalse())
			Expect(res.Draft.Status).To(Equal(model.AgendaStatusOpen))
		})

		It("resumes an open draft instead of discarding it", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Offsite", "1.1")
			Expect(err).NotTo(HaveOccurred())

			res, err := manager.Start(ctx, channel, "U2")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Resumed).To(BeTrue())
			Expect(res.Draft.Items).To(HaveLen(1))
		})

		It("reopens a draft stuck in finalizing", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Offsite", "1.1")
			Expect(err).NotTo(HaveOccurred())
			d := agendas.draft(channel)
			Expect(agendas.Transition(ctx, d.ID, model.AgendaStatusOpen, model.AgendaStatusFinalizing, nil)).To(Succeed())

			res, err := manager.Start(ctx, channel, "U1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Resumed).To(BeTrue())
			Expect(agendas.draft(channel).Status).To(Equal(model.AgendaStatusOpen))
		})
	})

	Describe("AddItem", func() {
		It("starts a draft implicitly", func() {
			res, err := manager.AddItem(ctx, channel, "U1", model.CategoryPipeline, "Acme Series A", "1.1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Started).To(BeTrue())
			Expect(res.Added).To(BeTrue())
			Expect(res.Draft.Items).To(HaveLen(1))
		})

		It("ignores a redelivered submission", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryPipeline, "Acme Series A", "1.1")
			Expect(err).NotTo(HaveOccurred())

			res, err := manager.AddItem(ctx, channel, "U1", model.CategoryPipeline, "Acme Series A", "1.1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Added).To(BeFalse())
			Expect(agendas.draft(channel).Items).To(HaveLen(1))
		})

		It("keeps identical text submitted at different times", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Coffee", "1.1")
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Coffee", "1.2")
			Expect(err).NotTo(HaveOccurred())
			Expect(agendas.draft(channel).Items).To(HaveLen(2))
		})

		It("keeps every item when users add concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := manager.AddItem(ctx, channel, fmt.Sprintf("U%d", i), model.CategoryPipeline, fmt.Sprintf("deal %d", i), "1.1")
					Expect(err).NotTo(HaveOccurred())
				}(i)
			}
			wg.Wait()

			d := agendas.draft(channel)
			Expect(d.Items).To(HaveLen(20))
			orders := map[int]bool{}
			for _, it := range d.Items {
				orders[it.InsertionOrder] = true
			}
			Expect(orders).To(HaveLen(20))

			active := 0
			for _, dr := range agendas.drafts {
				if dr.IsActive() {
					active++
				}
			}
			Expect(active).To(Equal(1))
		})

		It("opens a new draft after the previous one was finalized", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "First", "1.1")
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.Finalize(ctx, channel, "U1")
			Expect(err).NotTo(HaveOccurred())

			res, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Second", "1.2")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Started).To(BeTrue())
			Expect(res.Draft.Items).To(HaveLen(1))
		})

		It("rejects unknown categories", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.Category("snacks"), "Coffee", "1.1")
			var perr *domain.ParseError
			Expect(errors.As(err, &perr)).To(BeTrue())
		})
	})

	Describe("Finalize", func() {
		It("renders categories in order and items in insertion order", func() {
			_, err := manager.AddItem(ctx, channel, "U2", model.CategoryPipeline, "Beta intro", "1.1")
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.AddItem(ctx, channel, "U1", model.CategoryInvestment, "Acme Series A", "1.2")
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.AddItem(ctx, channel, "U3", model.CategoryPipeline, "Gamma follow-up", "1.3")
			Expect(err).NotTo(HaveOccurred())

			res, err := manager.Finalize(ctx, channel, "U1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.DocumentURL).To(Equal("https://docs.google.com/document/d/doc-1/edit"))
			Expect(res.Draft.Status).To(Equal(model.AgendaStatusFinalized))

			Expect(docs.docs).To(HaveLen(1))
			doc := docs.docs[0]
			Expect(doc.Title).To(Equal("Pillar VC - Monday Meeting Agenda - 2026-03-23"))
			Expect(doc.Sections).To(HaveLen(2))
			Expect(doc.Sections[0].Heading).To(Equal("Investment Decisions"))
			Expect(doc.Sections[1].Heading).To(Equal("Pipeline Review"))
			Expect(doc.Sections[1].Lines).To(Equal([]string{"Beta intro (added by U2)", "Gamma follow-up (added by U3)"}))

			Expect(agendas.draft(channel).Status).To(Equal(model.AgendaStatusFinalized))
			Expect(archiver.records).To(HaveLen(1))
			Expect(archiver.records[0].DocumentURL).To(Equal(res.DocumentURL))
		})

		It("leaves the draft open with its items when authorization is required", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Offsite", "1.1")
			Expect(err).NotTo(HaveOccurred())
			docs.createFn = func(context.Context, string, model.Document) (string, error) {
				return "", &domain.AuthRequired{Service: "Google", ConnectURL: "https://pillar.example/oauth/google/start?state=x"}
			}

			_, err = manager.Finalize(ctx, channel, "U1")
			var authErr *domain.AuthRequired
			Expect(errors.As(err, &authErr)).To(BeTrue())

			d := agendas.draft(channel)
			Expect(d.Status).To(Equal(model.AgendaStatusOpen))
			Expect(d.Items).To(HaveLen(1))
			Expect(archiver.records).To(BeEmpty())
		})

		It("rolls back even when the caller's context is cancelled", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Offsite", "1.1")
			Expect(err).NotTo(HaveOccurred())
			cctx, cancel := context.WithCancel(ctx)
			docs.createFn = func(context.Context, string, model.Document) (string, error) {
				cancel()
				return "", context.Canceled
			}

			_, err = manager.Finalize(cctx, channel, "U1")
			Expect(err).To(MatchError(context.Canceled))
			Expect(agendas.draft(channel).Status).To(Equal(model.AgendaStatusOpen))
		})

		It("succeeds on retry after a failed attempt", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Offsite", "1.1")
			Expect(err).NotTo(HaveOccurred())
			docs.createFn = func(context.Context, string, model.Document) (string, error) {
				return "", domain.Upstream("docs.create", errors.New("503"))
			}
			_, err = manager.Finalize(ctx, channel, "U1")
			Expect(err).To(MatchError(domain.ErrUpstreamUnavailable))

			docs.createFn = nil
			res, err := manager.Finalize(ctx, channel, "U1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Draft.Items).To(HaveLen(1))
		})

		It("reports a conflict with the document link when already finalized", func() {
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Offsite", "1.1")
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.Finalize(ctx, channel, "U1")
			Expect(err).NotTo(HaveOccurred())

			_, err = manager.Finalize(ctx, channel, "U2")
			var conflict *domain.StateConflict
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.DocumentURL).To(Equal("https://docs.google.com/document/d/doc-1/edit"))
		})

		It("reports NotFound without a draft", func() {
			_, err := manager.Finalize(ctx, channel, "U1")
			Expect(err).To(MatchError(domain.ErrNotFound))
		})

		It("reports NotFound for an empty draft", func() {
			_, err := manager.Start(ctx, channel, "U1")
			Expect(err).NotTo(HaveOccurred())
			_, err = manager.Finalize(ctx, channel, "U1")
			Expect(err).To(MatchError(domain.ErrNotFound))
			Expect(docs.docs).To(BeEmpty())
		})

		It("still finalizes when archiving fails", func() {
			archiver.err = errors.New("airtable down")
			_, err := manager.AddItem(ctx, channel, "U1", model.CategoryOther, "Offsite", "1.1")
			Expect(err).NotTo(HaveOccurred())

			res, err := manager.Finalize(ctx, channel, "U1")
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Draft.Status).To(Equal(model.AgendaStatusFinalized))
		})
	})

	Describe("View", func() {
		It("reports NotFound when nothing is open", func() {
			_, err := manager.View(ctx, channel)
			Expect(err).To(MatchError(domain.ErrNotFound))
		})
	})
})
