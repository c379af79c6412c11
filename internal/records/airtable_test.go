package records_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/records"
)

type capturedRequest struct {
	Method string
	Path   string
	Query  map[string][]string
	Auth   string
	Body   map[string]any
}

var _ = Describe("Airtable client", func() {
	var (
		ctx      context.Context
		server   *httptest.Server
		client   *records.Client
		mu       sync.Mutex
		requests []capturedRequest
		handler  func(w http.ResponseWriter, r *http.Request)
	)

	BeforeEach(func() {
		ctx = context.Background()
		requests = nil
		handler = func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"records":[]}`)
		}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c := capturedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query(), Auth: r.Header.Get("Authorization")}
			if r.Body != nil {
				raw, _ := io.ReadAll(r.Body)
				_ = json.Unmarshal(raw, &c.Body)
			}
			mu.Lock()
			requests = append(requests, c)
			mu.Unlock()
			handler(w, r)
		}))
		DeferCleanup(server.Close)
		client = records.NewClient(records.Config{
			APIKey:  "key-1",
			BaseID:  "app1",
			BaseURL: server.URL,
			Timeout: time.Second,
		})
	})

	Describe("FindCompany", func() {
		It("queries by case-insensitive name and maps fields", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"records":[{"id":"rec1","fields":{"Name":"Acme Robotics","Stage":"Series A","Sector":"Robotics","Lead Partner":["Dana"]}}]}`)
			}

			company, err := client.FindCompany(ctx, "acme robotics")
			Expect(err).NotTo(HaveOccurred())
			Expect(company).To(Equal(&model.Company{
				RecordID:    "rec1",
				Name:        "Acme Robotics",
				Stage:       "Series A",
				Sector:      "Robotics",
				LeadPartner: "Dana",
			}))

			Expect(requests).To(HaveLen(1))
			Expect(requests[0].Path).To(Equal("/app1/Portfolio Companies"))
			Expect(requests[0].Auth).To(Equal("Bearer key-1"))
			Expect(requests[0].Query["filterByFormula"]).To(ConsistOf("LOWER({Name}) = LOWER('acme robotics')"))
		})

		It("escapes quotes in the formula", func() {
			_, _ = client.FindCompany(ctx, "O'Brien Labs")
			Expect(requests[0].Query["filterByFormula"]).To(ConsistOf(`LOWER({Name}) = LOWER('O\'Brien Labs')`))
		})

		It("reports NotFound when nothing matches", func() {
			_, err := client.FindCompany(ctx, "nobody")
			Expect(err).To(MatchError(domain.ErrNotFound))
		})
	})

	Describe("ListCompanies", func() {
		It("follows pagination offsets", func() {
			handler = func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Query().Get("offset") == "" {
					_, _ = io.WriteString(w, `{"records":[{"id":"rec1","fields":{"Name":"Acme"}}],"offset":"page2"}`)
					return
				}
				_, _ = io.WriteString(w, `{"records":[{"id":"rec2","fields":{"Name":"Beta"}},{"id":"rec3","fields":{}}]}`)
			}

			companies, err := client.ListCompanies(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(companies).To(HaveLen(2))
			Expect(companies[1].Name).To(Equal("Beta"))
			Expect(requests).To(HaveLen(2))
		})

		It("caches company names", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				_, _ = io.WriteString(w, `{"records":[{"id":"rec1","fields":{"Name":"Acme"}}]}`)
			}
			names, err := client.CompanyNames(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"Acme"}))

			_, err = client.CompanyNames(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(requests).To(HaveLen(1))
		})
	})

	Describe("errors", func() {
		It("maps 429 to a rate limit with the server hint", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
			}
			_, err := client.ListCompanies(ctx)
			Expect(err).To(MatchError(domain.ErrUpstreamUnavailable))
			var rl *domain.RateLimited
			Expect(errors.As(err, &rl)).To(BeTrue())
			Expect(rl.RetryAfter).To(Equal(7 * time.Second))
		})

		It("maps server errors to UpstreamUnavailable", func() {
			handler = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			}
			_, err := client.FindCompany(ctx, "acme")
			Expect(err).To(MatchError(domain.ErrUpstreamUnavailable))
		})
	})

	Describe("UpsertAgendaRecord", func() {
		It("upserts items in batches of ten keyed by channel, date and order", func() {
			items := make([]model.AgendaItem, 12)
			for i := range items {
				items[i] = model.AgendaItem{Category: model.CategoryPipeline, Text: "deal", SubmittedBy: "U1", InsertionOrder: i + 1}
			}
			err := client.UpsertAgendaRecord(ctx, model.AgendaRecord{
				ChannelID:   "C1",
				MeetingDate: time.Date(2026, 3, 23, 0, 0, 0, 0, time.UTC),
				DocumentURL: "https://docs.google.com/document/d/x/edit",
				Items:       items,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(requests).To(HaveLen(2))
			Expect(requests[0].Method).To(Equal(http.MethodPatch))
			Expect(requests[0].Path).To(Equal("/app1/Agenda Items"))
			Expect(requests[0].Body["records"]).To(HaveLen(10))
			Expect(requests[1].Body["records"]).To(HaveLen(2))

			first := requests[0].Body["records"].([]any)[0].(map[string]any)["fields"].(map[string]any)
			Expect(first["Key"]).To(Equal("C1:2026-03-23:1"))
			Expect(first["Category"]).To(Equal("Pipeline Review"))
		})
	})

	Describe("Disabled", func() {
		It("finds nothing and archives nothing", func() {
			var d records.Disabled
			_, err := d.FindCompany(ctx, "acme")
			Expect(err).To(MatchError(domain.ErrNotFound))
			Expect(d.UpsertAgendaRecord(ctx, model.AgendaRecord{})).To(Succeed())
		})
	})
})
