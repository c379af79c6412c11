package brain_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pillar.vc/assistant/common/llm"
	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/intent"
	"pillar.vc/assistant/internal/model"
)

var _ = Describe("IntentClassifier", func() {
	var (
		ctx        context.Context
		mockLLM    *mockLLMClient
		classifier *brain.IntentClassifier
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockLLM = &mockLLMClient{}
		classifier = brain.NewIntentClassifier(mockLLM, intent.HoursRange(24))
	})

	DescribeTable("maps model labels to intents",
		func(resp brain.ClassificationResponse, expected intent.Intent) {
			mockLLM.chatFn = jsonChat(resp)
			got, err := classifier.Classify(ctx, "original text")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(expected))
		},
		Entry("summarize with period",
			brain.ClassificationResponse{Intent: "summarize", TimePeriod: "2d"},
			intent.Summarize{Range: intent.TimeRange{Duration: 48 * time.Hour, Label: "the last 2 days"}}),
		Entry("summarize without period",
			brain.ClassificationResponse{Intent: "summarize"},
			intent.Summarize{Range: intent.HoursRange(24)}),
		Entry("actions for a user id",
			brain.ClassificationResponse{Intent: "actions", Target: "U42"},
			intent.Actions{Owner: &intent.UserRef{ID: "U42"}, Range: intent.HoursRange(24)}),
		Entry("actions for a name",
			brain.ClassificationResponse{Intent: "actions", Target: "@dana"},
			intent.Actions{Owner: &intent.UserRef{Name: "dana"}, Range: intent.HoursRange(24)}),
		Entry("agenda add",
			brain.ClassificationResponse{Intent: "agenda_add", Category: "deals", Text: "Acme intro"},
			intent.AgendaAddItem{Category: model.CategoryPipeline, Text: "Acme intro"}),
		Entry("agenda add without text falls back to view",
			brain.ClassificationResponse{Intent: "agenda_add", Category: "pipeline"},
			intent.AgendaView{}),
		Entry("portfolio", brain.ClassificationResponse{Intent: "portfolio", Target: "Acme"}, intent.Portfolio{Company: "Acme"}),
		Entry("lp letter", brain.ClassificationResponse{Intent: "lp_letter", Target: "Q2 2026"}, intent.LPLetter{Period: "Q2 2026"}),
		Entry("question", brain.ClassificationResponse{Intent: "question"}, intent.Mention{FreeText: "original text"}),
		Entry("unknown label", brain.ClassificationResponse{Intent: "dance"}, intent.Mention{FreeText: "original text"}),
	)

	It("returns the model error so the parser can fall back", func() {
		mockLLM.chatFn = func(context.Context, llm.Request, any) (*llm.Response, error) {
			return nil, errors.New("overloaded")
		}
		_, err := classifier.Classify(ctx, "hello")
		Expect(err).To(MatchError(ContainSubstring("overloaded")))
	})
})

var _ = Describe("CurrentQuarter", func() {
	DescribeTable("formats the calendar quarter",
		func(month time.Month, expected string) {
			Expect(brain.CurrentQuarter(time.Date(2026, month, 15, 0, 0, 0, 0, time.UTC))).To(Equal(expected))
		},
		Entry("january", time.January, "Q1 2026"),
		Entry("june", time.June, "Q2 2026"),
		Entry("september", time.September, "Q3 2026"),
		Entry("october", time.October, "Q4 2026"),
	)
})
