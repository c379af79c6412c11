package llm_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/openai/openai-go"

	"pillar.vc/assistant/common/llm"
)

type decodeTarget struct {
	Intent string `json:"intent"`
	Target string `json:"target,omitempty"`
}

var _ = Describe("DecodeJSON", func() {
	DescribeTable("extracts the JSON payload from model output",
		func(raw string, expected decodeTarget) {
			var got decodeTarget
			Expect(llm.DecodeJSON(raw, &got)).To(Succeed())
			Expect(got).To(Equal(expected))
		},
		Entry("plain object", `{"intent":"summarize"}`, decodeTarget{Intent: "summarize"}),
		Entry("json code fence", "```json\n{\"intent\":\"actions\",\"target\":\"U1\"}\n```", decodeTarget{Intent: "actions", Target: "U1"}),
		Entry("bare code fence", "```\n{\"intent\":\"help\"}\n```", decodeTarget{Intent: "help"}),
		Entry("surrounding prose", "Sure! Here it is: {\"intent\":\"catchup\"} hope that helps", decodeTarget{Intent: "catchup"}),
	)

	It("decodes arrays", func() {
		var got []decodeTarget
		Expect(llm.DecodeJSON(`noise [{"intent":"a"},{"intent":"b"}] trailing`, &got)).To(Succeed())
		Expect(got).To(HaveLen(2))
	})

	It("fails when no JSON is present", func() {
		var got decodeTarget
		Expect(llm.DecodeJSON("I cannot help with that.", &got)).To(HaveOccurred())
	})
})

var _ = Describe("GenerateSchema", func() {
	It("reflects struct fields into a JSON schema", func() {
		schema := llm.SchemaJSON(llm.GenerateSchema[decodeTarget]())
		Expect(schema).To(ContainSubstring(`"intent"`))
		Expect(schema).To(ContainSubstring(`"target"`))
	})
})

var _ = Describe("error classification", func() {
	apiError := func(status int, retryAfter string) error {
		resp := &http.Response{StatusCode: status, Header: http.Header{}}
		if retryAfter != "" {
			resp.Header.Set("Retry-After", retryAfter)
		}
		req := httptest.NewRequest(http.MethodPost, "https://api.openai.com/v1/chat/completions", nil)
		return fmt.Errorf("openai complete: %w", &openai.Error{StatusCode: status, Request: req, Response: resp})
	}

	It("treats 429 as rate limited and retryable", func() {
		err := apiError(http.StatusTooManyRequests, "7")
		Expect(llm.IsRateLimited(err)).To(BeTrue())
		Expect(llm.IsRetryable(context.Background(), err)).To(BeTrue())
		Expect(llm.RetryAfter(err)).To(Equal(7 * time.Second))
	})

	It("retries server errors", func() {
		Expect(llm.IsRetryable(context.Background(), apiError(http.StatusBadGateway, ""))).To(BeTrue())
	})

	It("does not retry client errors", func() {
		Expect(llm.IsRetryable(context.Background(), apiError(http.StatusBadRequest, ""))).To(BeFalse())
	})

	It("does not retry cancelled calls", func() {
		Expect(llm.IsRetryable(context.Background(), context.Canceled)).To(BeFalse())
	})

	It("retries plain network errors", func() {
		Expect(llm.IsRetryable(context.Background(), errors.New("connection reset"))).To(BeTrue())
		Expect(llm.StatusCode(errors.New("connection reset"))).To(BeZero())
	})
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderAnthropic})
		Expect(err).To(HaveOccurred())
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "mystery", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported")))
	})

	It("defaults to anthropic", func() {
		client, err := llm.New(llm.Config{APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(client.Model()).To(HavePrefix("claude"))
	})
})
