package brain_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"pillar.vc/assistant/internal/brain"
	"pillar.vc/assistant/internal/domain"
)

var _ = Describe("Pipeline", func() {
	var (
		ctx      context.Context
		mockLLM  *mockLLMClient
		pipeline *brain.Pipeline
		chunker  *brain.Chunker
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockLLM = &mockLLMClient{
			completeFn: func(_ context.Context, prompt string, _ int) (string, error) {
				if isReducePrompt(prompt) {
					return "merged summary", nil
				}
				return "partial summary", nil
			},
		}
		pipeline = brain.NewPipeline(mockLLM, brain.PipelineConfig{MapConcurrency: 8}).WithSleep(noSleep)
		chunker = brain.NewChunker()
	})

	It("makes no calls for empty history", func() {
		summary, err := pipeline.Summarize(ctx, nil, brain.Instruction{Kind: brain.ChannelDigest})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.MapCalls).To(BeZero())
		Expect(mockLLM.calls()).To(BeEmpty())
	})

	It("skips the reduce call for a single chunk", func() {
		chunks := chunker.Chunk(makeMessages(5), 10_000)
		Expect(chunks).To(HaveLen(1))

		summary, err := pipeline.Summarize(ctx, chunks, brain.Instruction{Kind: brain.ChannelDigest, Subject: "general"})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Text).To(Equal("partial summary"))
		Expect(summary.ReduceCalls).To(BeZero())

		mapCalls, reduceCalls := countCalls(mockLLM.calls())
		Expect(mapCalls).To(Equal(1))
		Expect(reduceCalls).To(BeZero())
	})

	DescribeTable("makes one map call per chunk and one reduce call when there are several",
		func(messages, perChunk, expectedChunks int) {
			msgs := makeMessages(messages)
			chunks := chunker.Chunk(msgs, perChunk*brain.EstimateTokens(msgs[0]))
			Expect(chunks).To(HaveLen(expectedChunks))

			summary, err := pipeline.Summarize(ctx, chunks, brain.Instruction{Kind: brain.Catchup})
			Expect(err).NotTo(HaveOccurred())
			Expect(summary.Text).To(Equal("merged summary"))
			Expect(summary.Messages).To(Equal(messages))

			mapCalls, reduceCalls := countCalls(mockLLM.calls())
			Expect(mapCalls).To(Equal(expectedChunks))
			Expect(reduceCalls).To(Equal(1))
		},
		Entry("two chunks", 20, 10, 2),
		Entry("10,000 messages at 50 per chunk", 10_000, 50, 200),
	)

	It("feeds map results to the reduce call in chunk order", func() {
		mockLLM.completeFn = func(_ context.Context, prompt string, _ int) (string, error) {
			if isReducePrompt(prompt) {
				return "done", nil
			}
			for i := 1; i <= 3; i++ {
				if strings.Contains(prompt, fmt.Sprintf("part %d of 3", i)) {
					return fmt.Sprintf("summary-%d", i), nil
				}
			}
			return "", errors.New("unexpected prompt")
		}
		msgs := makeMessages(3)
		chunks := chunker.Chunk(msgs, brain.EstimateTokens(msgs[0]))
		Expect(chunks).To(HaveLen(3))

		_, err := pipeline.Summarize(ctx, chunks, brain.Instruction{Kind: brain.ChannelDigest})
		Expect(err).NotTo(HaveOccurred())

		var reduce string
		for _, p := range mockLLM.calls() {
			if isReducePrompt(p) {
				reduce = p
			}
		}
		Expect(strings.Index(reduce, "summary-1")).To(BeNumerically("<", strings.Index(reduce, "summary-2")))
		Expect(strings.Index(reduce, "summary-2")).To(BeNumerically("<", strings.Index(reduce, "summary-3")))
	})

	It("retries a failed call once", func() {
		var attempts atomic.Int32
		mockLLM.completeFn = func(context.Context, string, int) (string, error) {
			if attempts.Add(1) == 1 {
				return "", errors.New("connection reset")
			}
			return "ok", nil
		}

		summary, err := pipeline.Summarize(ctx, chunker.Chunk(makeMessages(2), 10_000), brain.Instruction{})
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.Text).To(Equal("ok"))
		Expect(attempts.Load()).To(Equal(int32(2)))
	})

	It("waits for the provider's retry hint when it is short", func() {
		var waited time.Duration
		pipeline.WithSleep(func(_ context.Context, d time.Duration) error {
			waited = d
			return nil
		})
		var attempts atomic.Int32
		mockLLM.completeFn = func(context.Context, string, int) (string, error) {
			if attempts.Add(1) == 1 {
				return "", rateLimitError("1")
			}
			return "ok", nil
		}

		_, err := pipeline.Summarize(ctx, chunker.Chunk(makeMessages(2), 10_000), brain.Instruction{})
		Expect(err).NotTo(HaveOccurred())
		Expect(waited).To(Equal(time.Second))
	})

	It("fails with UpstreamUnavailable after the second failure", func() {
		var attempts atomic.Int32
		mockLLM.completeFn = func(context.Context, string, int) (string, error) {
			attempts.Add(1)
			return "", errors.New("connection reset")
		}

		_, err := pipeline.Summarize(ctx, chunker.Chunk(makeMessages(2), 10_000), brain.Instruction{})
		Expect(err).To(MatchError(domain.ErrUpstreamUnavailable))
		Expect(attempts.Load()).To(Equal(int32(2)))
	})

	It("reports repeated rate limiting as RateLimited and UpstreamUnavailable", func() {
		mockLLM.completeFn = func(context.Context, string, int) (string, error) {
			return "", rateLimitError("30")
		}

		_, err := pipeline.Summarize(ctx, chunker.Chunk(makeMessages(2), 10_000), brain.Instruction{})
		var limited *domain.RateLimited
		Expect(errors.As(err, &limited)).To(BeTrue())
		Expect(limited.RetryAfter).To(Equal(30 * time.Second))
		Expect(err).To(MatchError(domain.ErrUpstreamUnavailable))
	})

	It("stops when the context is cancelled", func() {
		cctx, cancel := context.WithCancel(ctx)
		mockLLM.completeFn = func(c context.Context, _ string, _ int) (string, error) {
			cancel()
			<-c.Done()
			return "", c.Err()
		}

		_, err := pipeline.Summarize(cctx, chunker.Chunk(makeMessages(2), 10_000), brain.Instruction{})
		Expect(err).To(MatchError(context.Canceled))
		Expect(mockLLM.calls()).To(HaveLen(1))
	})

	It("includes the instruction subject and context in prompts", func() {
		_, err := pipeline.Summarize(ctx, chunker.Chunk(makeMessages(1), 10_000), brain.Instruction{
			Kind:    brain.CompanyUpdate,
			Subject: "Acme",
			Context: "Stage: Seed",
		})
		Expect(err).NotTo(HaveOccurred())
		prompt := mockLLM.calls()[0]
		Expect(prompt).To(ContainSubstring("Company: Acme"))
		Expect(prompt).To(ContainSubstring("Context: Stage: Seed"))
		Expect(prompt).To(ContainSubstring("Red flags"))
	})
})

func rateLimitError(retryAfter string) error {
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	resp.Header.Set("Retry-After", retryAfter)
	req := httptest.NewRequest(http.MethodPost, "https://api.anthropic.com/v1/messages", nil)
	return fmt.Errorf("anthropic complete: %w", &anthropic.Error{StatusCode: http.StatusTooManyRequests, Request: req, Response: resp})
}
