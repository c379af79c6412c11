package brain

import (
	"context"
	"log/slog"
	"time"

	"pillar.vc/assistant/common/llm"
	"pillar.vc/assistant/internal/domain"
)

// Completer is the part of llm.Client the pipeline needs.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// retrier runs a model call at most twice. The second attempt waits for the
// backoff, or the provider's Retry-After hint when it is shorter than maxWait.
type retrier struct {
	backoff time.Duration
	maxWait time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

func newRetrier(backoff time.Duration) retrier {
	if backoff <= 0 {
		backoff = 2 * time.Second
	}
	return retrier{backoff: backoff, maxWait: 8 * backoff, sleep: sleepContext}
}

func (r retrier) complete(ctx context.Context, op string, c Completer, prompt string, maxTokens int) (string, error) {
	return retryCall(ctx, r, op, func(ctx context.Context) (string, error) {
		return c.Complete(ctx, prompt, maxTokens)
	})
}

func retryCall[T any](ctx context.Context, r retrier, op string, call func(context.Context) (T, error)) (T, error) {
	var zero T
	out, err := call(ctx)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if !llm.IsRetryable(ctx, err) {
		return zero, domain.Upstream(op, err)
	}

	wait := r.backoff
	if hint := llm.RetryAfter(err); hint > 0 && hint < r.maxWait {
		wait = hint
	}
	slog.WarnContext(ctx, "model call failed, retrying",
		"op", op,
		"wait_ms", wait.Milliseconds(),
		"error", err)
	if err := r.sleep(ctx, wait); err != nil {
		return zero, err
	}

	out, err = call(ctx)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if llm.IsRateLimited(err) {
		err = &domain.RateLimited{RetryAfter: llm.RetryAfter(err), Err: err}
	}
	return zero, domain.Upstream(op, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
