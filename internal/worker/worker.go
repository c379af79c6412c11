package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/internal/domain"
	"pillar.vc/assistant/internal/metrics"
	"pillar.vc/assistant/internal/queue"
)

type Config struct {
	MaxAttempts int
	// Concurrency bounds how many events of one batch run at once.
	Concurrency int
	// ErrorBackoff is the pause after a failed read.
	ErrorBackoff time.Duration
}

type Worker struct {
	consumer Consumer
	handler  EventHandler
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, handler EventHandler, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	return &Worker{
		consumer:  consumer,
		handler:   handler,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "pillar.worker"})
	slog.InfoContext(ctx, "worker started",
		"concurrency", w.cfg.Concurrency,
		"max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				select {
				case <-ctx.Done():
				case <-w.stopCh:
				case <-time.After(w.cfg.ErrorBackoff):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}
	w.ProcessBatch(ctx, messages)
	return nil
}

// ProcessBatch handles messages concurrently and settles each one: ack on
// success, requeue or dead-letter on failure. Exported so the reclaimer can
// reuse it.
func (w *Worker) ProcessBatch(ctx context.Context, messages []queue.Message) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for _, msg := range messages {
		g.Go(func() error {
			w.ProcessMessage(gctx, msg)
			return nil
		})
	}
	_ = g.Wait()
}

// ProcessMessage handles one message and settles it on the queue.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.handle_event",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("pillar.event_id", msg.Event.ID),
			attribute.String("pillar.event_kind", string(msg.Event.Kind)),
			attribute.Int("pillar.attempt", msg.Attempt),
		))
	defer sc.End()

	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		MessageID: logger.Ptr(msg.ID),
		EventID:   logger.Ptr(msg.Event.ID),
		ChannelID: logger.Ptr(msg.Event.Invocation.ChannelID),
		UserID:    logger.Ptr(msg.Event.Invocation.UserID),
	})

	slog.InfoContext(ctx, "processing event",
		"kind", msg.Event.Kind,
		"attempt", msg.Attempt)

	start := time.Now()
	err := w.handleSafe(ctx, msg)
	if err == nil {
		if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
			// The reclaimer redelivers it; handlers tolerate replays.
			slog.WarnContext(ctx, "failed to ACK message", "error", ackErr)
		}
		metrics.EventsProcessed.WithLabelValues("ok").Inc()
		slog.InfoContext(ctx, "event processed",
			"duration_ms", time.Since(start).Milliseconds())
		return
	}

	sc.RecordError(err)
	slog.ErrorContext(ctx, "event processing failed",
		"error", err,
		"attempt", msg.Attempt)
	w.handleFailedMessage(ctx, msg, err)
}

func (w *Worker) handleSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in event handling",
				"panic", r,
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.handler.HandleEvent(ctx, msg.Event)
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if !Retryable(err) || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "sending event to DLQ",
			"attempts", msg.Attempt,
			"retryable", Retryable(err))
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		metrics.EventsProcessed.WithLabelValues("dead_lettered").Inc()
		return
	}

	slog.WarnContext(ctx, "requeuing failed event", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
	metrics.EventsProcessed.WithLabelValues("requeued").Inc()
}

// Retryable reports whether another attempt could succeed. Missing data,
// bad input, conflicts and missing authorization fail the same way again.
func Retryable(err error) bool {
	var (
		parseErr *domain.ParseError
		auth     *domain.AuthRequired
		conflict *domain.StateConflict
	)
	switch {
	case err == nil:
		return false
	case errors.Is(err, domain.ErrNotFound),
		errors.As(err, &parseErr),
		errors.As(err, &auth),
		errors.As(err, &conflict):
		return false
	}
	return true
}
