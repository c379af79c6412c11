package service

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"pillar.vc/assistant/common/logger"
	"pillar.vc/assistant/internal/metrics"
	"pillar.vc/assistant/internal/model"
	"pillar.vc/assistant/internal/queue"
)

type EventIngestResult struct {
	Enqueued   bool
	Duplicated bool
}

// Deduper reports whether an event id is seen for the first time. Forget
// releases an id whose event never reached the queue.
type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) bool
	Forget(ctx context.Context, eventID string) error
}

// EventIngestService accepts Slack deliveries at the edge and hands them to
// the workers. Slack redelivers events it considers unacknowledged, so each
// event id is enqueued once.
type EventIngestService interface {
	IngestEvent(ctx context.Context, ev model.InboundEvent) (*EventIngestResult, error)
	// Ingest satisfies slackapi.EventSink.
	Ingest(ctx context.Context, ev model.InboundEvent) error
}

type eventIngestService struct {
	dedupe Deduper
	queue  queue.Producer
	logger *slog.Logger
}

func NewEventIngestService(dedupe Deduper, queue queue.Producer, logger *slog.Logger) EventIngestService {
	if logger == nil {
		logger = slog.Default()
	}
	return &eventIngestService{
		dedupe: dedupe,
		queue:  queue,
		logger: logger,
	}
}

func (s *eventIngestService) Ingest(ctx context.Context, ev model.InboundEvent) error {
	_, err := s.IngestEvent(ctx, ev)
	return err
}

func (s *eventIngestService) IngestEvent(ctx context.Context, ev model.InboundEvent) (*EventIngestResult, error) {
	if ev.ID == "" || ev.Kind == "" || ev.Invocation.ChannelID == "" {
		return nil, fmt.Errorf("event id, kind and channel are required")
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		EventID:   logger.Ptr(ev.ID),
		ChannelID: logger.Ptr(ev.Invocation.ChannelID),
		UserID:    logger.Ptr(ev.Invocation.UserID),
		Component: "pillar.service.event_ingest",
	})

	if s.dedupe != nil && !s.dedupe.FirstSeen(ctx, ev.ID) {
		metrics.EventsIngested.WithLabelValues(string(ev.Kind), "duplicate").Inc()
		s.logger.InfoContext(ctx, "duplicate event deduped", "kind", ev.Kind)
		return &EventIngestResult{Duplicated: true}, nil
	}

	msg := queue.EventMessage{Event: ev, Attempt: 1}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		msg.TraceID = logger.Ptr(sc.TraceID().String())
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		metrics.EventsIngested.WithLabelValues(string(ev.Kind), "error").Inc()
		if s.dedupe != nil {
			if ferr := s.dedupe.Forget(context.WithoutCancel(ctx), ev.ID); ferr != nil {
				s.logger.ErrorContext(ctx, "failed to release dedupe key, redelivery will be dropped",
					"error", ferr,
					"enqueue_error", err)
			}
		}
		return nil, fmt.Errorf("enqueueing event: %w", err)
	}

	metrics.EventsIngested.WithLabelValues(string(ev.Kind), "enqueued").Inc()
	return &EventIngestResult{Enqueued: true}, nil
}
