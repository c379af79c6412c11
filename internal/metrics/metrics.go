// Package metrics holds the Prometheus collectors shared by the server and the worker.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pillar.vc/assistant/internal/domain"
)

var (
	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pillar",
		Name:      "events_ingested_total",
		Help:      "Slack events accepted at ingress, by kind and outcome.",
	}, []string{"kind", "outcome"})

	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pillar",
		Name:      "events_processed_total",
		Help:      "Queue messages handled by workers, by outcome.",
	}, []string{"outcome"})

	IntentsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pillar",
		Name:      "intents_handled_total",
		Help:      "Routed intents, by kind and error class.",
	}, []string{"intent", "result"})

	IntentDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pillar",
		Name:      "intent_duration_seconds",
		Help:      "Time spent handling one intent.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"intent"})

	SummaryCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pillar",
		Name:      "summary_cache_total",
		Help:      "Channel digest cache lookups, by result.",
	}, []string{"result"})
)

// ObserveIntent records one routed intent.
func ObserveIntent(kind string, started time.Time, err error) {
	IntentsHandled.WithLabelValues(kind, ErrorClass(err)).Inc()
	IntentDuration.WithLabelValues(kind).Observe(time.Since(started).Seconds())
}

// ErrorClass buckets an error into a low-cardinality label.
func ErrorClass(err error) string {
	var (
		parseErr  *domain.ParseError
		ambiguous *domain.AmbiguousResolution
		auth      *domain.AuthRequired
		conflict  *domain.StateConflict
		limited   *domain.RateLimited
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &parseErr):
		return "parse_error"
	case errors.As(err, &ambiguous):
		return "ambiguous"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.As(err, &auth):
		return "auth_required"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &limited):
		return "rate_limited"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "upstream"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "internal"
	}
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.InfoContext(ctx, "prometheus metrics server listening", "address", listener.Addr().String())
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
