// Package metrics exposes Prometheus collectors for the HTTP surface, the
// mutation path and ledger reconciliation.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/intake-ledger/intake"
)

// Outcome labels for intake_mutations_total.
const (
	OutcomeOK       = "ok"
	OutcomeInvalid  = "invalid"
	OutcomeNotFound = "not_found"
	OutcomePartial  = "partial"
	OutcomeError    = "error"
)

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	requests  *prometheus.CounterVec
	durations *prometheus.HistogramVec
	mutations *prometheus.CounterVec
	repairs   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_http_requests_total",
			Help: "HTTP requests by route pattern, method and status code.",
		}, []string{"route", "method", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "intake_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "intake_mutations_total",
			Help: "Create/update/delete operations by outcome.",
		}, []string{"op", "outcome"}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "intake_ledger_repairs_total",
			Help: "Ledger rows corrected by reconciliation.",
		}),
	}
	m.Registry.MustRegister(
		m.requests, m.durations, m.mutations, m.repairs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// ObserveMutation implements intake.MutationObserver.
func (m *Metrics) ObserveMutation(op string, err error) {
	m.mutations.WithLabelValues(op, outcome(err)).Inc()
}

// ObserveRepairs adds n corrected ledger rows.
func (m *Metrics) ObserveRepairs(n int) {
	if n > 0 {
		m.repairs.Add(float64(n))
	}
}

func outcome(err error) string {
	var partial *intake.PartialMutationError
	switch {
	case err == nil:
		return OutcomeOK
	case errors.As(err, &partial):
		return OutcomePartial
	case intake.IsNotFound(err):
		return OutcomeNotFound
	case intake.IsClientError(err):
		return OutcomeInvalid
	}
	return OutcomeError
}

// Middleware records request counts and latency. Routes are labelled by
// their chi pattern (e.g. /api/entries/{id}) so ids never become labels.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.durations.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

var _ intake.MutationObserver = (*Metrics)(nil)
