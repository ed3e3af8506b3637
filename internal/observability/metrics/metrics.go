// Package metrics exposes prometheus instruments for the question/event
// lifecycle.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
)

// Module provides the registry and application metrics.
var Module = fx.Module("observability.metrics",
	fx.Provide(NewRegistry),
	fx.Provide(New),
)

// NewRegistry returns the prometheus registry served on /metrics.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// Metrics holds the application-level instruments.
type Metrics struct {
	questionsAsked       prometheus.Counter
	askFailures          prometheus.Counter
	eventsIngested       *prometheus.CounterVec
	unknownDiscriminator prometheus.Counter
	duplicateProjection  *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		questionsAsked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twined_questions_asked_total",
			Help: "Questions successfully dispatched to a service revision.",
		}),
		askFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twined_question_dispatch_failures_total",
			Help: "Question dispatches that failed at the transport.",
		}),
		eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twined_usage_events_ingested_total",
			Help: "Service usage events persisted, by payload discriminator.",
		}, []string{"discriminator"}),
		unknownDiscriminator: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twined_usage_events_unknown_discriminator_total",
			Help: "Events persisted with an unrecognised payload discriminator.",
		}),
		duplicateProjection: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twined_projection_duplicates_total",
			Help: "Single-row projections that had to resolve duplicate events.",
		}, []string{"discriminator"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twined_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "twined_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.questionsAsked,
		m.askFailures,
		m.eventsIngested,
		m.unknownDiscriminator,
		m.duplicateProjection,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) RecordQuestionAsked() {
	if m == nil {
		return
	}
	m.questionsAsked.Inc()
}

func (m *Metrics) RecordDispatchFailure() {
	if m == nil {
		return
	}
	m.askFailures.Inc()
}

func (m *Metrics) RecordEventIngested(discriminator string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(discriminator).Inc()
}

func (m *Metrics) RecordUnknownDiscriminator() {
	if m == nil {
		return
	}
	m.unknownDiscriminator.Inc()
}

func (m *Metrics) RecordDuplicateProjection(discriminator string) {
	if m == nil {
		return
	}
	m.duplicateProjection.WithLabelValues(discriminator).Inc()
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware(m *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
