package dispatch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"smsdispatch/internal/types"
)

// PrometheusMetrics exposes dispatch telemetry for scraping by the API server.
type PrometheusMetrics struct {
	attempts         *prometheus.CounterVec
	gatewayLatency   *prometheus.HistogramVec
	schedulerRuns    *prometheus.CounterVec
	processed        *prometheus.CounterVec
	deferred         *prometheus.CounterVec
	reclaimedMessage prometheus.Counter
}

var _ Metrics = (*PrometheusMetrics)(nil)

// NewPrometheusMetrics creates the collectors and registers them with reg.
// It panics on duplicate registration, like prometheus.MustRegister.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	m := &PrometheusMetrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smsdispatch_dispatch_attempts_total",
				Help: "Total number of dispatch attempts by provider and result",
			},
			[]string{"provider", "result"},
		),
		gatewayLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smsdispatch_gateway_request_duration_seconds",
				Help:    "Time taken by gateway provider calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"provider"},
		),
		schedulerRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smsdispatch_scheduler_runs_total",
				Help: "Total number of scheduler passes by trigger",
			},
			[]string{"trigger"},
		),
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smsdispatch_scheduler_processed_total",
				Help: "Messages for which a dispatch attempt ran",
			},
			[]string{"trigger"},
		),
		deferred: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smsdispatch_scheduler_deferred_total",
				Help: "Due messages left for a later pass because the time budget ran out",
			},
			[]string{"trigger"},
		),
		reclaimedMessage: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "smsdispatch_reclaimed_messages_total",
				Help: "Stuck processing messages reset by the reclaimer",
			},
		),
	}

	reg.MustRegister(m.attempts, m.gatewayLatency, m.schedulerRuns, m.processed, m.deferred, m.reclaimedMessage)
	return m
}

func (m *PrometheusMetrics) RecordDispatch(_ context.Context, provider types.GatewayProvider, result Result) {
	m.attempts.WithLabelValues(string(provider), string(result)).Inc()
}

func (m *PrometheusMetrics) RecordGatewayLatency(_ context.Context, provider types.GatewayProvider, d time.Duration) {
	m.gatewayLatency.WithLabelValues(string(provider)).Observe(d.Seconds())
}

func (m *PrometheusMetrics) RecordSchedulerRun(_ context.Context, trigger string, processed, deferred int) {
	m.schedulerRuns.WithLabelValues(trigger).Inc()
	m.processed.WithLabelValues(trigger).Add(float64(processed))
	m.deferred.WithLabelValues(trigger).Add(float64(deferred))
}

func (m *PrometheusMetrics) RecordReclaimed(_ context.Context, n int) {
	m.reclaimedMessage.Add(float64(n))
}
