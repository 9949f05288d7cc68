package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements MetricsCollector with a request counter and
// a latency histogram.
type PrometheusCollector struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusCollector registers its collectors with reg and panics on a
// duplicate registration.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "smsdispatch_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "smsdispatch_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
	reg.MustRegister(c.requests, c.duration)
	return c
}

func (c *PrometheusCollector) RecordRequest(method, route, status string, d time.Duration) {
	c.requests.WithLabelValues(method, route, status).Inc()
	c.duration.WithLabelValues(method, route).Observe(d.Seconds())
}
