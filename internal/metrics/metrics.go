// Package metrics collects client-side API metrics with Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector implements httpclient.Recorder.
type Collector struct {
	requests *prometheus.CounterVec
	latency  prometheus.Histogram
	retries  prometheus.Counter
	refresh  *prometheus.CounterVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userdesk_api_requests_total",
			Help: "API requests sent, by method and status code",
		}, []string{"method", "status_code"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "userdesk_api_request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "userdesk_api_retries_total",
			Help: "Requests replayed after an access token refresh",
		}),
		refresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "userdesk_token_refresh_total",
			Help: "Access token refresh attempts, by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(c.requests, c.latency, c.retries, c.refresh)
	return c
}

func (c *Collector) RecordRequest(method string, statusCode int, elapsed time.Duration) {
	c.requests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	c.latency.Observe(elapsed.Seconds())
}

func (c *Collector) RecordRetry() {
	c.retries.Inc()
}

func (c *Collector) RecordRefresh(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	c.refresh.WithLabelValues(outcome).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
