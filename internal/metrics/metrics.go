package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics interface consumed by the account service
type Recorder interface {
	RecordOperation(operation string, err error)
	RecordLatency(operation string, duration time.Duration)
}

// Collector collects Prometheus metrics for account operations
type Collector struct {
	registry   *prometheus.Registry
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewCollector creates a new Collector with its own registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "passport_account_operations_total",
			Help: "Total account operations by result",
		}, []string{"operation", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "passport_account_operation_seconds",
			Help:    "Account operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(c.operations, c.latency)

	return c
}

// RecordOperation counts one operation outcome
func (c *Collector) RecordOperation(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.operations.WithLabelValues(operation, result).Inc()
}

// RecordLatency observes one operation duration
func (c *Collector) RecordLatency(operation string, duration time.Duration) {
	c.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// Handler returns the HTTP handler exposing the collected metrics
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// NopRecorder discards all metrics
type NopRecorder struct{}

func (NopRecorder) RecordOperation(string, error)       {}
func (NopRecorder) RecordLatency(string, time.Duration) {}
