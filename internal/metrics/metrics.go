// Package metrics exposes Prometheus counters for the forwarding pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the pipeline counters behind a private registry.
type Collector struct {
	registry *prometheus.Registry

	delivered  *prometheus.CounterVec
	retries    prometheus.Counter
	failures   prometheus.Counter
	checks     *prometheus.CounterVec
	validation *prometheus.CounterVec
}

// NewCollector constructs the collector with all counters registered.
func NewCollector() (*Collector, error) {
	registry := prometheus.NewRegistry()

	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telebridge",
		Subsystem: "forward",
		Name:      "messages_delivered_total",
		Help:      "Messages successfully delivered, by mode and target type.",
	}, []string{"mode", "target_type"})

	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "telebridge",
		Subsystem: "forward",
		Name:      "delivery_retries_total",
		Help:      "Delivery attempts beyond the first.",
	})

	failures := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "telebridge",
		Subsystem: "forward",
		Name:      "permanent_failures_total",
		Help:      "Deliveries that exhausted their retry budget.",
	})

	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telebridge",
		Subsystem: "session",
		Name:      "status_checks_total",
		Help:      "Session health checks, by result.",
	}, []string{"result"})

	validation := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "telebridge",
		Subsystem: "validate",
		Name:      "validations_total",
		Help:      "Source/target validations, by kind and result.",
	}, []string{"kind", "result"})

	for _, c := range []prometheus.Collector{delivered, retries, failures, checks, validation} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &Collector{
		registry:   registry,
		delivered:  delivered,
		retries:    retries,
		failures:   failures,
		checks:     checks,
		validation: validation,
	}, nil
}

// Handler returns an HTTP handler for exposing the metrics.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Nil-safe increment helpers so components can run without a collector.

func (c *Collector) Delivered(mode, targetType string) {
	if c != nil {
		c.delivered.WithLabelValues(mode, targetType).Inc()
	}
}

func (c *Collector) Retry() {
	if c != nil {
		c.retries.Inc()
	}
}

func (c *Collector) PermanentFailure() {
	if c != nil {
		c.failures.Inc()
	}
}

func (c *Collector) StatusCheck(result string) {
	if c != nil {
		c.checks.WithLabelValues(result).Inc()
	}
}

func (c *Collector) Validation(kind, result string) {
	if c != nil {
		c.validation.WithLabelValues(kind, result).Inc()
	}
}
