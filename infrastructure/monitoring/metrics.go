package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector manages all metrics for the rate limit service
type Collector struct {
	registry *prometheus.Registry

	// Decision metrics
	DecisionsTotal   *prometheus.CounterVec
	DecisionDuration *prometheus.HistogramVec
	DegradedTotal    *prometheus.CounterVec

	// Store metrics
	StoreErrorsTotal  *prometheus.CounterVec
	StoreCallDuration *prometheus.HistogramVec

	// Adaptive metrics
	BehaviorScores prometheus.Histogram

	// Administrative metrics
	AdminOperationsTotal *prometheus.CounterVec

	// Configuration metrics
	RuleTableVersion prometheus.Gauge
	RuleReloadsTotal *prometheus.CounterVec
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Admission decisions by outcome and violated scope",
		}, []string{"outcome", "scope"}),

		DecisionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decision_duration_seconds",
			Help:      "Decision pipeline latency",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"outcome"}),

		DegradedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_decisions_total",
			Help:      "Decisions resolved via the fail policy while the store was unreachable",
		}, []string{"policy"}),

		StoreErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Shared store failures by operation",
		}, []string{"operation"}),

		StoreCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_call_duration_seconds",
			Help:      "Shared store round-trip latency",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}, []string{"operation"}),

		BehaviorScores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "behavior_score",
			Help:      "Behavior scores observed at decision time",
			Buckets:   []float64{0, .5, 1, 2, 3, 5, 8, 10},
		}),

		AdminOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admin_operations_total",
			Help:      "Administrative operations by action and status",
		}, []string{"action", "status"}),

		RuleTableVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rule_table_version",
			Help:      "Version of the active limit rule snapshot",
		}),

		RuleReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_reloads_total",
			Help:      "Rule table reload attempts by status",
		}, []string{"status"}),
	}

	registry.MustRegister(
		c.DecisionsTotal,
		c.DecisionDuration,
		c.DegradedTotal,
		c.StoreErrorsTotal,
		c.StoreCallDuration,
		c.BehaviorScores,
		c.AdminOperationsTotal,
		c.RuleTableVersion,
		c.RuleReloadsTotal,
	)

	return c
}

// ObserveDecision records one pipeline decision
func (c *Collector) ObserveDecision(outcome, scope string, duration time.Duration) {
	c.DecisionsTotal.WithLabelValues(outcome, scope).Inc()
	c.DecisionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveStoreError records a shared store failure
func (c *Collector) ObserveStoreError(operation string) {
	c.StoreErrorsTotal.WithLabelValues(operation).Inc()
}

// ObserveAdminOperation records an administrative API call
func (c *Collector) ObserveAdminOperation(action, status string) {
	c.AdminOperationsTotal.WithLabelValues(action, status).Inc()
}

// Handler exposes the collector over HTTP for Prometheus scraping
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
