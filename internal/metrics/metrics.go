// Package metrics exposes Prometheus collectors for the detection pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ScamShield collectors. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	detections        *prometheus.CounterVec
	hardStops         prometheus.Counter
	ruleHits          *prometheus.CounterVec
	detectDuration    prometheus.Histogram
	rulesLoaded       prometheus.Gauge
	reloads           *prometheus.CounterVec
	secondaryFailures prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry registers the collectors on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: reg,
		detections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scamshield",
				Name:      "detections_total",
				Help:      "Detections produced, by tier.",
			},
			[]string{"tier"},
		),
		hardStops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scamshield",
				Name:      "hard_stops_total",
				Help:      "Detections forced to T3 by a hard-stop rule.",
			},
		),
		ruleHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scamshield",
				Subsystem: "rules",
				Name:      "hits_total",
				Help:      "Rule matches, by rule id.",
			},
			[]string{"rule_id"},
		),
		detectDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "scamshield",
				Name:      "detect_duration_seconds",
				Help:      "End-to-end detection latency.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
			},
		),
		rulesLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "scamshield",
				Subsystem: "rules",
				Name:      "loaded",
				Help:      "Rules in the active rule set.",
			},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "scamshield",
				Subsystem: "rules",
				Name:      "reloads_total",
				Help:      "Rule reloads, by result.",
			},
			[]string{"result"},
		),
		secondaryFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "scamshield",
				Subsystem: "secondary",
				Name:      "failures_total",
				Help:      "Secondary scorer calls that errored or timed out.",
			},
		),
	}

	reg.MustRegister(
		m.detections,
		m.hardStops,
		m.ruleHits,
		m.detectDuration,
		m.rulesLoaded,
		m.reloads,
		m.secondaryFailures,
	)
	return m
}

// ObserveDetection records a finished detection.
func (m *Metrics) ObserveDetection(d *domain.Detection, elapsed time.Duration) {
	if m == nil || d == nil {
		return
	}
	m.detections.WithLabelValues(string(d.Tier)).Inc()
	if d.HardStop {
		m.hardStops.Inc()
	}
	for _, h := range d.RuleHits {
		m.ruleHits.WithLabelValues(h.RuleID).Inc()
	}
	if d.Metadata.SecondaryStatus == domain.SecondaryFailed {
		m.secondaryFailures.Inc()
	}
	m.detectDuration.Observe(elapsed.Seconds())
}

// ObserveReload records a rule reload. count is ignored on failure.
func (m *Metrics) ObserveReload(count int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.reloads.WithLabelValues("failure").Inc()
		return
	}
	m.reloads.WithLabelValues("success").Inc()
	m.rulesLoaded.Set(float64(count))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
