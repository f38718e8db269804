// Package metrics exposes call and collaborator counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "callvox"

// Collector records call metrics. A nil *Collector records nothing.
type Collector struct {
	activeCalls    prometheus.Gauge
	calls          *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	speechOutcomes *prometheus.CounterVec
	escalations    prometheus.Counter
	collaborator   *prometheus.HistogramVec
	droppedFrames  prometheus.Counter
	persistErrors  prometheus.Counter
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		activeCalls: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Calls with a live media stream",
		}),
		calls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Finished calls by final phase",
		}, []string{"phase"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Dialog phase changes",
		}, []string{"from", "to"}),
		speechOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_outcomes_total",
			Help:      "Processed speech turns by outcome",
		}, []string{"outcome"}),
		escalations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escalations_total",
			Help:      "Calls sent to a representative",
		}),
		collaborator: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_duration_seconds",
			Help:      "Collaborator request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"op", "status"}),
		droppedFrames: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_dropped_total",
			Help:      "Inbound messages dropped by the rate limiter",
		}),
		persistErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Failed durable session writes",
		}),
	}
}

func (c *Collector) CallStarted() {
	if c == nil {
		return
	}
	c.activeCalls.Inc()
}

func (c *Collector) CallEnded(phase string) {
	if c == nil {
		return
	}
	c.activeCalls.Dec()
	c.calls.WithLabelValues(phase).Inc()
}

func (c *Collector) Transition(from, to string) {
	if c == nil || from == to {
		return
	}
	c.transitions.WithLabelValues(from, to).Inc()
	if to == "representative_transfer" {
		c.escalations.Inc()
	}
}

func (c *Collector) SpeechOutcome(outcome string) {
	if c == nil {
		return
	}
	c.speechOutcomes.WithLabelValues(outcome).Inc()
}

func (c *Collector) Collaborator(op string, d time.Duration, err error) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.collaborator.WithLabelValues(op, status).Observe(d.Seconds())
}

func (c *Collector) Dropped() {
	if c == nil {
		return
	}
	c.droppedFrames.Inc()
}

// PersistResult matches callstate.StoreConfig.OnWrite.
func (c *Collector) PersistResult(err error) {
	if c == nil || err == nil {
		return
	}
	c.persistErrors.Inc()
}
