// Package metrics exposes loop counters on a private Prometheus registry.
package metrics

import (
	"net/http"

	"completiontester/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "completion_tester"

// Recorder records loop activity. A nil *Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	running    prometheus.Gauge
	iterations prometheus.Counter
	rollbacks  prometheus.Counter
	advances   prometheus.Counter
	loopErrors *prometheus.CounterVec
	trials     *prometheus.CounterVec
	bytes      *prometheus.CounterVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "running",
			Help:      "Whether the completion loop is running.",
		}),
		iterations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Completed loop iterations.",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Snapshot restores at the end of a macro-cycle.",
		}),
		advances: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "line_advances_total",
			Help:      "Newlines appended between iterations of a macro-cycle.",
		}),
		loopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loop_errors_total",
			Help:      "Failed loop iterations by error kind.",
		}, []string{"kind"}),
		trials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trials_total",
			Help:      "Completion attempts by mechanism and outcome.",
		}, []string{"mechanism", "outcome"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inserted_bytes_total",
			Help:      "Bytes added to the scratch document by accepted completions.",
		}, []string{"mechanism"}),
	}
	r.registry.MustRegister(r.running, r.iterations, r.rollbacks, r.advances, r.loopErrors, r.trials, r.bytes)
	return r
}

// Registry returns the private registry the collectors live on
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *Recorder) SetRunning(running bool) {
	if r == nil {
		return
	}
	if running {
		r.running.Set(1)
	} else {
		r.running.Set(0)
	}
}

func (r *Recorder) Iteration() {
	if r == nil {
		return
	}
	r.iterations.Inc()
}

func (r *Recorder) Rollback() {
	if r == nil {
		return
	}
	r.rollbacks.Inc()
}

func (r *Recorder) LineAdvance() {
	if r == nil {
		return
	}
	r.advances.Inc()
}

// LoopError counts a failed iteration under kind
func (r *Recorder) LoopError(kind string) {
	if r == nil {
		return
	}
	r.loopErrors.WithLabelValues(kind).Inc()
}

// Trial counts one attempt as accepted or empty and adds its growth
func (r *Recorder) Trial(res types.TrialResult) {
	if r == nil {
		return
	}
	outcome := "empty"
	if res.Accepted() {
		outcome = "accepted"
	}
	mech := res.Mechanism.String()
	r.trials.WithLabelValues(mech, outcome).Inc()
	if res.Delta > 0 {
		r.bytes.WithLabelValues(mech).Add(float64(res.Delta))
	}
}
