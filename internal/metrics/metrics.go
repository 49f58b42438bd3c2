package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sched_sim"

// Recorder holds the simulation's prometheus collectors. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	admitted       *prometheus.CounterVec
	finished       *prometheus.CounterVec
	bursts         *prometheus.CounterVec
	rotations      *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	queued         *prometheus.GaugeVec
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		admitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_admitted_total",
			Help:      "Tasks admitted from the workload stream.",
		}, []string{"scheduler", "core"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks destroyed after their last burst, by where the last burst ran.",
		}, []string{"where"}),
		bursts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bursts_total",
			Help:      "Bursts executed, by worker kind and id.",
		}, []string{"kind", "worker"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runqueue_rotations_total",
			Help:      "Active/expired swaps of the O1 run queues.",
		}, []string{"core"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent inside the scheduler's request path, admission included.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
		}, []string{"scheduler", "core"}),
		queued: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_tasks",
			Help:      "Tasks waiting in a core's ready state at its last request.",
		}, []string{"core"}),
	}
	r.registry.MustRegister(
		r.admitted,
		r.finished,
		r.bursts,
		r.rotations,
		r.requestLatency,
		r.queued,
		collectors.NewGoCollector(),
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the registry in the prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) TaskAdmitted(scheduler string, core int) {
	if r == nil {
		return
	}
	r.admitted.WithLabelValues(scheduler, strconv.Itoa(core)).Inc()
}

func (r *Recorder) TaskFinished(where string) {
	if r == nil {
		return
	}
	r.finished.WithLabelValues(where).Inc()
}

func (r *Recorder) BurstExecuted(kind string, worker int) {
	if r == nil {
		return
	}
	r.bursts.WithLabelValues(kind, strconv.Itoa(worker)).Inc()
}

func (r *Recorder) Rotated(core int) {
	if r == nil {
		return
	}
	r.rotations.WithLabelValues(strconv.Itoa(core)).Inc()
}

func (r *Recorder) ObserveRequest(scheduler string, core int, d time.Duration, queued int) {
	if r == nil {
		return
	}
	c := strconv.Itoa(core)
	r.requestLatency.WithLabelValues(scheduler, c).Observe(d.Seconds())
	r.queued.WithLabelValues(c).Set(float64(queued))
}
