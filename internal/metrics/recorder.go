// Package metrics exports simulation progress as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/san-kum/progsim/internal/dynamo"
	"github.com/san-kum/progsim/internal/sim"
)

const namespace = "progsim"

// Recorder is a sim.Observer that counts steps, samples, clamped states
// and finished runs, and records the simulated time to each event. It is
// safe for concurrent use by ensemble runs.
type Recorder struct {
	steps       *prometheus.CounterVec
	samples     *prometheus.CounterVec
	clamped     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	timeToEvent *prometheus.HistogramVec
	simTime     *prometheus.GaugeVec
}

var _ sim.Observer = (*Recorder)(nil)

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Simulation steps taken.",
		}, []string{"model"}),
		samples: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_total",
			Help:      "Samples saved to trajectories.",
		}, []string{"model"}),
		clamped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clamped_states_total",
			Help:      "State values clamped to their limits.",
		}, []string{"model", "state"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished simulation runs by stop reason.",
		}, []string{"model", "reason"}),
		timeToEvent: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "time_to_event",
			Help:      "Simulated time at which an event threshold was met.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 20),
		}, []string{"model", "event"}),
		simTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "simulated_time",
			Help:      "Simulated time of the latest step.",
		}, []string{"model"}),
	}

	for _, c := range []prometheus.Collector{r.steps, r.samples, r.clamped, r.runs, r.timeToEvent, r.simTime} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) OnStep(model string, t float64, _ dynamo.State, _ dynamo.Input, clamped []string) {
	r.steps.WithLabelValues(model).Inc()
	r.simTime.WithLabelValues(model).Set(t)
	for _, k := range clamped {
		r.clamped.WithLabelValues(model, k).Inc()
	}
}

func (r *Recorder) OnSave(model string, _ float64) {
	r.samples.WithLabelValues(model).Inc()
}

func (r *Recorder) OnStop(model string, tr *sim.Trajectory) {
	r.runs.WithLabelValues(model, string(tr.Reason)).Inc()
	if tr.Reason != sim.StopThreshold {
		return
	}
	for _, e := range tr.Met {
		r.timeToEvent.WithLabelValues(model, e).Observe(tr.FinalTime())
	}
}
