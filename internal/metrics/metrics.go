// Package metrics exposes gateway activity as prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eugenetaranov/sshgate/internal/gateway"
)

const namespace = "sshgate"

// Collector records gateway runs. It implements gateway.Recorder.
type Collector struct {
	runs      *prometheus.CounterVec
	duration  prometheus.Histogram
	truncated *prometheus.CounterVec
	inFlight  prometheus.Gauge
}

// New creates a Collector and registers it with reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "SSH command executions by outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock time of SSH command executions that spawned a process.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		truncated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_truncated_total",
			Help:      "Executions whose captured output hit the size cap, by stream.",
		}, []string{"stream"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "SSH client processes currently running.",
		}),
	}

	reg.MustRegister(c.runs, c.duration, c.truncated, c.inFlight)
	return c
}

// InFlight adjusts the running process gauge.
func (c *Collector) InFlight(delta int) {
	c.inFlight.Add(float64(delta))
}

// RunFinished records the outcome of one Run call.
func (c *Collector) RunFinished(outcome string, elapsed time.Duration, res *gateway.Result) {
	c.runs.WithLabelValues(outcome).Inc()
	if res == nil {
		return
	}

	c.duration.Observe(elapsed.Seconds())
	if res.StdoutTruncated {
		c.truncated.WithLabelValues("stdout").Inc()
	}
	if res.StderrTruncated {
		c.truncated.WithLabelValues("stderr").Inc()
	}
}

// Ensure Collector implements the gateway.Recorder interface.
var _ gateway.Recorder = (*Collector)(nil)
