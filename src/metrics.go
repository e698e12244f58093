package wlantx

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Drop and reject reasons, used as label values.
const (
	reasonStale      = "stale"
	reasonFlush      = "flush"
	reasonExplicit   = "explicit"
	reasonBATeardown = "ba_teardown"
	reasonRetryLimit = "retry_limit"

	reasonQueueFull    = "queue_full"
	reasonNoBuffer     = "no_buffer"
	reasonBackpressure = "backpressure"
	reasonNotFound     = "not_found"
)

// Metrics holds the aggregate counters of the transmit path.
type Metrics struct {
	Pushed           *prometheus.CounterVec
	Dropped          *prometheus.CounterVec
	Rejected         *prometheus.CounterVec
	DispatchRejected *prometheus.CounterVec
	DispatchDepth    prometheus.Gauge
	BuffersInUse     prometheus.Gauge
	Sweeps           prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg, if given.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	var m = &Metrics{
		Pushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wlantx_frames_pushed_total",
			Help: "Frames handed to the radio, by access category.",
		}, []string{"ac"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wlantx_frames_dropped_total",
			Help: "Frames released without transmission, by reason.",
		}, []string{"reason"}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wlantx_tx_rejected_total",
			Help: "Transmit requests refused at admission, by reason.",
		}, []string{"reason"}),
		DispatchRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wlantx_dispatch_rejected_total",
			Help: "Messages refused by the full dispatch queue, by kind.",
		}, []string{"kind"}),
		DispatchDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wlantx_dispatch_depth",
			Help: "Messages waiting in the dispatch queue.",
		}),
		BuffersInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "wlantx_buffers_in_use",
			Help: "Transmit buffers currently allocated.",
		}),
		Sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wlantx_cleanup_sweeps_total",
			Help: "Stale-frame sweeps run.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Pushed, m.Dropped, m.Rejected, m.DispatchRejected,
			m.DispatchDepth, m.BuffersInUse, m.Sweeps)
	}

	return m
}
