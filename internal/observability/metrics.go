// Package observability exposes Prometheus metrics for the agent container:
// stream throughput, outage transitions, and lock contention.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the instrument set shared by the agents. A nil *Metrics is
// valid and records nothing, so tests can pass nil.
type Metrics struct {
	FramesReceived      *prometheus.CounterVec
	SamplesPublished    *prometheus.CounterVec
	BatchesPublished    *prometheus.CounterVec
	FramesDropped       *prometheus.CounterVec
	StreamOutages       *prometheus.CounterVec
	StreamReconfigures  *prometheus.CounterVec
	StreamActive        *prometheus.GaugeVec
	LockReacquireFailed *prometheus.CounterVec
}

// New builds the metric set and registers it with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcs_stream_frames_received_total",
			Help: "Datagram frames received from a device broadcast stream.",
		}, []string{"device"}),
		SamplesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcs_stream_samples_published_total",
			Help: "Full-rate samples published to the high-rate feed.",
		}, []string{"device"}),
		BatchesPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcs_stream_batches_published_total",
			Help: "Decimated one-second records published.",
		}, []string{"device"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcs_stream_frames_dropped_total",
			Help: "Frames dropped because the inbound queue was full.",
		}, []string{"device"}),
		StreamOutages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcs_stream_outages_total",
			Help: "Transitions of a broadcast stream into the outage state.",
		}, []string{"device"}),
		StreamReconfigures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcs_stream_reconfigures_total",
			Help: "Attempts to re-enable a dropped broadcast stream.",
		}, []string{"device"}),
		StreamActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pcs_stream_active",
			Help: "1 while the broadcast stream is delivering at its nominal rate.",
		}, []string{"device"}),
		LockReacquireFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pcs_lock_reacquire_failures_total",
			Help: "Acquisition loop cycles skipped because the sampling lock was lost to another job.",
		}, []string{"agent"}),
	}
	reg.MustRegister(
		m.FramesReceived, m.SamplesPublished, m.BatchesPublished,
		m.FramesDropped, m.StreamOutages, m.StreamReconfigures,
		m.StreamActive, m.LockReacquireFailed,
	)
	return m
}

// FrameReceived counts one inbound frame for device.
func (m *Metrics) FrameReceived(device string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(device).Inc()
}

// FrameDropped counts one frame lost to queue backpressure.
func (m *Metrics) FrameDropped(device string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(device).Inc()
}

// SamplePublished counts n full-rate samples for device.
func (m *Metrics) SamplePublished(device string, n int) {
	if m == nil {
		return
	}
	m.SamplesPublished.WithLabelValues(device).Add(float64(n))
}

// BatchPublished counts one decimated record for device.
func (m *Metrics) BatchPublished(device string) {
	if m == nil {
		return
	}
	m.BatchesPublished.WithLabelValues(device).Inc()
}

// Outage counts one active-to-outage transition for device.
func (m *Metrics) Outage(device string) {
	if m == nil {
		return
	}
	m.StreamOutages.WithLabelValues(device).Inc()
	m.StreamActive.WithLabelValues(device).Set(0)
}

// Reconfigure counts one stream re-enable attempt for device.
func (m *Metrics) Reconfigure(device string) {
	if m == nil {
		return
	}
	m.StreamReconfigures.WithLabelValues(device).Inc()
}

// Active records whether the stream for device is meeting its nominal rate.
func (m *Metrics) Active(device string, active bool) {
	if m == nil {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	m.StreamActive.WithLabelValues(device).Set(v)
}

// ReacquireFailed counts one skipped cycle for agent.
func (m *Metrics) ReacquireFailed(agent string) {
	if m == nil {
		return
	}
	m.LockReacquireFailed.WithLabelValues(agent).Inc()
}
