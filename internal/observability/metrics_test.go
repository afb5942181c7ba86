package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersByDevice(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.FrameReceived("acu")
	m.FrameReceived("acu")
	m.FrameDropped("acu")
	m.SamplePublished("acu", 200)
	m.BatchPublished("acu")
	m.Outage("acu")
	m.Reconfigure("acu")
	m.ReacquireFailed("bftc")

	cases := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"frames received", m.FramesReceived.WithLabelValues("acu"), 2},
		{"frames dropped", m.FramesDropped.WithLabelValues("acu"), 1},
		{"samples published", m.SamplesPublished.WithLabelValues("acu"), 200},
		{"batches published", m.BatchesPublished.WithLabelValues("acu"), 1},
		{"outages", m.StreamOutages.WithLabelValues("acu"), 1},
		{"reconfigures", m.StreamReconfigures.WithLabelValues("acu"), 1},
		{"reacquire failures", m.LockReacquireFailed.WithLabelValues("bftc"), 1},
	}
	for _, tc := range cases {
		if got := testutil.ToFloat64(tc.c); got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestActiveGauge(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Active("acu", true)
	if got := testutil.ToFloat64(m.StreamActive.WithLabelValues("acu")); got != 1 {
		t.Fatalf("active = %v, want 1", got)
	}
	m.Active("acu", false)
	if got := testutil.ToFloat64(m.StreamActive.WithLabelValues("acu")); got != 0 {
		t.Fatalf("active = %v, want 0", got)
	}
}

// A nil Metrics must be safe to call; agents and the stream pipeline all
// accept nil when metrics are not wired.
func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	m.FrameReceived("acu")
	m.FrameDropped("acu")
	m.SamplePublished("acu", 1)
	m.BatchPublished("acu")
	m.Outage("acu")
	m.Reconfigure("acu")
	m.Active("acu", true)
	m.ReacquireFailed("acu")
}
