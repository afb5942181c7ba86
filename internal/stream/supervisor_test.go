package stream

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/observability"
)

type fakeListener struct {
	closed bool
}

func (f *fakeListener) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	listeners []*fakeListener
	opens     int
	fail      bool
}

func (f *fakeOpener) open(sink chan<- Frame) (io.Closer, error) {
	f.opens++
	if f.fail {
		return nil, errors.New("address in use")
	}
	l := &fakeListener{}
	f.listeners = append(f.listeners, l)
	return l, nil
}

func newTestSupervisor(t *testing.T, opener *fakeOpener, m *observability.Metrics) *Supervisor {
	t.Helper()
	cfg := SupervisorConfig{
		Device:           "acu",
		AutoEnable:       true,
		OutageAfter:      3 * time.Second,
		ReconfigureEvery: time.Minute,
	}
	return NewSupervisor(cfg, opener.open, zerolog.Nop(), m)
}

func TestSupervisorOutageTransitionsOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.New(reg)
	opener := &fakeOpener{}
	s := newTestSupervisor(t, opener, metrics)

	t0 := time.Unix(1700000000, 0)
	if err := s.Start(t0); err != nil {
		t.Fatal(err)
	}
	if !s.Active() {
		t.Fatal("supervisor not active after Start")
	}

	// Within the outage window nothing happens.
	s.CheckOutage(t0.Add(2 * time.Second))
	if !s.Active() {
		t.Fatal("outage declared before threshold")
	}

	// Past the threshold: one transition, one immediate re-enable.
	s.CheckOutage(t0.Add(4 * time.Second))
	if s.Active() {
		t.Fatal("still active past outage threshold")
	}
	if got := testutil.ToFloat64(metrics.StreamOutages.WithLabelValues("acu")); got != 1 {
		t.Errorf("outage count = %v, want 1", got)
	}
	if len(opener.listeners) != 2 {
		t.Fatalf("got %d listeners, want 2 (initial + re-enable)", len(opener.listeners))
	}
	if !opener.listeners[0].closed {
		t.Error("replaced listener was not closed")
	}

	// Further starved cycles do not re-count the outage or re-enable early.
	s.CheckOutage(t0.Add(10 * time.Second))
	s.CheckOutage(t0.Add(30 * time.Second))
	if got := testutil.ToFloat64(metrics.StreamOutages.WithLabelValues("acu")); got != 1 {
		t.Errorf("outage count after repeat polls = %v, want 1", got)
	}
	if len(opener.listeners) != 2 {
		t.Errorf("got %d listeners, want still 2", len(opener.listeners))
	}

	// After the reconfigure interval, one more attempt.
	s.CheckOutage(t0.Add(65 * time.Second))
	if len(opener.listeners) != 3 {
		t.Errorf("got %d listeners, want 3", len(opener.listeners))
	}
}

func TestSupervisorRecoveryAndSchedule(t *testing.T) {
	opener := &fakeOpener{}
	s := newTestSupervisor(t, opener, nil)

	t0 := time.Unix(1700000000, 0)
	if err := s.Start(t0); err != nil {
		t.Fatal(err)
	}
	s.CheckOutage(t0.Add(4 * time.Second))
	if s.Active() {
		t.Fatal("expected outage")
	}

	// A full batch flips the stream back to active.
	s.BatchReady(t0.Add(5 * time.Second))
	if !s.Active() {
		t.Fatal("not active after BatchReady")
	}

	// Active streams never reconfigure.
	s.CheckOutage(t0.Add(70 * time.Second))
	if len(opener.listeners) != 3 {
		// initial + re-enable at outage + new outage at 70s (>3s since
		// the BatchReady at 5s) which re-enables immediately.
		t.Fatalf("got %d listeners, want 3", len(opener.listeners))
	}
}

// The reconfigure schedule advances even when re-opening fails, so a dead
// endpoint is retried at the rate limit, not in a tight loop.
func TestSupervisorReconfigureFailureStillAdvances(t *testing.T) {
	opener := &fakeOpener{}
	s := newTestSupervisor(t, opener, nil)

	t0 := time.Unix(1700000000, 0)
	if err := s.Start(t0); err != nil {
		t.Fatal(err)
	}

	opener.fail = true
	s.CheckOutage(t0.Add(4 * time.Second))
	if s.Active() {
		t.Fatal("expected outage")
	}
	if opener.opens != 2 {
		t.Fatalf("got %d open attempts, want 2 (initial + failed re-enable)", opener.opens)
	}

	// Still rate-limited despite the failure.
	s.CheckOutage(t0.Add(10 * time.Second))
	if opener.opens != 2 {
		t.Error("retry happened before the reconfigure interval")
	}
	s.CheckOutage(t0.Add(4*time.Second + time.Minute))
	if opener.opens != 3 {
		t.Errorf("got %d open attempts, want 3", opener.opens)
	}
}

func TestSupervisorStartFailure(t *testing.T) {
	opener := &fakeOpener{fail: true}
	s := newTestSupervisor(t, opener, nil)
	if err := s.Start(time.Now()); err == nil {
		t.Fatal("Start succeeded with failing opener")
	}
}
