package stream

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/feed"
	"github.com/ccatobs/pcs/internal/observability"
)

// MonitorConfig wires a broadcast monitor to its feeds.
type MonitorConfig struct {
	// Device labels logs and metrics.
	Device string

	// BatchSize is the number of samples consumed per decimation window,
	// nominally one second of data.
	BatchSize int

	// PollInterval is the cadence of the acquisition loop.
	PollInterval time.Duration

	// Feed and block names for the full-rate and decimated outputs.
	FullRateFeed   string
	FullRateBlock  string
	DecimatedFeed  string
	DecimatedBlock string
}

func (c *MonitorConfig) setDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Millisecond
	}
}

// Monitor is the acquisition loop for one broadcast stream. It drains
// frames from a Supervisor, decodes them against a Layout, reconciles the
// device clock, publishes every sample to the full-rate feed, and publishes
// one mean record per batch to the decimated feed. The latest decimated
// means are kept as a queryable snapshot.
//
// The monitor owns all pipeline state; only Snapshot is safe to call from
// other goroutines.
type Monitor struct {
	cfg     MonitorConfig
	layout  *Layout
	sup     *Supervisor
	pub     feed.Publisher
	log     zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time

	pending []Sample
	rest    []byte

	mu       sync.RWMutex
	snapshot map[string]float64
}

// NewMonitor creates a monitor over sup's frames, publishing via pub.
func NewMonitor(cfg MonitorConfig, layout *Layout, sup *Supervisor, pub feed.Publisher, log zerolog.Logger, metrics *observability.Metrics) *Monitor {
	cfg.setDefaults()
	return &Monitor{
		cfg:     cfg,
		layout:  layout,
		sup:     sup,
		pub:     pub,
		log:     log.With().Str("device", cfg.Device).Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// Run drives the pipeline until ctx is cancelled. Cancellation is observed
// at cycle boundaries; the supervisor's listener is closed on every exit
// path.
func (m *Monitor) Run(ctx context.Context) error {
	// The first two layout fields are the time sources every sample is
	// reconciled from; refuse to start without them rather than index out
	// of a decoded sample later.
	if fields := m.layout.Fields(); len(fields) < 3 {
		return fmt.Errorf("stream %s: layout declares %d fields, need at least 3 (day, time of day, data)",
			m.cfg.Device, len(fields))
	}
	if err := m.sup.Start(m.now()); err != nil {
		return err
	}
	defer m.sup.Stop()

	m.log.Info().Msg("listening for broadcast frames")

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("broadcast acquisition stopped")
			return nil
		case <-ticker.C:
		}
		m.drain()
		m.cycle(m.now())
	}
}

// drain moves every queued frame through the decoder. A partial trailing
// frame is carried over to the next datagram.
func (m *Monitor) drain() {
	for {
		select {
		case f := <-m.sup.Frames():
			buf := f.Data
			if len(m.rest) > 0 {
				buf = append(m.rest, f.Data...)
			}
			samples, rest := m.layout.Decode(buf, f.Recv)
			m.rest = rest
			m.pending = append(m.pending, samples...)
		default:
			return
		}
	}
}

// cycle processes at most one batch, or runs outage detection when no batch
// is ready.
func (m *Monitor) cycle(now time.Time) {
	if len(m.pending) < m.cfg.BatchSize {
		m.sup.CheckOutage(now)
		return
	}
	m.sup.BatchReady(now)

	batch := m.pending[:m.cfg.BatchSize]
	m.pending = append(m.pending[:0:0], m.pending[m.cfg.BatchSize:]...)
	m.publishBatch(batch, now)
}

func (m *Monitor) publishBatch(batch []Sample, now time.Time) {
	fields := m.layout.Fields()
	agg := newAccumulator()

	// Best clock offset across the batch, for latency diagnostics only.
	bestDt := math.Inf(1)

	for _, s := range batch {
		ts := Timecode(s.Values[0]+s.Values[1]/SecondsPerDay, now)
		if dt := s.RecvTime - ts; math.Abs(dt) < math.Abs(bestDt) {
			bestDt = dt
		}

		data := make(map[string]float64, len(fields)-1)
		data["Time"] = ts
		agg.Add("Time", ts)
		for i := 2; i < len(fields) && i < len(s.Values); i++ {
			name := strings.ReplaceAll(fields[i], " ", "_")
			data[name] = s.Values[i]
			agg.Add(name, s.Values[i])
		}

		rec := feed.Record{Timestamp: ts, BlockName: m.cfg.FullRateBlock, Data: data}
		if err := m.pub.Publish(m.cfg.FullRateFeed, rec); err != nil {
			m.log.Warn().Err(err).Msg("full-rate publish failed")
		}
	}
	m.metrics.SamplePublished(m.cfg.Device, len(batch))

	means := agg.Means()
	rec := feed.Record{Timestamp: means["Time"], BlockName: m.cfg.DecimatedBlock, Data: means}
	if err := m.pub.Publish(m.cfg.DecimatedFeed, rec); err != nil {
		m.log.Warn().Err(err).Msg("decimated publish failed")
	}
	m.metrics.BatchPublished(m.cfg.Device)

	m.mu.Lock()
	m.snapshot = means
	m.mu.Unlock()

	m.log.Debug().Float64("clock_offset", bestDt).Int("pending", len(m.pending)).Msg("batch published")
}

// Snapshot returns the most recent decimated means, or nil before the first
// batch.
func (m *Monitor) Snapshot() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.snapshot == nil {
		return nil
	}
	out := make(map[string]float64, len(m.snapshot))
	for k, v := range m.snapshot {
		out[k] = v
	}
	return out
}
