package stream

import (
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/observability"
)

// Frame is one raw datagram plus its wall-clock receipt time. Frames are
// ephemeral; the decoder consumes them immediately.
type Frame struct {
	Data []byte
	Recv time.Time
}

// Opener establishes an inbound frame source that pushes frames into sink
// until the returned handle is closed.
type Opener func(sink chan<- Frame) (io.Closer, error)

// SupervisorConfig tunes outage detection and automatic stream re-enable.
type SupervisorConfig struct {
	// Device labels log lines and metrics.
	Device string

	// AutoEnable re-opens the frame source when the stream drops out.
	AutoEnable bool

	// OutageAfter is how long without a ready batch before the stream is
	// declared down.
	OutageAfter time.Duration

	// ReconfigureEvery rate-limits re-enable attempts.
	ReconfigureEvery time.Duration

	// QueueSize bounds the inbound frame queue.
	QueueSize int
}

func (c *SupervisorConfig) setDefaults() {
	if c.OutageAfter <= 0 {
		c.OutageAfter = 3 * time.Second
	}
	if c.ReconfigureEvery <= 0 {
		c.ReconfigureEvery = time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
}

// Supervisor owns the frame source for one broadcast stream: it detects
// loss of inbound frames, flags the outage once, and re-enables the stream
// on a rate-limited schedule. All state is mutated only by the acquisition
// loop that drives it.
type Supervisor struct {
	cfg     SupervisorConfig
	open    Opener
	log     zerolog.Logger
	metrics *observability.Metrics

	frames chan Frame
	src    io.Closer

	active          bool
	lastFrame       time.Time
	nextReconfigure time.Time
}

// NewSupervisor creates a supervisor for the stream produced by open.
func NewSupervisor(cfg SupervisorConfig, open Opener, log zerolog.Logger, metrics *observability.Metrics) *Supervisor {
	cfg.setDefaults()
	return &Supervisor{
		cfg:     cfg,
		open:    open,
		log:     log.With().Str("device", cfg.Device).Logger(),
		metrics: metrics,
		frames:  make(chan Frame, cfg.QueueSize),
	}
}

// Start opens the initial frame source. The stream starts in the active
// state so that an immediately-dead stream is reported as an outage.
func (s *Supervisor) Start(now time.Time) error {
	src, err := s.open(s.frames)
	if err != nil {
		return err
	}
	s.src = src
	s.active = true
	s.lastFrame = now
	s.metrics.Active(s.cfg.Device, true)
	return nil
}

// Frames returns the inbound frame queue. The queue survives re-enables, so
// frames received by a replaced listener are still delivered.
func (s *Supervisor) Frames() <-chan Frame { return s.frames }

// Active reports whether the stream is currently meeting its nominal rate.
func (s *Supervisor) Active() bool { return s.active }

// BatchReady records that a full batch of samples arrived. A recovery from
// an outage is logged once.
func (s *Supervisor) BatchReady(now time.Time) {
	if !s.active {
		s.log.Info().Msg("broadcast frames are being received")
		s.metrics.Active(s.cfg.Device, true)
	}
	s.active = true
	s.lastFrame = now
}

// CheckOutage runs the outage state machine for a cycle that did not see a
// full batch. The inactive transition happens exactly once per outage; while
// inactive, re-enable attempts are made no more often than ReconfigureEvery,
// and the schedule advances whether or not the attempt succeeds.
func (s *Supervisor) CheckOutage(now time.Time) {
	if s.active && now.Sub(s.lastFrame) > s.cfg.OutageAfter {
		s.log.Warn().Msg("no broadcast frames are being received")
		s.active = false
		s.nextReconfigure = now
		s.metrics.Outage(s.cfg.Device)
	}
	if !s.active && s.cfg.AutoEnable && !now.Before(s.nextReconfigure) {
		s.log.Info().Msg("requesting broadcast stream enable")
		s.metrics.Reconfigure(s.cfg.Device)
		if err := s.reopen(); err != nil {
			s.log.Warn().Err(err).Msg("broadcast stream enable failed")
		}
		s.nextReconfigure = s.nextReconfigure.Add(s.cfg.ReconfigureEvery)
	}
}

// reopen replaces the frame source. The old listener is closed, not reused;
// anything it already queued stays in the frame channel for the consumer.
func (s *Supervisor) reopen() error {
	src, err := s.open(s.frames)
	if err != nil {
		return err
	}
	old := s.src
	s.src = src
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Stop closes the current frame source.
func (s *Supervisor) Stop() {
	if s.src != nil {
		_ = s.src.Close()
		s.src = nil
	}
}
