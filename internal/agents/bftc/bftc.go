// Package bftc implements the cryostat temperature controller agent. A
// continuous acquisition process polls the controller at 2 Hz while
// heater tasks cut in through the yielding device lock, so setpoint
// changes never wait behind a full acquisition cycle.
package bftc

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/agents"
	"github.com/ccatobs/pcs/internal/device"
	"github.com/ccatobs/pcs/internal/feed"
	"github.com/ccatobs/pcs/internal/joblock"
	"github.com/ccatobs/pcs/internal/observability"
)

// Timing collects the lock and poll cadences the agent runs with.
type Timing struct {
	// DefaultLockTimeout bounds task acquisition of the device lock.
	DefaultLockTimeout time.Duration

	// YieldInterval is how long acq holds the lock before offering it up.
	YieldInterval time.Duration

	// ReacquireTimeout bounds acq's wait to get the lock back.
	ReacquireTimeout time.Duration

	// PollPeriod is the measurement cadence.
	PollPeriod time.Duration
}

func (t *Timing) setDefaults() {
	if t.DefaultLockTimeout <= 0 {
		t.DefaultLockTimeout = 5 * time.Second
	}
	if t.YieldInterval <= 0 {
		t.YieldInterval = time.Second
	}
	if t.ReacquireTimeout <= 0 {
		t.ReacquireTimeout = 10 * time.Second
	}
	if t.PollPeriod <= 0 {
		t.PollPeriod = 500 * time.Millisecond
	}
}

// Agent is the temperature controller agent.
type Agent struct {
	*agent.Agent

	tc      device.TempController
	pub     feed.Publisher
	timing  Timing
	log     zerolog.Logger
	metrics *observability.Metrics

	// acqLock serializes acquisition-class operations (init, acq);
	// devLock arbitrates actual device access and is the one that yields.
	acqLock *joblock.TimeoutLock
	devLock *joblock.YieldingLock

	feedName string
}

// New wires the agent around a temperature controller.
func New(name string, tc device.TempController, pub feed.Publisher, timing Timing, log zerolog.Logger, metrics *observability.Metrics) *Agent {
	timing.setDefaults()
	a := &Agent{
		Agent:    agent.New(name, log),
		tc:       tc,
		pub:      pub,
		timing:   timing,
		log:      log.With().Str("agent", name).Logger(),
		metrics:  metrics,
		acqLock:  joblock.NewTimeoutLock(0),
		devLock:  joblock.NewYieldingLock(timing.DefaultLockTimeout),
		feedName: "temperatures",
	}

	a.Register("init", agent.Task, a.init)
	a.Register("acq", agent.Process, a.acq)
	a.Register("set_setpoint", agent.Task, a.setSetpoint)
	a.Register("set_heater_range", agent.Task, a.setHeaterRange)
	return a
}

// init queries the controller and records its enabled channels. It is an
// acquisition-class operation: it refuses to run while acq holds the
// device.
func (a *Agent) init(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	if !a.acqLock.Acquire(joblock.NoWait, "init") {
		return false, fmt.Sprintf("could not start init: already running %q", a.acqLock.Job())
	}
	defer a.acqLock.Release()

	s.SetStatus(agent.Running)

	var channels []int
	var err error
	if !a.devLock.WithLock(joblock.UseDefault, "init", func() {
		channels, err = a.tc.Channels(ctx)
	}) {
		return false, fmt.Sprintf("could not acquire device lock (held by %q)", a.devLock.Job())
	}
	if err != nil {
		return false, fmt.Sprintf("probing channels: %v", err)
	}

	s.Addf("controller reports %d channels", len(channels))
	s.SetData(map[string]any{"channels": channels})
	return true, fmt.Sprintf("initialized with %d channels", len(channels))
}

// acq is the continuous acquisition loop. It polls the latest measurement,
// dedupes on the device timestamp, and publishes one block per channel.
// The device lock is offered to waiting tasks at the yield interval; a
// failed reacquire skips cycles until the lock comes back.
func (a *Agent) acq(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	if !a.acqLock.Acquire(joblock.NoWait, "acq") {
		return false, fmt.Sprintf("could not start acq: already running %q", a.acqLock.Job())
	}
	defer a.acqLock.Release()

	if !a.devLock.Acquire(joblock.UseDefault, "acq") {
		return false, fmt.Sprintf("could not acquire device lock (held by %q)", a.devLock.Job())
	}
	held := true
	defer func() {
		if held {
			a.devLock.Release()
		}
	}()

	s.SetStatus(agent.Running)
	s.Addf("acquisition started")

	latest := make(map[string]any)
	var lastTime float64
	lastYield := time.Now()

	ticker := time.NewTicker(a.timing.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, "acquisition stopped"
		case <-ticker.C:
		}

		if !held {
			held = a.devLock.Acquire(a.timing.ReacquireTimeout, "acq")
			if !held {
				continue
			}
			a.log.Debug().Msg("device lock reacquired")
		}

		if time.Since(lastYield) > a.timing.YieldInterval {
			if !a.devLock.ReleaseAndAcquire(a.timing.ReacquireTimeout) {
				held = false
				a.metrics.ReacquireFailed(a.Name())
				a.log.Warn().Str("holder", a.devLock.Job()).Msg("device lock lost on yield, skipping cycle")
				continue
			}
			lastYield = time.Now()
		}

		m, err := a.tc.LatestMeasurement(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("measurement poll failed")
			continue
		}
		// The controller multiplexes channels; an unchanged timestamp
		// means no new reading yet.
		if m.Time == lastTime {
			continue
		}
		lastTime = m.Time

		block := fmt.Sprintf("Channel_%02d", m.Channel)
		rec := feed.Record{
			Timestamp: m.Time,
			BlockName: block,
			Data: map[string]float64{
				block + "_T": m.Temperature,
				block + "_R": m.Resistance,
			},
		}
		if err := a.pub.Publish(a.feedName, rec); err != nil {
			a.log.Warn().Err(err).Msg("publish failed")
		}

		latest[block+"_T"] = m.Temperature
		latest[block+"_R"] = m.Resistance
		latest["last_reading_time"] = m.Time
		snap := make(map[string]any, len(latest))
		for k, v := range latest {
			snap[k] = v
		}
		s.SetData(snap)
	}
}

// setSetpoint changes a heater regulation target. It cuts in through the
// yielding lock so it runs within one acquisition cycle.
func (a *Agent) setSetpoint(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	channel, err := agents.Int(params, "channel")
	if err != nil {
		return false, err.Error()
	}
	kelvin, err := agents.Float(params, "setpoint")
	if err != nil {
		return false, err.Error()
	}

	s.SetStatus(agent.Running)

	var cmdErr error
	if !a.devLock.WithLock(joblock.UseDefault, "set_setpoint", func() {
		cmdErr = a.tc.SetSetpoint(ctx, channel, kelvin)
	}) {
		return false, fmt.Sprintf("could not acquire device lock (held by %q)", a.devLock.Job())
	}
	if cmdErr != nil {
		return false, fmt.Sprintf("set_setpoint failed: %v", cmdErr)
	}
	return true, fmt.Sprintf("setpoint on channel %d set to %g K", channel, kelvin)
}

// setHeaterRange changes a heater output range, same lock protocol as
// setSetpoint.
func (a *Agent) setHeaterRange(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	channel, err := agents.Int(params, "channel")
	if err != nil {
		return false, err.Error()
	}
	amps, err := agents.Float(params, "range")
	if err != nil {
		return false, err.Error()
	}

	s.SetStatus(agent.Running)

	var cmdErr error
	if !a.devLock.WithLock(joblock.UseDefault, "set_heater_range", func() {
		cmdErr = a.tc.SetHeaterRange(ctx, channel, amps)
	}) {
		return false, fmt.Sprintf("could not acquire device lock (held by %q)", a.devLock.Job())
	}
	if cmdErr != nil {
		return false, fmt.Sprintf("set_heater_range failed: %v", cmdErr)
	}
	return true, fmt.Sprintf("heater range on channel %d set to %g A", channel, amps)
}
