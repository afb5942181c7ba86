// Package pdu implements the power distribution unit agent. An
// acquisition process polls outlet states on a slow cadence; switching
// tasks share the device through a short-timeout lock, honor per-outlet
// software locks, and force an immediate re-poll so the published state
// catches up with the change.
package pdu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/agents"
	"github.com/ccatobs/pcs/internal/device"
	"github.com/ccatobs/pcs/internal/feed"
	"github.com/ccatobs/pcs/internal/joblock"
)

const lockTimeout = 3 * time.Second

// Agent is the power distribution unit agent.
type Agent struct {
	*agent.Agent

	pdu        device.PDU
	pub        feed.Publisher
	pollPeriod time.Duration
	log        zerolog.Logger

	acqLock *joblock.TimeoutLock
	devLock *joblock.TimeoutLock

	mu     sync.Mutex
	locked map[int]bool
	kick   chan struct{}
}

// New wires the agent around a power distribution unit.
func New(name string, pdu device.PDU, pub feed.Publisher, pollPeriod time.Duration, log zerolog.Logger) *Agent {
	if pollPeriod <= 0 {
		pollPeriod = 10 * time.Second
	}
	a := &Agent{
		Agent:      agent.New(name, log),
		pdu:        pdu,
		pub:        pub,
		pollPeriod: pollPeriod,
		log:        log.With().Str("agent", name).Logger(),
		acqLock:    joblock.NewTimeoutLock(0),
		devLock:    joblock.NewTimeoutLock(lockTimeout),
		locked:     make(map[int]bool),
		kick:       make(chan struct{}, 1),
	}
	a.Register("acq", agent.Process, a.acq)
	a.Register("set_outlet", agent.Task, a.setOutlet)
	a.Register("cycle_outlet", agent.Task, a.cycleOutlet)
	a.Register("lock_outlet", agent.Task, a.lockOutlet)
	return a
}

// requestPoll asks the acq loop for an immediate re-poll. Coalesces when
// one is already queued.
func (a *Agent) requestPoll() {
	select {
	case a.kick <- struct{}{}:
	default:
	}
}

func (a *Agent) isLocked(outlet int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked[outlet]
}

func (a *Agent) acq(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	if !a.acqLock.Acquire(joblock.NoWait, "acq") {
		return false, fmt.Sprintf("could not start acq: already running %q", a.acqLock.Job())
	}
	defer a.acqLock.Release()

	s.SetStatus(agent.Running)
	s.Addf("outlet polling started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, "outlet polling stopped"
		case <-timer.C:
		case <-a.kick:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		a.poll(ctx, s)
		timer.Reset(a.pollPeriod)
	}
}

func (a *Agent) poll(ctx context.Context, s *agent.Session) {
	var states []device.OutletState
	var err error
	if !a.devLock.WithLock(joblock.UseDefault, "acq", func() {
		states, err = a.pdu.Outlets(ctx)
	}) {
		a.log.Warn().Str("holder", a.devLock.Job()).Msg("device busy, poll skipped")
		return
	}
	if err != nil {
		a.log.Warn().Err(err).Msg("outlet poll failed")
		return
	}

	now := float64(time.Now().UnixNano()) / 1e9
	data := make(map[string]float64, len(states))
	snap := make(map[string]any, len(states))
	for _, st := range states {
		field := fmt.Sprintf("Outlet_%d", st.Outlet)
		v := 0.0
		if st.On {
			v = 1.0
		}
		data[field] = v
		snap[field] = st.On
		snap[field+"_name"] = st.Name
		snap[field+"_locked"] = a.isLocked(st.Outlet)
	}

	rec := feed.Record{Timestamp: now, BlockName: "outlets", Data: data}
	if err := a.pub.Publish("pdu_outlets", rec); err != nil {
		a.log.Warn().Err(err).Msg("outlet publish failed")
	}
	snap["last_reading_time"] = now
	s.SetData(snap)
}

func (a *Agent) setOutlet(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	outlet, err := agents.Int(params, "outlet")
	if err != nil {
		return false, err.Error()
	}
	on, err := agents.Bool(params, "on")
	if err != nil {
		return false, err.Error()
	}
	if a.isLocked(outlet) {
		return false, fmt.Sprintf("outlet %d is locked", outlet)
	}

	s.SetStatus(agent.Running)

	var cmdErr error
	if !a.devLock.WithLock(joblock.UseDefault, "set_outlet", func() {
		cmdErr = a.pdu.SetOutlet(ctx, outlet, on)
	}) {
		return false, fmt.Sprintf("device busy (job: %s)", a.devLock.Job())
	}
	if cmdErr != nil {
		return false, fmt.Sprintf("set_outlet failed: %v", cmdErr)
	}

	a.requestPoll()
	state := "off"
	if on {
		state = "on"
	}
	return true, fmt.Sprintf("outlet %d switched %s", outlet, state)
}

func (a *Agent) cycleOutlet(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	outlet, err := agents.Int(params, "outlet")
	if err != nil {
		return false, err.Error()
	}
	if a.isLocked(outlet) {
		return false, fmt.Sprintf("outlet %d is locked", outlet)
	}

	s.SetStatus(agent.Running)

	var cmdErr error
	if !a.devLock.WithLock(joblock.UseDefault, "cycle_outlet", func() {
		cmdErr = a.pdu.CycleOutlet(ctx, outlet)
	}) {
		return false, fmt.Sprintf("device busy (job: %s)", a.devLock.Job())
	}
	if cmdErr != nil {
		return false, fmt.Sprintf("cycle_outlet failed: %v", cmdErr)
	}

	a.requestPoll()
	return true, fmt.Sprintf("outlet %d cycled", outlet)
}

// lockOutlet flips the software lock that protects an outlet from
// switching. It touches no hardware.
func (a *Agent) lockOutlet(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	outlet, err := agents.Int(params, "outlet")
	if err != nil {
		return false, err.Error()
	}
	lock, err := agents.Bool(params, "lock")
	if err != nil {
		return false, err.Error()
	}

	s.SetStatus(agent.Running)
	a.mu.Lock()
	a.locked[outlet] = lock
	a.mu.Unlock()

	verb := "unlocked"
	if lock {
		verb = "locked"
	}
	return true, fmt.Sprintf("outlet %d %s", outlet, verb)
}
