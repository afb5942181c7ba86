// Package bfcu implements the compressor control unit agent: a single
// acquisition process that polls six pressure channels plus the helium
// flow meter and publishes one block per channel.
package bfcu

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/device"
	"github.com/ccatobs/pcs/internal/feed"
	"github.com/ccatobs/pcs/internal/joblock"
)

// Agent is the compressor control unit agent.
type Agent struct {
	*agent.Agent

	comp       device.Compressor
	pub        feed.Publisher
	pollPeriod time.Duration
	log        zerolog.Logger

	acqLock *joblock.TimeoutLock
}

// New wires the agent around a compressor control unit.
func New(name string, comp device.Compressor, pub feed.Publisher, pollPeriod time.Duration, log zerolog.Logger) *Agent {
	if pollPeriod <= 0 {
		pollPeriod = time.Second
	}
	a := &Agent{
		Agent:      agent.New(name, log),
		comp:       comp,
		pub:        pub,
		pollPeriod: pollPeriod,
		log:        log.With().Str("agent", name).Logger(),
		acqLock:    joblock.NewTimeoutLock(0),
	}
	a.Register("acq", agent.Process, a.acq)
	return a
}

func (a *Agent) acq(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	if !a.acqLock.Acquire(joblock.NoWait, "acq") {
		return false, fmt.Sprintf("could not start acq: already running %q", a.acqLock.Job())
	}
	defer a.acqLock.Release()

	s.SetStatus(agent.Running)
	s.Addf("acquisition started")

	ticker := time.NewTicker(a.pollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, "acquisition stopped"
		case <-ticker.C:
		}

		r, err := a.comp.Readings(ctx)
		if err != nil {
			a.log.Warn().Err(err).Msg("compressor poll failed")
			continue
		}

		data := make(map[string]any, len(r.Pressures)+2)
		for i, p := range r.Pressures {
			block := fmt.Sprintf("Pressure_%d", i+1)
			rec := feed.Record{
				Timestamp: r.Time,
				BlockName: block,
				Data:      map[string]float64{block: p},
			}
			if err := a.pub.Publish("pressures", rec); err != nil {
				a.log.Warn().Err(err).Msg("pressure publish failed")
			}
			data[block] = p
		}

		flowRec := feed.Record{
			Timestamp: r.Time,
			BlockName: "Flow",
			Data:      map[string]float64{"Flow": r.Flow},
		}
		if err := a.pub.Publish("flow", flowRec); err != nil {
			a.log.Warn().Err(err).Msg("flow publish failed")
		}
		data["Flow"] = r.Flow
		data["last_reading_time"] = r.Time
		s.SetData(data)
	}
}
