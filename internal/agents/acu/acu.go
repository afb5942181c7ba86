// Package acu implements the antenna control unit agent: the broadcast
// acquisition process over the 200 Hz UDP stream plus interactive motion
// tasks that share the azimuth/elevation axes through a non-blocking
// device lock.
package acu

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/agents"
	"github.com/ccatobs/pcs/internal/device"
	"github.com/ccatobs/pcs/internal/joblock"
	"github.com/ccatobs/pcs/internal/stream"
)

// Agent is the antenna control unit agent.
type Agent struct {
	*agent.Agent

	cmd     device.Commander
	monitor *stream.Monitor
	azel    *joblock.TimeoutLock
	log     zerolog.Logger
}

// New wires the agent. monitor may be nil for a command-only unit, in
// which case the broadcast process is not registered; likewise a nil cmd
// leaves the unit broadcast-only, with no motion tasks.
func New(name string, cmd device.Commander, monitor *stream.Monitor, log zerolog.Logger) *Agent {
	a := &Agent{
		Agent:   agent.New(name, log),
		cmd:     cmd,
		monitor: monitor,
		azel:    joblock.NewTimeoutLock(0),
		log:     log.With().Str("agent", name).Logger(),
	}

	if monitor != nil {
		a.Register("broadcast", agent.Process, a.broadcast)
	}
	if cmd != nil {
		a.Register("go_to", agent.Task, a.goTo)
		a.Register("az_scan", agent.Task, a.azScan)
		a.Register("fromfile_scan", agent.Task, a.fromfileScan)
		a.Register("stop", agent.Task, a.stopMotion)
	}
	return a
}

// broadcast runs the stream pipeline and mirrors its decimated snapshot
// into the session data once a second.
func (a *Agent) broadcast(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	s.SetStatus(agent.Running)
	s.Addf("starting broadcast acquisition")

	errCh := make(chan error, 1)
	go func() { errCh <- a.monitor.Run(ctx) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-errCh:
			if err != nil {
				return false, fmt.Sprintf("broadcast pipeline failed: %v", err)
			}
			return true, "broadcast acquisition stopped"
		case <-ticker.C:
			if snap := a.monitor.Snapshot(); snap != nil {
				data := make(map[string]any, len(snap))
				for k, v := range snap {
					data[k] = v
				}
				s.SetData(data)
			}
		}
	}
}

// withAxes runs fn holding the axes lock, refusing immediately when
// another motion command is in progress.
func (a *Agent) withAxes(job string, fn func() error) (bool, string) {
	var err error
	if !a.azel.WithLock(joblock.NoWait, job, func() { err = fn() }) {
		return false, fmt.Sprintf("axes busy (job: %s)", a.azel.Job())
	}
	if err != nil {
		return false, fmt.Sprintf("%s failed: %v", job, err)
	}
	return true, fmt.Sprintf("%s complete", job)
}

func (a *Agent) goTo(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	az, err := agents.Float(params, "az")
	if err != nil {
		return false, err.Error()
	}
	el, err := agents.Float(params, "el")
	if err != nil {
		return false, err.Error()
	}

	s.SetStatus(agent.Running)
	s.Addf("slewing to az=%.3f el=%.3f", az, el)
	return a.withAxes("go_to", func() error {
		return a.cmd.GoTo(ctx, az, el)
	})
}

func (a *Agent) azScan(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	start, err := agents.Float(params, "az_start")
	if err != nil {
		return false, err.Error()
	}
	end, err := agents.Float(params, "az_end")
	if err != nil {
		return false, err.Error()
	}
	el, err := agents.Float(params, "el")
	if err != nil {
		return false, err.Error()
	}
	speed, err := agents.FloatDefault(params, "speed", 1.0)
	if err != nil {
		return false, err.Error()
	}
	numScans, err := agents.IntDefault(params, "num_scans", 1)
	if err != nil {
		return false, err.Error()
	}

	s.SetStatus(agent.Running)
	s.Addf("scanning az %.3f..%.3f at el=%.3f, %d pass(es)", start, end, el, numScans)
	return a.withAxes("az_scan", func() error {
		return a.cmd.AzScan(ctx, device.ScanParams{
			AzimuthStart: start,
			AzimuthEnd:   end,
			Elevation:    el,
			Speed:        speed,
			NumScans:     numScans,
		})
	})
}

func (a *Agent) fromfileScan(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	path, err := agents.String(params, "path")
	if err != nil {
		return false, err.Error()
	}

	points, err := readTrack(path)
	if err != nil {
		return false, fmt.Sprintf("reading track %s: %v", path, err)
	}

	s.SetStatus(agent.Running)
	s.Addf("uploading %d-point track from %s", len(points), path)
	return a.withAxes("fromfile_scan", func() error {
		return a.cmd.UploadTrack(ctx, points)
	})
}

// stopMotion halts the axes without taking the lock, so it cuts through a
// motion command in progress.
func (a *Agent) stopMotion(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
	s.SetStatus(agent.Running)
	if err := a.cmd.Stop(ctx); err != nil {
		return false, fmt.Sprintf("stop failed: %v", err)
	}
	return true, "axes stopped"
}

// readTrack parses a trajectory file of whitespace-separated
// "time azimuth elevation" lines. Blank lines and # comments are skipped.
func readTrack(path string) ([]device.TrackPoint, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var points []device.TrackPoint
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		cols := strings.Fields(text)
		if len(cols) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 columns, got %d", line, len(cols))
		}
		var p device.TrackPoint
		if p.Time, err = strconv.ParseFloat(cols[0], 64); err != nil {
			return nil, fmt.Errorf("line %d: bad time %q", line, cols[0])
		}
		if p.Azimuth, err = strconv.ParseFloat(cols[1], 64); err != nil {
			return nil, fmt.Errorf("line %d: bad azimuth %q", line, cols[1])
		}
		if p.Elevation, err = strconv.ParseFloat(cols[2], 64); err != nil {
			return nil, fmt.Errorf("line %d: bad elevation %q", line, cols[2])
		}
		points = append(points, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no track points")
	}
	return points, nil
}
