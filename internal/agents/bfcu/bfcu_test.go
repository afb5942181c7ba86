package bfcu

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/device/fake"
	"github.com/ccatobs/pcs/internal/feed"
)

func TestAcqPublishesPressuresAndFlow(t *testing.T) {
	comp := fake.NewCompressor()
	pub := feed.NewMemoryPublisher()
	a := New("bfcu", comp, pub, 5*time.Millisecond, zerolog.Nop())

	if ok, msg := a.Start("acq", nil); !ok {
		t.Fatalf("Start(acq) refused: %s", msg)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(pub.Records("flow")) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	a.Stop("acq")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Wait(ctx, "acq"); err != nil {
		t.Fatalf("acq did not stop: %v", err)
	}

	pressures := pub.Records("pressures")
	if len(pressures) < 6 {
		t.Fatalf("got %d pressure records, want at least one full poll", len(pressures))
	}
	seen := map[string]float64{}
	for _, rec := range pressures {
		seen[rec.BlockName] = rec.Data[rec.BlockName]
	}
	for _, block := range []string{"Pressure_1", "Pressure_2", "Pressure_3", "Pressure_4", "Pressure_5", "Pressure_6"} {
		if _, ok := seen[block]; !ok {
			t.Errorf("block %s never published", block)
		}
	}
	if seen["Pressure_1"] != 13.1 {
		t.Errorf("Pressure_1 = %v, want 13.1", seen["Pressure_1"])
	}

	flow := pub.Records("flow")
	if flow[0].Data["Flow"] != 0.82 {
		t.Errorf("Flow = %v, want 0.82", flow[0].Data["Flow"])
	}

	state, _ := a.Status("acq")
	if state.Status != "idle" || !state.Success {
		t.Errorf("final state = %+v", state)
	}
	if got := state.Data["Flow"]; got != 0.82 {
		t.Errorf("session Flow = %v", got)
	}
}

func TestSecondAcqRefused(t *testing.T) {
	a := New("bfcu", fake.NewCompressor(), feed.NewMemoryPublisher(), time.Millisecond, zerolog.Nop())
	if ok, msg := a.Start("acq", nil); !ok {
		t.Fatalf("Start(acq) refused: %s", msg)
	}
	defer func() {
		a.Stop("acq")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Wait(ctx, "acq")
	}()
	time.Sleep(10 * time.Millisecond)

	if ok, _ := a.Start("acq", nil); ok {
		t.Error("second acq accepted while the first is running")
	}
}
