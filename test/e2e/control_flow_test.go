package e2e

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/audit"
	"github.com/ccatobs/pcs/internal/auth"
)

func TestFullControlFlow(t *testing.T) {
	st := newStack(t)
	viewer := st.token(t, "observer", auth.RoleViewer)
	ctrl := st.token(t, "operator", auth.RoleController)

	// Health needs no token.
	code, envelope := st.request(t, http.MethodGet, "/api/v1/health", "", nil)
	if code != http.StatusOK || envelope.Result != "ok" {
		t.Fatalf("health: %d %+v", code, envelope)
	}

	// Listing does.
	code, _ = st.request(t, http.MethodGet, "/api/v1/agents", "", nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated list: %d, want 401", code)
	}
	code, envelope = st.request(t, http.MethodGet, "/api/v1/agents", viewer, nil)
	if code != http.StatusOK {
		t.Fatalf("viewer list: %d", code)
	}
	listing, _ := envelope.Data.(map[string]any)
	for _, name := range []string{"acu", "bfcu", "bftc", "pdu"} {
		if _, ok := listing[name]; !ok {
			t.Errorf("agent %s missing from listing: %v", name, listing)
		}
	}

	// Temperature acquisition: start, wait for readings, command a
	// setpoint mid-run, stop.
	code, _ = st.request(t, http.MethodPost, "/api/v1/agents/bftc/ops/acq/start", ctrl, nil)
	if code != http.StatusOK {
		t.Fatalf("bftc acq start: %d", code)
	}
	data := st.waitForData(t, viewer, "bftc", "acq", func(d map[string]any) bool {
		_, ok := d["Channel_01_T"]
		return ok
	})
	if temp, _ := data["Channel_01_T"].(float64); temp != 4.0 {
		t.Errorf("Channel_01_T = %v, want 4", data["Channel_01_T"])
	}

	code, _ = st.request(t, http.MethodPost, "/api/v1/agents/bftc/ops/set_setpoint/start", ctrl,
		map[string]any{"channel": 5, "setpoint": 0.1})
	if code != http.StatusOK {
		t.Fatalf("set_setpoint start: %d", code)
	}
	st.waitForStatus(t, "bftc", "set_setpoint", "idle")
	if got := st.tc.Setpoint(5); got != 0.1 {
		t.Errorf("setpoint = %v, want 0.1", got)
	}
	if state, _ := mustAgent(t, st, "bftc").Status("acq"); state.Status != "running" {
		t.Errorf("acq interrupted by setpoint task: %s", state.Status)
	}

	// Outlet switching is reflected in the published state.
	code, _ = st.request(t, http.MethodPost, "/api/v1/agents/pdu/ops/acq/start", ctrl, nil)
	if code != http.StatusOK {
		t.Fatalf("pdu acq start: %d", code)
	}
	st.waitForData(t, viewer, "pdu", "acq", func(d map[string]any) bool {
		on, ok := d["Outlet_2"].(bool)
		return ok && on
	})
	code, _ = st.request(t, http.MethodPost, "/api/v1/agents/pdu/ops/set_outlet/start", ctrl,
		map[string]any{"outlet": 2, "on": false})
	if code != http.StatusOK {
		t.Fatalf("set_outlet start: %d", code)
	}
	st.waitForData(t, viewer, "pdu", "acq", func(d map[string]any) bool {
		on, ok := d["Outlet_2"].(bool)
		return ok && !on
	})

	// Telescope motion.
	code, _ = st.request(t, http.MethodPost, "/api/v1/agents/acu/ops/go_to/start", ctrl,
		map[string]any{"az": 90.0, "el": 45.0})
	if code != http.StatusOK {
		t.Fatalf("go_to start: %d", code)
	}
	st.waitForStatus(t, "acu", "go_to", "idle")
	if az, el := st.acuDev.Position(); az != 90 || el != 45 {
		t.Errorf("position = (%v, %v), want (90, 45)", az, el)
	}

	// Stop the processes through the API.
	for _, target := range []string{"bftc/ops/acq", "pdu/ops/acq"} {
		code, _ = st.request(t, http.MethodPost, "/api/v1/agents/"+target+"/stop", ctrl, nil)
		if code != http.StatusOK {
			t.Fatalf("stop %s: %d", target, code)
		}
	}
	st.waitForStatus(t, "bftc", "acq", "idle")
	st.waitForStatus(t, "pdu", "acq", "idle")

	// The feed backend saw per-channel temperature blocks.
	if recs := st.pub.Records("temperatures"); len(recs) == 0 {
		t.Error("no temperature records published")
	}

	// Every control action landed in the audit trail under the token
	// subject.
	lines := strings.Split(strings.TrimSpace(st.audit.String()), "\n")
	if len(lines) < 6 {
		t.Fatalf("got %d audit lines, want at least 6", len(lines))
	}
	for _, line := range lines {
		var entry audit.Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad audit line %q: %v", line, err)
		}
		if entry.User != "operator" {
			t.Errorf("audit user = %q, want operator", entry.User)
		}
	}
}

func TestAPIRejections(t *testing.T) {
	st := newStack(t)
	viewer := st.token(t, "observer", auth.RoleViewer)
	ctrl := st.token(t, "operator", auth.RoleController)

	// Viewers cannot command.
	code, envelope := st.request(t, http.MethodPost, "/api/v1/agents/acu/ops/stop/start", viewer, nil)
	if code != http.StatusForbidden || envelope.Code != "FORBIDDEN" {
		t.Errorf("viewer start: %d %q", code, envelope.Code)
	}

	// Unknown targets.
	code, envelope = st.request(t, http.MethodGet, "/api/v1/agents/nope/ops/acq", viewer, nil)
	if code != http.StatusNotFound || envelope.Code != "NOT_FOUND" {
		t.Errorf("unknown agent: %d %q", code, envelope.Code)
	}
	code, envelope = st.request(t, http.MethodGet, "/api/v1/agents/acu/ops/warp", viewer, nil)
	if code != http.StatusNotFound || envelope.Code != "NOT_FOUND" {
		t.Errorf("unknown op: %d %q", code, envelope.Code)
	}

	// Double start of a process conflicts.
	code, _ = st.request(t, http.MethodPost, "/api/v1/agents/bfcu/ops/acq/start", ctrl, nil)
	if code != http.StatusOK {
		t.Fatalf("bfcu acq start: %d", code)
	}
	st.waitForStatus(t, "bfcu", "acq", "running")
	code, envelope = st.request(t, http.MethodPost, "/api/v1/agents/bfcu/ops/acq/start", ctrl, nil)
	if code != http.StatusConflict || envelope.Code != "BUSY" {
		t.Errorf("double start: %d %q", code, envelope.Code)
	}

	// Stopping an idle operation conflicts.
	code, envelope = st.request(t, http.MethodPost, "/api/v1/agents/acu/ops/go_to/stop", ctrl, nil)
	if code != http.StatusConflict || envelope.Code != "NOT_RUNNING" {
		t.Errorf("stop idle: %d %q", code, envelope.Code)
	}

	// Malformed JSON bodies are rejected before the agent sees them.
	req, err := http.NewRequest(http.MethodPost, st.server.URL+"/api/v1/agents/acu/ops/go_to/start",
		strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+ctrl)
	resp, err := st.server.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body: %d, want 400", resp.StatusCode)
	}
}

func mustAgent(t *testing.T, st *stack, name string) *agent.Agent {
	t.Helper()
	a, ok := st.registry.Get(name)
	if !ok {
		t.Fatalf("agent %s not registered", name)
	}
	return a
}
