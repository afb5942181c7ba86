package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/audit"
	"github.com/ccatobs/pcs/internal/auth"
	"github.com/ccatobs/pcs/internal/observability"
)

const testSecret = "test-secret"

func testServer(t *testing.T, auditBuf *bytes.Buffer) (*Server, *agent.Agent) {
	t.Helper()

	a := agent.New("bftc", zerolog.Nop())
	a.Register("acq", agent.Process, func(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
		s.SetStatus(agent.Running)
		s.SetData(map[string]any{"Channel_01_T": 3.9})
		<-ctx.Done()
		return true, "stopped"
	})
	a.Register("set_setpoint", agent.Task, func(ctx context.Context, s *agent.Session, params map[string]any) (bool, string) {
		s.SetStatus(agent.Running)
		return true, "done"
	})

	reg := agent.NewRegistry()
	reg.Add(a)

	var auditLog *audit.Logger
	if auditBuf != nil {
		auditLog = audit.NewWithWriter(auditBuf)
	}

	promReg := prometheus.NewRegistry()
	observability.New(promReg)

	mw := auth.NewMiddleware(auth.NewVerifier(testSecret))
	return NewServer(reg, mw, auditLog, promReg, zerolog.Nop()), a
}

func token(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.NewVerifier(testSecret).Mint("operator", role, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func do(t *testing.T, h http.Handler, method, path, bearer string, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var rdr *strings.Reader
	if body == "" {
		rdr = strings.NewReader("")
	} else {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid envelope: %v (%s)", method, path, err, rec.Body.String())
	}
	if resp.CorrelationID == "" {
		t.Errorf("%s %s: missing correlationId", method, path)
	}
	return rec, resp
}

func TestHealthNoAuth(t *testing.T) {
	s, _ := testServer(t, nil)
	rec, resp := do(t, s.Handler(), http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK || resp.Result != "ok" {
		t.Fatalf("health: %d %+v", rec.Code, resp)
	}
}

func TestAgentsRequiresAuth(t *testing.T) {
	s, _ := testServer(t, nil)
	h := s.Handler()

	rec, _ := do(t, h, http.MethodGet, "/api/v1/agents", "", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list: %d, want 401", rec.Code)
	}

	rec, resp := do(t, h, http.MethodGet, "/api/v1/agents", token(t, auth.RoleViewer), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("viewer list: %d", rec.Code)
	}
	agents, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", resp.Data)
	}
	ops, ok := agents["bftc"].(map[string]any)
	if !ok {
		t.Fatalf("bftc missing: %v", agents)
	}
	if _, ok := ops["acq"]; !ok {
		t.Errorf("acq not listed: %v", ops)
	}
}

func TestStartRequiresControllerRole(t *testing.T) {
	s, _ := testServer(t, nil)
	h := s.Handler()

	rec, _ := do(t, h, http.MethodPost, "/api/v1/agents/bftc/ops/set_setpoint/start", token(t, auth.RoleViewer), "{}")
	if rec.Code != http.StatusForbidden {
		t.Errorf("viewer start: %d, want 403", rec.Code)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	var auditBuf bytes.Buffer
	s, a := testServer(t, &auditBuf)
	h := s.Handler()
	ctrl := token(t, auth.RoleController)

	rec, _ := do(t, h, http.MethodPost, "/api/v1/agents/bftc/ops/acq/start", ctrl, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d", rec.Code)
	}

	// Wait for the process to report running.
	deadline := time.Now().Add(5 * time.Second)
	for {
		state, _ := a.Status("acq")
		if state.Status == "running" || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Double start conflicts.
	rec, resp := do(t, h, http.MethodPost, "/api/v1/agents/bftc/ops/acq/start", ctrl, "")
	if rec.Code != http.StatusConflict || resp.Code != "BUSY" {
		t.Errorf("double start: %d %q", rec.Code, resp.Code)
	}

	// Status shows the session data.
	rec, resp = do(t, h, http.MethodGet, "/api/v1/agents/bftc/ops/acq", token(t, auth.RoleViewer), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	data, _ := resp.Data.(map[string]any)
	if data["status"] != "running" {
		t.Errorf("op status = %v", data["status"])
	}

	rec, _ = do(t, h, http.MethodPost, "/api/v1/agents/bftc/ops/acq/stop", ctrl, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: %d", rec.Code)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Wait(ctx, "acq"); err != nil {
		t.Fatal(err)
	}

	// Stopping again conflicts.
	rec, resp = do(t, h, http.MethodPost, "/api/v1/agents/bftc/ops/acq/stop", ctrl, "")
	if rec.Code != http.StatusConflict || resp.Code != "NOT_RUNNING" {
		t.Errorf("stop idle: %d %q", rec.Code, resp.Code)
	}

	// Every control action was audited with the token subject.
	lines := strings.Split(strings.TrimSpace(auditBuf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d audit lines, want 4", len(lines))
	}
	var entry audit.Entry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.User != "operator" || entry.Agent != "bftc" || entry.Op != "acq" || entry.Action != "start" {
		t.Errorf("audit entry = %+v", entry)
	}
}

func TestUnknownAgentAndOp(t *testing.T) {
	s, _ := testServer(t, nil)
	h := s.Handler()
	viewer := token(t, auth.RoleViewer)

	rec, resp := do(t, h, http.MethodGet, "/api/v1/agents/nope/ops/acq", viewer, "")
	if rec.Code != http.StatusNotFound || resp.Code != "NOT_FOUND" {
		t.Errorf("unknown agent: %d %q", rec.Code, resp.Code)
	}
	rec, resp = do(t, h, http.MethodGet, "/api/v1/agents/bftc/ops/warp", viewer, "")
	if rec.Code != http.StatusNotFound || resp.Code != "NOT_FOUND" {
		t.Errorf("unknown op: %d %q", rec.Code, resp.Code)
	}
}

func TestStartMalformedBody(t *testing.T) {
	s, _ := testServer(t, nil)
	rec, resp := do(t, s.Handler(), http.MethodPost, "/api/v1/agents/bftc/ops/set_setpoint/start", token(t, auth.RoleController), "{not json")
	if rec.Code != http.StatusBadRequest || resp.Code != "BAD_REQUEST" {
		t.Errorf("malformed body: %d %q", rec.Code, resp.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	promReg := prometheus.NewRegistry()
	metrics := observability.New(promReg)
	metrics.FrameReceived("acu")

	mw := auth.NewMiddleware(auth.NewVerifier(testSecret))
	s := NewServer(agent.NewRegistry(), mw, nil, promReg, zerolog.Nop())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "pcs_stream_frames_received_total") {
		t.Error("metrics output has no stream series")
	}
}
