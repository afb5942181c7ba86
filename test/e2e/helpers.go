// Package e2e exercises the assembled control system over live HTTP:
// agents on fake devices behind the real API, auth, and audit chain.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ccatobs/pcs/internal/agent"
	"github.com/ccatobs/pcs/internal/agents/acu"
	"github.com/ccatobs/pcs/internal/agents/bfcu"
	"github.com/ccatobs/pcs/internal/agents/bftc"
	"github.com/ccatobs/pcs/internal/agents/pdu"
	"github.com/ccatobs/pcs/internal/api"
	"github.com/ccatobs/pcs/internal/audit"
	"github.com/ccatobs/pcs/internal/auth"
	"github.com/ccatobs/pcs/internal/device/fake"
	"github.com/ccatobs/pcs/internal/feed"
)

const jwtSecret = "e2e-secret"

// stack is one fully wired system under test.
type stack struct {
	server   *httptest.Server
	registry *agent.Registry
	pub      *feed.MemoryPublisher
	audit    *bytes.Buffer
	tc       *fake.TempController
	pduDev   *fake.PDU
	acuDev   *fake.Commander
}

func newStack(t *testing.T) *stack {
	t.Helper()

	pub := feed.NewMemoryPublisher()
	log := zerolog.Nop()

	tc := fake.NewTempController(1, 2, 5, 6)
	pduDev := fake.NewPDU(map[int]string{1: "acu", 2: "bftc", 3: "spare"})
	acuDev := fake.NewCommander()

	timing := bftc.Timing{
		DefaultLockTimeout: 2 * time.Second,
		YieldInterval:      20 * time.Millisecond,
		ReacquireTimeout:   2 * time.Second,
		PollPeriod:         5 * time.Millisecond,
	}

	registry := agent.NewRegistry()
	registry.Add(bftc.New("bftc", tc, pub, timing, log, nil).Agent)
	registry.Add(bfcu.New("bfcu", fake.NewCompressor(), pub, 5*time.Millisecond, log).Agent)
	registry.Add(pdu.New("pdu", pduDev, pub, 10*time.Millisecond, log).Agent)
	registry.Add(acu.New("acu", acuDev, nil, log).Agent)

	auditBuf := &bytes.Buffer{}
	s := api.NewServer(registry, auth.NewMiddleware(auth.NewVerifier(jwtSecret)),
		audit.NewWithWriter(auditBuf), nil, log)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		registry.StopAll(ctx)
		ts.Close()
	})

	return &stack{
		server:   ts,
		registry: registry,
		pub:      pub,
		audit:    auditBuf,
		tc:       tc,
		pduDev:   pduDev,
		acuDev:   acuDev,
	}
}

func (st *stack) token(t *testing.T, subject, role string) string {
	t.Helper()
	tok, err := auth.NewVerifier(jwtSecret).Mint(subject, role, time.Minute)
	if err != nil {
		t.Fatalf("minting token: %v", err)
	}
	return tok
}

// request performs one API call and decodes the response envelope.
func (st *stack) request(t *testing.T, method, path, bearer string, body map[string]any) (int, api.Response) {
	t.Helper()

	var rdr *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	} else {
		rdr = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, st.server.URL+path, rdr)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := st.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope api.Response
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("%s %s: decoding envelope: %v", method, path, err)
	}
	return resp.StatusCode, envelope
}

// waitForData polls an operation's status endpoint until check passes on
// its session data.
func (st *stack) waitForData(t *testing.T, bearer, agentName, opName string, check func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		_, envelope := st.request(t, http.MethodGet, "/api/v1/agents/"+agentName+"/ops/"+opName, bearer, nil)
		if state, ok := envelope.Data.(map[string]any); ok {
			if data, ok := state["data"].(map[string]any); ok && check(data) {
				return data
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s/%s: session data never satisfied condition (last: %+v)", agentName, opName, envelope.Data)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitForStatus polls until the operation reports the wanted status.
func (st *stack) waitForStatus(t *testing.T, agentName, opName, want string) {
	t.Helper()
	a, ok := st.registry.Get(agentName)
	if !ok {
		t.Fatalf("agent %s not registered", agentName)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		state, err := a.Status(opName)
		if err == nil && state.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s/%s: status never reached %q (now %+v)", agentName, opName, want, state)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
