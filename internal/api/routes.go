package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/ccatobs/pcs/internal/auth"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int64(time.Since(s.startTime).Seconds()),
	})
}

// handleAgents lists every agent with its operations and their states.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any)
	for _, name := range s.registry.Names() {
		a, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		ops := make(map[string]any)
		for _, op := range a.Operations() {
			state, err := a.Status(op)
			if err != nil {
				continue
			}
			// The listing stays light; session details are on the
			// per-operation endpoint.
			ops[op] = map[string]any{"kind": state.Kind, "status": state.Status}
		}
		out[name] = ops
	}
	writeSuccess(w, out)
}

func (s *Server) resolveOp(w http.ResponseWriter, r *http.Request) (agentName, opName string, ok bool) {
	agentName = r.PathValue("agent")
	opName = r.PathValue("op")
	a, found := s.registry.Get(agentName)
	if !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "unknown agent "+agentName)
		return "", "", false
	}
	if _, err := a.Status(opName); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return "", "", false
	}
	return agentName, opName, true
}

func (s *Server) handleOpStatus(w http.ResponseWriter, r *http.Request) {
	agentName, opName, ok := s.resolveOp(w, r)
	if !ok {
		return
	}
	a, _ := s.registry.Get(agentName)
	state, err := a.Status(opName)
	if err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	writeSuccess(w, state)
}

func (s *Server) handleOpStart(w http.ResponseWriter, r *http.Request) {
	agentName, opName, ok := s.resolveOp(w, r)
	if !ok {
		return
	}

	// Params are optional; an empty body means none.
	var params map[string]any
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&params); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "malformed JSON body")
		return
	}

	a, _ := s.registry.Get(agentName)
	began := time.Now()
	started, msg := a.Start(opName, params)
	s.logAction(r, agentName, opName, "start", params, started, msg, time.Since(began))

	if !started {
		writeError(w, http.StatusConflict, "BUSY", msg)
		return
	}
	writeSuccess(w, map[string]any{"op": opName, "message": msg})
}

func (s *Server) handleOpStop(w http.ResponseWriter, r *http.Request) {
	agentName, opName, ok := s.resolveOp(w, r)
	if !ok {
		return
	}

	a, _ := s.registry.Get(agentName)
	began := time.Now()
	stopped, msg := a.Stop(opName)
	s.logAction(r, agentName, opName, "stop", nil, stopped, msg, time.Since(began))

	if !stopped {
		writeError(w, http.StatusConflict, "NOT_RUNNING", msg)
		return
	}
	writeSuccess(w, map[string]any{"op": opName, "message": msg})
}

func (s *Server) logAction(r *http.Request, agentName, opName, action string, params map[string]any, ok bool, outcome string, latency time.Duration) {
	if s.audit == nil {
		return
	}
	id := s.audit.Action(auth.Subject(r), agentName, opName, action, params, ok, outcome, latency)
	s.log.Debug().Str("audit_id", id).Str("agent", agentName).Str("op", opName).Str("action", action).Bool("ok", ok).Msg("control action")
}
