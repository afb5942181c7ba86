package agent

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of one operation session.
type Status int

const (
	Idle Status = iota
	Starting
	Running
	Stopping
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Message is one timestamped session log line.
type Message struct {
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Session tracks one run of an operation: its status, a bounded message
// log, and a data snapshot the operation updates as it goes. All methods
// are safe for concurrent use.
type Session struct {
	mu       sync.Mutex
	status   Status
	started  time.Time
	messages []Message
	data     map[string]any
	success  bool
	now      func() time.Time
}

const maxSessionMessages = 64

func newSession(now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{status: Starting, started: now(), now: now}
}

// SetStatus moves the session to a new state.
func (s *Session) SetStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Addf appends a formatted line to the session log. The log keeps the
// most recent lines only.
func (s *Session) Addf(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, Message{Time: s.now(), Text: fmt.Sprintf(format, args...)})
	if len(s.messages) > maxSessionMessages {
		s.messages = s.messages[len(s.messages)-maxSessionMessages:]
	}
}

// Messages returns a copy of the session log.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// SetData replaces the session's data snapshot.
func (s *Session) SetData(data map[string]any) {
	s.mu.Lock()
	s.data = data
	s.mu.Unlock()
}

// Data returns a shallow copy of the data snapshot.
func (s *Session) Data() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil
	}
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out
}

// Started returns when this run began.
func (s *Session) Started() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Success reports the outcome of the last completed run.
func (s *Session) Success() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.success
}

func (s *Session) finish(ok bool) {
	s.mu.Lock()
	s.success = ok
	s.status = Idle
	s.mu.Unlock()
}
