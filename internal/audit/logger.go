package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one audit record.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	ID        string         `json:"id"`
	User      string         `json:"user"`
	Agent     string         `json:"agent"`
	Op        string         `json:"op"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Outcome   string         `json:"outcome"`
	OK        bool           `json:"ok"`
	LatencyMS int64          `json:"latency_ms"`
}

// Logger appends audit entries as JSON lines.
type Logger struct {
	mu  sync.Mutex
	out io.Writer
	cl  io.Closer
	now func() time.Time
}

// NewLogger writes to dir/audit.jsonl with size-based rotation.
func NewLogger(dir string, maxSizeMB, maxBackups int) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	lj := &lumberjack.Logger{
		Filename:   filepath.Join(dir, "audit.jsonl"),
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		Compress:   true,
	}
	return &Logger{out: lj, cl: lj, now: time.Now}, nil
}

// NewWithWriter writes entries to w. For tests.
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{out: w, now: time.Now}
}

// Record writes one entry, filling in the timestamp and a fresh
// correlation id. Audit failures are reported on stderr and never block
// the action they describe.
func (l *Logger) Record(e Entry) string {
	e.Timestamp = l.now().UTC()
	e.ID = uuid.NewString()
	if e.User == "" {
		e.User = "unknown"
	}

	line, err := json.Marshal(e)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal failed: %v\n", err)
		return e.ID
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.out.Write(append(line, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write failed: %v\n", err)
	}
	return e.ID
}

// Action records an operation start/stop request and its outcome.
func (l *Logger) Action(user, agent, op, action string, params map[string]any, ok bool, outcome string, latency time.Duration) string {
	return l.Record(Entry{
		User:      user,
		Agent:     agent,
		Op:        op,
		Action:    action,
		Params:    params,
		OK:        ok,
		Outcome:   outcome,
		LatencyMS: latency.Milliseconds(),
	})
}

// Close flushes and closes the underlying file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cl != nil {
		return l.cl.Close()
	}
	return nil
}
