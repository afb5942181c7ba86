package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind distinguishes short tasks from long-running processes.
type Kind int

const (
	Task Kind = iota
	Process
)

func (k Kind) String() string {
	if k == Process {
		return "process"
	}
	return "task"
}

// OpFunc is the body of an operation. It runs on its own goroutine,
// observes ctx for cooperative stop, and reports (ok, message). Long
// loops must check ctx at iteration boundaries.
type OpFunc func(ctx context.Context, s *Session, params map[string]any) (bool, string)

type operation struct {
	name    string
	kind    Kind
	run     OpFunc
	session *Session
	cancel  context.CancelFunc
	done    chan struct{}
	lastMsg string
}

// Agent is one device agent: a named set of operations.
type Agent struct {
	name string
	log  zerolog.Logger
	now  func() time.Time

	mu  sync.Mutex
	ops map[string]*operation
}

// New creates an empty agent.
func New(name string, log zerolog.Logger) *Agent {
	return &Agent{
		name: name,
		log:  log.With().Str("agent", name).Logger(),
		now:  time.Now,
		ops:  make(map[string]*operation),
	}
}

// Name returns the agent's registry name.
func (a *Agent) Name() string { return a.name }

// Register adds an operation. Registration happens at construction time,
// before the agent is served; duplicate names panic.
func (a *Agent) Register(name string, kind Kind, fn OpFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.ops[name]; exists {
		panic(fmt.Sprintf("agent %s: operation %q registered twice", a.name, name))
	}
	a.ops[name] = &operation{name: name, kind: kind, run: fn}
}

// Operations returns the operation names in sorted order.
func (a *Agent) Operations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.ops))
	for name := range a.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start launches an operation. It returns false with a reason when the
// operation is unknown or already running.
func (a *Agent) Start(name string, params map[string]any) (bool, string) {
	a.mu.Lock()
	op, ok := a.ops[name]
	if !ok {
		a.mu.Unlock()
		return false, fmt.Sprintf("no operation %q on agent %s", name, a.name)
	}
	if op.session != nil && op.session.Status() != Idle {
		a.mu.Unlock()
		return false, fmt.Sprintf("operation %q is already %s", name, op.session.Status())
	}

	ctx, cancel := context.WithCancel(context.Background())
	op.session = newSession(a.now)
	op.cancel = cancel
	op.done = make(chan struct{})
	session := op.session
	done := op.done
	a.mu.Unlock()

	a.log.Info().Str("op", name).Str("kind", op.kind.String()).Msg("operation starting")

	go func() {
		defer cancel()
		defer close(done)
		ok, msg := op.run(ctx, session, params)
		session.finish(ok)

		a.mu.Lock()
		op.lastMsg = msg
		a.mu.Unlock()

		evt := a.log.Info()
		if !ok {
			evt = a.log.Warn()
		}
		evt.Str("op", name).Bool("ok", ok).Str("msg", msg).Msg("operation finished")
	}()

	return true, fmt.Sprintf("started %q", name)
}

// Stop requests cooperative stop and returns immediately; callers poll
// Status or use Wait. Stopping an idle operation is refused.
func (a *Agent) Stop(name string) (bool, string) {
	a.mu.Lock()
	op, ok := a.ops[name]
	if !ok {
		a.mu.Unlock()
		return false, fmt.Sprintf("no operation %q on agent %s", name, a.name)
	}
	if op.session == nil || op.session.Status() == Idle {
		a.mu.Unlock()
		return false, fmt.Sprintf("operation %q is not running", name)
	}
	session := op.session
	cancel := op.cancel
	a.mu.Unlock()

	session.SetStatus(Stopping)
	cancel()
	return true, fmt.Sprintf("stop requested for %q", name)
}

// Wait blocks until the named operation's current run completes, or ctx
// ends. Waiting on an idle operation returns immediately.
func (a *Agent) Wait(ctx context.Context, name string) error {
	a.mu.Lock()
	op, ok := a.ops[name]
	if !ok {
		a.mu.Unlock()
		return fmt.Errorf("no operation %q on agent %s", name, a.name)
	}
	done := op.done
	a.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OpState is a point-in-time view of one operation, shaped for the API.
type OpState struct {
	Name     string         `json:"name"`
	Kind     string         `json:"kind"`
	Status   string         `json:"status"`
	Success  bool           `json:"success"`
	LastMsg  string         `json:"last_message,omitempty"`
	Messages []Message      `json:"messages,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// Status reports one operation's state.
func (a *Agent) Status(name string) (OpState, error) {
	a.mu.Lock()
	op, ok := a.ops[name]
	if !ok {
		a.mu.Unlock()
		return OpState{}, fmt.Errorf("no operation %q on agent %s", name, a.name)
	}
	session := op.session
	state := OpState{Name: op.name, Kind: op.kind.String(), Status: Idle.String(), LastMsg: op.lastMsg}
	a.mu.Unlock()

	if session != nil {
		state.Status = session.Status().String()
		state.Success = session.Success()
		state.Messages = session.Messages()
		state.Data = session.Data()
	}
	return state, nil
}

// Registry holds every agent the control system serves.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*Agent
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[string]*Agent)}
}

// Add registers an agent; duplicate names panic.
func (r *Registry) Add(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Name()]; exists {
		panic(fmt.Sprintf("agent %q registered twice", a.Name()))
	}
	r.agents[a.Name()] = a
}

// Get returns an agent by name.
func (r *Registry) Get(name string) (*Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[name]
	return a, ok
}

// Names returns registered agent names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StopAll requests stop on every running operation and waits for them,
// bounded by ctx. Used at shutdown.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	agents := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.Unlock()

	for _, a := range agents {
		for _, op := range a.Operations() {
			state, err := a.Status(op)
			if err != nil || state.Status == Idle.String() {
				continue
			}
			a.Stop(op)
			_ = a.Wait(ctx, op)
		}
	}
}
