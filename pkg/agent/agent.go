// Package agent runs the observe-decide-act loop that drives a browser
// session toward a task.
//
// Each step snapshots the page, asks the decision source for a batch of
// actions, validates them against the actions available on that page, and
// executes them through the registry until the page changes:
//
//	ag, err := agent.New(session, registry, provider, "find the cheapest flight",
//	    agent.WithMaxSteps(50),
//	    agent.WithVision(true),
//	)
//	if err != nil {
//	    return err
//	}
//	result, err := ag.Run(ctx)
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/pagepilot/pkg/actions"
	"github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/dom"
	"github.com/entrhq/pagepilot/pkg/llm"
	"github.com/entrhq/pagepilot/pkg/llm/tokenizer"
	"github.com/entrhq/pagepilot/pkg/logging"
)

var agentDebugLog *logging.Logger

func init() {
	var err error
	agentDebugLog, err = logging.NewLogger("agent")
	if err != nil {
		agentDebugLog.Warnf("Failed to initialize agent logger, using stderr fallback: %v", err)
	}
}

var (
	// ErrAlreadyRunning is returned by Run while a run is in progress.
	ErrAlreadyRunning = errors.New("agent is already running")

	// ErrTooManyFailures ends a run whose consecutive failing steps reached
	// the limit with recovery disabled.
	ErrTooManyFailures = errors.New("too many consecutive failures")
)

// Session is the browser surface the loop drives. *browser.Session
// implements it.
type Session interface {
	actions.SessionHandle
	GetSnapshot(ctx context.Context, force bool) (*dom.Snapshot, error)
	Screenshot(ctx context.Context, fullPage bool) ([]byte, error)
	DrainAdvisories() []string
	Page() browser.Page
	IsConnected() bool
}

var _ Session = (*browser.Session)(nil)

// Metrics receives loop-level counters.
type Metrics interface {
	StepFinished(failed bool, elapsed time.Duration)
	RecoveryRun()
	RunFinished(state string)
}

// State is the lifecycle state of an Agent.
type State int

const (
	Idle State = iota
	Running
	Paused
	Stopped
	Completed
	MaxStepsReached
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	case MaxStepsReached:
		return "max_steps_reached"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// RunResult summarizes a finished run. History is always set.
type RunResult struct {
	State      State
	Success    bool
	FinalText  string
	Steps      int
	Recoveries int
	History    []HistoryEntry
}

// Agent drives one session toward one task. An Agent runs one task at a
// time; Pause, Resume and Stop may be called from any goroutine.
type Agent struct {
	session  Session
	registry *actions.Registry
	provider llm.Provider
	task     string
	opts     options
	tok      *tokenizer.Tokenizer
	log      *logging.Logger

	mu       sync.Mutex
	state    State
	stopping bool
	history  *History
	failures int
}

// New creates an agent. session, registry and provider are required.
func New(session Session, registry *actions.Registry, provider llm.Provider, task string, opts ...Option) (*Agent, error) {
	if session == nil {
		return nil, errors.New("browser session is required")
	}
	if registry == nil {
		return nil, errors.New("action registry is required")
	}
	if provider == nil {
		return nil, errors.New("LLM provider is required")
	}
	if task == "" {
		return nil, errors.New("task is required")
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	tok, err := tokenizer.New()
	if err != nil {
		agentDebugLog.Warnf("tokenizer unavailable, estimating prompt size: %v", err)
		tok = tokenizer.Estimator()
	}

	log := o.logger
	if log == nil {
		log = agentDebugLog
	}

	return &Agent{
		session:  session,
		registry: registry,
		provider: provider,
		task:     task,
		opts:     o,
		tok:      tok,
		log:      log,
		history:  &History{},
	}, nil
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a copy of the entries recorded so far.
func (a *Agent) History() []HistoryEntry {
	a.mu.Lock()
	h := a.history
	a.mu.Unlock()
	return h.Entries()
}

// ConsecutiveFailures returns the current failing-step streak.
func (a *Agent) ConsecutiveFailures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures
}

// Pause suspends the loop before its next step.
func (a *Agent) Pause() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Running {
		a.state = Paused
	}
}

// Resume continues a paused run.
func (a *Agent) Resume() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == Paused {
		a.state = Running
	}
}

// Stop ends the run before its next step.
func (a *Agent) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopping = true
}

func (a *Agent) stopRequested() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopping
}

func (a *Agent) isPaused() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == Paused
}

// Run executes the task until done, Stop, the step limit, a failure abort
// or the browser going away. A closed browser ends the run as Stopped with
// a nil error; context cancellation ends it as Stopped with the context's
// error.
func (a *Agent) Run(ctx context.Context) (*RunResult, error) {
	a.mu.Lock()
	if a.state == Running || a.state == Paused {
		a.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	a.state = Running
	a.stopping = false
	a.failures = 0
	a.history = &History{}
	a.mu.Unlock()

	a.log.Infof("starting run: %s", a.task)
	r := &run{agent: a}
	state, err := r.loop(ctx)

	a.mu.Lock()
	a.state = state
	a.mu.Unlock()

	if a.opts.metrics != nil {
		a.opts.metrics.RunFinished(state.String())
	}
	a.log.Infof("run finished: state=%s steps=%d recoveries=%d", state, r.steps, r.recoveries)

	return &RunResult{
		State:      state,
		Success:    r.success,
		FinalText:  r.finalText,
		Steps:      r.steps,
		Recoveries: r.recoveries,
		History:    a.history.Entries(),
	}, err
}
