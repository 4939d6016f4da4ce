// Package cli runs browsing tasks from the command line.
//
// An Executor turns Settings into a browser session, an action registry,
// a decision source and an agent, runs the agent to completion and renders
// its steps to a writer.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/google/uuid"

	"github.com/entrhq/pagepilot/pkg/actions"
	"github.com/entrhq/pagepilot/pkg/agent"
	"github.com/entrhq/pagepilot/pkg/browser"
	"github.com/entrhq/pagepilot/pkg/config"
	"github.com/entrhq/pagepilot/pkg/llm"
	"github.com/entrhq/pagepilot/pkg/llm/openai"
	"github.com/entrhq/pagepilot/pkg/logging"
	"github.com/entrhq/pagepilot/pkg/metrics"
	"github.com/entrhq/pagepilot/pkg/security/workspace"
	browsertools "github.com/entrhq/pagepilot/pkg/tools/browser"
	"github.com/entrhq/pagepilot/pkg/tools/control"
	"github.com/entrhq/pagepilot/pkg/tools/files"
)

var cliLog *logging.Logger

func init() {
	var err error
	cliLog, err = logging.NewLogger("cli")
	if err != nil {
		cliLog = logging.NewNop()
	}
}

// clipboardWriteAll is swapped out in tests.
var clipboardWriteAll = clipboard.WriteAll

// CloseFunc releases a session and whatever launched it.
type CloseFunc func(ctx context.Context) error

// SessionFactory opens a browser session for one task.
type SessionFactory func(ctx context.Context, name string, opts browser.SessionOptions) (*browser.Session, CloseFunc, error)

// ProviderFactory builds the decision source for one task.
type ProviderFactory func(settings config.LLMSettings, vision bool) (llm.Provider, error)

// Executor runs tasks against the settings it was built with.
type Executor struct {
	settings    *config.Settings
	out         io.Writer
	metrics     *metrics.Collector
	newSession  SessionFactory
	newProvider ProviderFactory
	copyResult  bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithWriter sets where step output is rendered. Defaults to stdout.
func WithWriter(w io.Writer) ExecutorOption {
	return func(e *Executor) {
		if w != nil {
			e.out = w
		}
	}
}

// WithMetrics records registry, loop and session events on m.
func WithMetrics(m *metrics.Collector) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithSessionFactory replaces the Playwright-backed session factory.
func WithSessionFactory(f SessionFactory) ExecutorOption {
	return func(e *Executor) {
		if f != nil {
			e.newSession = f
		}
	}
}

// WithProviderFactory replaces the OpenAI-compatible provider factory.
func WithProviderFactory(f ProviderFactory) ExecutorOption {
	return func(e *Executor) {
		if f != nil {
			e.newProvider = f
		}
	}
}

// WithCopy copies the final text of a successful run to the clipboard.
func WithCopy(enabled bool) ExecutorOption {
	return func(e *Executor) {
		e.copyResult = enabled
	}
}

// NewExecutor validates settings and returns an Executor.
func NewExecutor(settings *config.Settings, opts ...ExecutorOption) (*Executor, error) {
	if settings == nil {
		return nil, errors.New("settings are required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	e := &Executor{
		settings:    settings,
		out:         os.Stdout,
		newSession:  playwrightSession,
		newProvider: openAIProvider,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.out = &syncWriter{w: e.out}
	return e, nil
}

// playwrightSession launches a dedicated browser for the task, so tasks in
// a batch share nothing.
func playwrightSession(ctx context.Context, name string, opts browser.SessionOptions) (*browser.Session, CloseFunc, error) {
	m := browser.NewManager()
	s, err := m.NewSession(ctx, name, opts)
	if err != nil {
		_ = m.Shutdown(ctx)
		return nil, nil, err
	}
	return s, m.Shutdown, nil
}

func openAIProvider(s config.LLMSettings, vision bool) (llm.Provider, error) {
	opts := []openai.ProviderOption{
		openai.WithModel(s.Model),
		openai.WithBaseURL(s.BaseURL),
		openai.WithJSONMode(),
	}
	if vision {
		opts = append(opts, openai.WithVision())
	}
	return openai.NewProvider(s.APIKey(), opts...)
}

// Summary is the JSON record of one run.
type Summary struct {
	RunID      string               `json:"run_id"`
	Task       string               `json:"task"`
	State      string               `json:"state"`
	Success    bool                 `json:"success"`
	FinalText  string               `json:"final_text,omitempty"`
	Steps      int                  `json:"steps"`
	Recoveries int                  `json:"recoveries"`
	Duration   string               `json:"duration"`
	Error      string               `json:"error,omitempty"`
	History    []agent.HistoryEntry `json:"history"`
}

// Run executes one task and returns its summary. The summary is non-nil
// whenever the agent started, even if the run ended with an error.
func (e *Executor) Run(ctx context.Context, task string) (*Summary, error) {
	return e.run(ctx, task, "")
}

func (e *Executor) run(ctx context.Context, task, prefix string) (*Summary, error) {
	if task == "" {
		return nil, errors.New("task is required")
	}
	runID := uuid.NewString()
	log := cliLog.With("run_id", runID)

	guard, err := workspace.NewGuard(e.settings.WorkspaceDir)
	if err != nil {
		return nil, err
	}
	if dir := e.settings.Browser.DownloadsDir; dir != "" {
		if err := guard.AllowDir(dir); err != nil {
			return nil, err
		}
	}

	reg, err := e.buildRegistry(guard)
	if err != nil {
		return nil, fmt.Errorf("failed to register actions: %w", err)
	}

	provider, err := e.newProvider(e.settings.LLM, e.settings.Agent.Vision)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider: %w", err)
	}

	session, closeSession, err := e.newSession(ctx, "run-"+runID[:8], e.sessionOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer func() {
		if cerr := closeSession(context.Background()); cerr != nil {
			log.Warnf("failed to close session: %v", cerr)
		}
	}()

	r := newRenderer(e.out, prefix, e.settings.Logging.Verbosity)
	a, err := agent.New(session, reg, provider, task, e.agentOptions(guard, r)...)
	if err != nil {
		return nil, err
	}

	r.header(task, provider.GetModel())
	start := time.Now()
	result, runErr := a.Run(ctx)
	elapsed := time.Since(start)

	summary := &Summary{
		RunID:    runID,
		Task:     task,
		Duration: elapsed.Round(time.Millisecond).String(),
	}
	if result != nil {
		summary.State = result.State.String()
		summary.Success = result.Success
		summary.FinalText = result.FinalText
		summary.Steps = result.Steps
		summary.Recoveries = result.Recoveries
		summary.History = result.History
	}
	if runErr != nil {
		summary.Error = runErr.Error()
	}
	r.footer(summary)
	log.Infof("run %s finished in %s: state=%s", runID, elapsed, summary.State)

	if e.copyResult && summary.Success && summary.FinalText != "" {
		if err := clipboardWriteAll(summary.FinalText); err != nil {
			log.Warnf("failed to copy result to clipboard: %v", err)
		}
	}
	return summary, runErr
}

func (e *Executor) buildRegistry(guard *workspace.Guard) (*actions.Registry, error) {
	a := e.settings.Actions
	opts := []actions.Option{
		actions.WithClassification(actions.DefaultClassification().Override(a.SafeActions, a.MutatingActions)),
	}
	if e.metrics != nil {
		opts = append(opts, actions.WithMetrics(e.metrics))
	}
	reg := actions.NewRegistry(opts...)

	if err := browsertools.Register(reg, browsertools.Options{}); err != nil {
		return nil, err
	}
	if err := files.Register(reg, guard); err != nil {
		return nil, err
	}
	if err := control.Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func (e *Executor) sessionOptions() browser.SessionOptions {
	b := e.settings.Browser
	opts := browser.SessionOptions{
		Headless:          b.Headless,
		Viewport:          &browser.Viewport{Width: b.Viewport.Width, Height: b.Viewport.Height},
		NavigationTimeout: b.NavigationTimeout,
		ActionTimeout:     b.ActionTimeout,
		TypeDelay:         b.TypeDelay,
		Settle: browser.SettleOptions{
			Idle: b.SettleIdle,
			Max:  b.SettleMax,
			Min:  b.SettleMin,
		},
		AllowedDomains: b.AllowedDomains,
		DownloadsDir:   b.DownloadsDir,
		TracePath:      b.TracePath,
	}
	if e.metrics != nil {
		opts.Metrics = e.metrics
	}
	return opts
}

func (e *Executor) agentOptions(guard *workspace.Guard, obs agent.Observer) []agent.Option {
	s := e.settings.Agent
	opts := []agent.Option{
		agent.WithMaxSteps(s.MaxSteps),
		agent.WithMaxActionsPerStep(s.MaxActionsPerStep),
		agent.WithMaxFailures(s.MaxFailures),
		agent.WithTolerateFailures(s.TolerateFailures),
		agent.WithStepDelay(s.StepDelay),
		agent.WithVision(s.Vision),
		agent.WithHistoryWindow(s.HistoryWindow),
		agent.WithMaxInputTokens(s.MaxInputTokens),
		agent.WithFiles(guard),
		agent.WithObservers(obs),
		agent.WithLogger(cliLog),
	}
	if e.metrics != nil {
		opts = append(opts, agent.WithMetrics(e.metrics))
	}
	return opts
}

// syncWriter serializes writes from concurrent runs.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
