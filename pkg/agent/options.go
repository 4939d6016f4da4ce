package agent

import (
	"time"

	"github.com/entrhq/pagepilot/pkg/logging"
	"github.com/entrhq/pagepilot/pkg/security/workspace"
)

// Defaults for the loop options.
const (
	DefaultMaxSteps          = 100
	DefaultMaxActionsPerStep = 10
	DefaultMaxFailures       = 3
	DefaultStepDelay         = time.Second
	DefaultHistoryWindow     = 10
	DefaultMaxInputTokens    = 60000
	DefaultSnapshotChars     = 40000

	// minSnapshotChars is the floor token budgeting shrinks the page
	// rendering to.
	minSnapshotChars = 2000
)

type options struct {
	maxSteps           int
	maxActionsPerStep  int
	maxFailures        int
	tolerateFailures   bool
	stepDelay          time.Duration
	vision             bool
	historyWindow      int
	maxInputTokens     int
	snapshotChars      int
	customInstructions string
	observers          []Observer
	metrics            Metrics
	files              *workspace.Guard
	logger             *logging.Logger
}

func defaultOptions() options {
	return options{
		maxSteps:          DefaultMaxSteps,
		maxActionsPerStep: DefaultMaxActionsPerStep,
		maxFailures:       DefaultMaxFailures,
		tolerateFailures:  true,
		stepDelay:         DefaultStepDelay,
		historyWindow:     DefaultHistoryWindow,
		maxInputTokens:    DefaultMaxInputTokens,
		snapshotChars:     DefaultSnapshotChars,
	}
}

// Option configures an Agent.
type Option func(*options)

// WithMaxSteps bounds the number of steps in a run.
func WithMaxSteps(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxSteps = n
		}
	}
}

// WithMaxActionsPerStep bounds how many decided actions one step executes.
func WithMaxActionsPerStep(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxActionsPerStep = n
		}
	}
}

// WithMaxFailures sets how many consecutive failing steps trigger recovery
// or, without tolerance, end the run.
func WithMaxFailures(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxFailures = n
		}
	}
}

// WithTolerateFailures chooses recovery (true) or abort (false) when the
// failure limit is reached.
func WithTolerateFailures(tolerate bool) Option {
	return func(o *options) {
		o.tolerateFailures = tolerate
	}
}

// WithStepDelay sets the minimum spacing between steps. Zero disables pacing.
func WithStepDelay(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.stepDelay = d
		}
	}
}

// WithVision attaches a screenshot of the viewport to each page state.
func WithVision(enabled bool) Option {
	return func(o *options) {
		o.vision = enabled
	}
}

// WithHistoryWindow sets how many recent history entries go into the prompt.
func WithHistoryWindow(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.historyWindow = n
		}
	}
}

// WithMaxInputTokens sets the prompt budget.
func WithMaxInputTokens(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxInputTokens = n
		}
	}
}

// WithSnapshotChars bounds the rendered page state before budgeting.
func WithSnapshotChars(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.snapshotChars = n
		}
	}
}

// WithCustomInstructions adds user instructions to the system prompt.
func WithCustomInstructions(s string) Option {
	return func(o *options) {
		o.customInstructions = s
	}
}

// WithObservers appends step observers.
func WithObservers(obs ...Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs...)
	}
}

// WithMetrics sets the loop metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithFiles gives actions access to the workspace.
func WithFiles(g *workspace.Guard) Option {
	return func(o *options) {
		o.files = g
	}
}

// WithLogger replaces the package logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
