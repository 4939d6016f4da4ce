package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the full configuration bundle for a pagepilot run.
// It is read from a YAML file and overridden by flags/environment in cmd.
type Settings struct {
	Browser BrowserSettings `yaml:"browser" json:"browser"`
	Agent   AgentSettings   `yaml:"agent" json:"agent"`
	LLM     LLMSettings     `yaml:"llm" json:"llm"`
	Actions ActionSettings  `yaml:"actions" json:"actions"`

	// Directory that file actions are confined to
	WorkspaceDir string `yaml:"workspace_dir" json:"workspace_dir"`

	Logging LoggingSettings `yaml:"logging" json:"logging"`
}

// BrowserSettings configures the browser session.
type BrowserSettings struct {
	Headless bool     `yaml:"headless" json:"headless"`
	Viewport Viewport `yaml:"viewport" json:"viewport"`

	NavigationTimeout time.Duration `yaml:"navigation_timeout" json:"navigation_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout" json:"action_timeout"`

	// Network settle wait
	SettleIdle time.Duration `yaml:"settle_idle" json:"settle_idle"`
	SettleMax  time.Duration `yaml:"settle_max" json:"settle_max"`
	SettleMin  time.Duration `yaml:"settle_min" json:"settle_min"`

	// AllowedDomains restricts navigation. Empty means unrestricted.
	AllowedDomains []string `yaml:"allowed_domains" json:"allowed_domains"`

	DownloadsDir string        `yaml:"downloads_dir" json:"downloads_dir"`
	TracePath    string        `yaml:"trace_path" json:"trace_path"`
	TypeDelay    time.Duration `yaml:"type_delay" json:"type_delay"`
}

// Viewport is the browser window size in CSS pixels.
type Viewport struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

// AgentSettings configures the step loop.
type AgentSettings struct {
	MaxSteps          int           `yaml:"max_steps" json:"max_steps"`
	MaxActionsPerStep int           `yaml:"max_actions_per_step" json:"max_actions_per_step"`
	MaxFailures       int           `yaml:"max_failures" json:"max_failures"`
	TolerateFailures  bool          `yaml:"tolerate_failures" json:"tolerate_failures"`
	StepDelay         time.Duration `yaml:"step_delay" json:"step_delay"`
	Vision            bool          `yaml:"vision" json:"vision"`
	HistoryWindow     int           `yaml:"history_window" json:"history_window"`
	MaxInputTokens    int           `yaml:"max_input_tokens" json:"max_input_tokens"`
}

// LLMSettings configures the OpenAI-compatible decision source.
type LLMSettings struct {
	Model   string `yaml:"model" json:"model"`
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env" json:"api_key_env"`
}

// APIKey resolves the API key from the configured environment variable.
func (l LLMSettings) APIKey() string {
	if l.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(l.APIKeyEnv)
}

// ActionSettings overrides the DOM-mutation classification of actions.
type ActionSettings struct {
	SafeActions     []string `yaml:"safe_actions" json:"safe_actions"`
	MutatingActions []string `yaml:"mutating_actions" json:"mutating_actions"`
}

// LoggingSettings defines logging configuration
type LoggingSettings struct {
	// Verbosity controls logging level: quiet, normal, verbose, debug
	Verbosity string `yaml:"verbosity" json:"verbosity"`
}

// DefaultSettings returns settings suitable for most runs.
func DefaultSettings() *Settings {
	return &Settings{
		Browser: BrowserSettings{
			Headless:          true,
			Viewport:          Viewport{Width: 1280, Height: 1100},
			NavigationTimeout: 30 * time.Second,
			ActionTimeout:     10 * time.Second,
			SettleIdle:        500 * time.Millisecond,
			SettleMax:         5 * time.Second,
			SettleMin:         250 * time.Millisecond,
			TypeDelay:         25 * time.Millisecond,
		},
		Agent: AgentSettings{
			MaxSteps:          100,
			MaxActionsPerStep: 10,
			MaxFailures:       3,
			TolerateFailures:  true,
			StepDelay:         time.Second,
			HistoryWindow:     10,
			MaxInputTokens:    60000,
		},
		LLM: LLMSettings{
			Model:     "gpt-4o",
			BaseURL:   "https://api.openai.com/v1",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		WorkspaceDir: ".",
		Logging:      LoggingSettings{Verbosity: "normal"},
	}
}

// LoadFile reads a YAML settings file on top of DefaultSettings.
// Keys missing from the file keep their default values.
func LoadFile(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML settings on top of DefaultSettings.
func Parse(data []byte) (*Settings, error) {
	s := DefaultSettings()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return s, nil
}

// Validate validates the settings
func (s *Settings) Validate() error {
	b := s.Browser
	if b.Viewport.Width <= 0 || b.Viewport.Height <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", b.Viewport.Width, b.Viewport.Height)
	}
	if b.NavigationTimeout < 0 || b.ActionTimeout < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if b.SettleIdle < 0 || b.SettleMin < 0 || b.SettleMax < 0 {
		return fmt.Errorf("settle durations cannot be negative")
	}
	if b.SettleMax > 0 && b.SettleMin > b.SettleMax {
		return fmt.Errorf("settle_min (%s) cannot exceed settle_max (%s)", b.SettleMin, b.SettleMax)
	}
	if b.TypeDelay < 0 {
		return fmt.Errorf("type_delay cannot be negative")
	}

	a := s.Agent
	if a.MaxSteps <= 0 {
		return fmt.Errorf("max_steps must be positive")
	}
	if a.MaxActionsPerStep <= 0 {
		return fmt.Errorf("max_actions_per_step must be positive")
	}
	if a.MaxFailures <= 0 {
		return fmt.Errorf("max_failures must be positive")
	}
	if a.StepDelay < 0 {
		return fmt.Errorf("step_delay cannot be negative")
	}
	if a.HistoryWindow < 0 {
		return fmt.Errorf("history_window cannot be negative")
	}
	if a.MaxInputTokens < 0 {
		return fmt.Errorf("max_input_tokens cannot be negative")
	}

	if s.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	if s.WorkspaceDir == "" {
		return fmt.Errorf("workspace directory is required")
	}

	// Set default verbosity if not specified
	if s.Logging.Verbosity == "" {
		s.Logging.Verbosity = "normal"
	}

	validLevels := map[string]bool{
		"quiet":   true,
		"normal":  true,
		"verbose": true,
		"debug":   true,
	}
	if !validLevels[s.Logging.Verbosity] {
		return fmt.Errorf("invalid logging verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", s.Logging.Verbosity)
	}

	return nil
}
