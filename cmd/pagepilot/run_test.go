package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pagepilot/pkg/executor/cli"
)

func parsedRunCmd(t *testing.T, args ...string) *viper.Viper {
	t.Helper()
	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags(args))
	v := viper.New()
	require.NoError(t, bindFlags(v, cmd))
	return v
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "pagepilot v"+version+"\n", out.String())
}

func TestRunRequiresTask(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no task")
}

func TestLoadSettingsDefaults(t *testing.T) {
	v := parsedRunCmd(t)
	s, err := loadSettings(v)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Agent.MaxSteps)
	assert.True(t, s.Browser.Headless)
	assert.Empty(t, s.Browser.AllowedDomains)
}

func TestLoadSettingsPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pagepilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
agent:
  max_steps: 7
llm:
  model: file-model
  base_url: http://file/v1
`), 0o644))

	t.Setenv("PAGEPILOT_MODEL", "env-model")
	t.Setenv("PAGEPILOT_VISION", "true")

	v := parsedRunCmd(t,
		"--config", path,
		"--model", "flag-model",
		"--headless=false",
		"--allowed-domain", "https://example.com",
		"--allowed-domain", "*.example.org",
	)
	s, err := loadSettings(v)
	require.NoError(t, err)

	assert.Equal(t, 7, s.Agent.MaxSteps, "file value kept")
	assert.Equal(t, "http://file/v1", s.LLM.BaseURL)
	assert.Equal(t, "flag-model", s.LLM.Model, "flag beats env and file")
	assert.True(t, s.Agent.Vision, "env beats file")
	assert.False(t, s.Browser.Headless)
	assert.Equal(t, []string{"https://example.com", "*.example.org"}, s.Browser.AllowedDomains)
}

func TestLoadSettingsRejectsInvalid(t *testing.T) {
	v := parsedRunCmd(t, "--verbosity", "loud")
	_, err := loadSettings(v)
	require.Error(t, err)
}

func TestLoadSettingsMissingFile(t *testing.T) {
	v := parsedRunCmd(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := loadSettings(v)
	require.Error(t, err)
}

func TestCollectTasks(t *testing.T) {
	v := parsedRunCmd(t, "--task", "first", "--task", "  ", "--task", "second")
	assert.Equal(t,
		[]string{"first", "second", "third task"},
		collectTasks(v, []string{"third", "task"}))
}

func TestUnsuccessful(t *testing.T) {
	assert.NoError(t, unsuccessful([]*cli.Summary{{Success: true}}))

	err := unsuccessful([]*cli.Summary{{Success: true}, {Success: false}, nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3")
}
