package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"

	"github.com/entrhq/pagepilot/pkg/agent"
)

// Color palette
var (
	salmonPink  = lipgloss.Color("#FFB3BA")
	mintGreen   = lipgloss.Color("#A8E6CF")
	mutedGray   = lipgloss.Color("#6B7280")
	brightWhite = lipgloss.Color("#F9FAFB")
)

var (
	headerStyle = lipgloss.NewStyle().Foreground(salmonPink).Bold(true)
	stepStyle   = lipgloss.NewStyle().Foreground(brightWhite).Bold(true)
	urlStyle    = lipgloss.NewStyle().Foreground(mutedGray)
	actionStyle = lipgloss.NewStyle().Foreground(mintGreen)
	okStyle     = lipgloss.NewStyle().Foreground(mintGreen).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(salmonPink).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedGray).Italic(true)
)

// renderer prints a run's progress. It is registered as an agent observer.
type renderer struct {
	agent.BaseObserver
	out    io.Writer
	prefix string
	debug  bool
}

func newRenderer(out io.Writer, prefix, verbosity string) *renderer {
	return &renderer{out: out, prefix: prefix, debug: verbosity == "debug"}
}

func (r *renderer) printf(format string, args ...any) {
	fmt.Fprintf(r.out, r.prefix+format, args...)
}

func (r *renderer) header(task, model string) {
	r.printf("%s %s\n", headerStyle.Render("task:"), task)
	r.printf("%s\n", mutedStyle.Render("model: "+model))
}

func (r *renderer) OnStepStart(info agent.StepInfo) error {
	r.printf("%s %s\n", stepStyle.Render(fmt.Sprintf("step %d/%d", info.Step, info.MaxSteps)), urlStyle.Render(info.URL))
	return nil
}

func (r *renderer) OnModelResponse(_ agent.StepInfo, raw string) error {
	if !r.debug {
		return nil
	}
	r.printf("%s\n", highlightJSON(raw))
	return nil
}

func (r *renderer) OnStepEnd(_ agent.StepInfo, entries []agent.HistoryEntry) error {
	for _, e := range entries {
		mark := okStyle.Render("ok")
		if !e.Result.Success {
			mark = errorStyle.Render("failed")
		}
		line := fmt.Sprintf("  %s %s", actionStyle.Render(e.Action.String()), mark)
		if e.Result.Message != "" {
			line += " " + mutedStyle.Render(firstLine(e.Result.Message))
		}
		r.printf("%s\n", line)
	}
	return nil
}

func (r *renderer) footer(s *Summary) {
	status := okStyle.Render(s.State)
	if !s.Success {
		status = errorStyle.Render(s.State)
	}
	r.printf("%s %s after %d steps (%s)\n", headerStyle.Render("result:"), status, s.Steps, s.Duration)
	if s.FinalText != "" {
		r.printf("%s\n", s.FinalText)
	}
	if s.Error != "" {
		r.printf("%s %s\n", errorStyle.Render("error:"), s.Error)
	}
}

// highlightJSON indents raw when it is JSON and colors it for a 256-color
// terminal. Anything it cannot handle is returned unchanged.
func highlightJSON(raw string) string {
	src := raw
	var indented bytes.Buffer
	if err := json.Indent(&indented, []byte(strings.TrimSpace(raw)), "", "  "); err == nil {
		src = indented.String()
	}
	var out strings.Builder
	if err := quick.Highlight(&out, src, "json", "terminal256", "monokai"); err != nil {
		return src
	}
	return out.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " ..."
	}
	return s
}
