// Package prompts assembles the messages sent to the decision source.
package prompts

import (
	"fmt"
	"strings"

	"github.com/entrhq/pagepilot/pkg/dom"
)

// Builder constructs the system prompt for one page.
type Builder struct {
	actions            string
	maxActions         int
	customInstructions string
}

// NewBuilder creates a builder with no actions listed.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithActions sets the available-action listing, one action per line.
func (b *Builder) WithActions(description string) *Builder {
	b.actions = description
	return b
}

// WithMaxActions states how many actions one step may carry.
func (b *Builder) WithMaxActions(n int) *Builder {
	b.maxActions = n
	return b
}

// WithCustomInstructions adds user-provided instructions ahead of the rules.
func (b *Builder) WithCustomInstructions(instructions string) *Builder {
	b.customInstructions = instructions
	return b
}

// Build returns the system prompt.
func (b *Builder) Build() string {
	var sb strings.Builder

	if b.customInstructions != "" {
		sb.WriteString("<custom_instructions>\n")
		sb.WriteString(b.customInstructions)
		sb.WriteString("\n</custom_instructions>\n\n")
	}

	for _, section := range []string{RolePrompt, PageStatePrompt, OutputFormatPrompt, RulesPrompt} {
		sb.WriteString(section)
		sb.WriteString("\n\n")
	}

	if b.maxActions > 0 {
		fmt.Fprintf(&sb, "Use at most %d actions per step.\n\n", b.maxActions)
	}

	sb.WriteString("<available_actions>\n")
	if b.actions == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(strings.TrimRight(b.actions, "\n"))
		sb.WriteString("\n")
	}
	sb.WriteString("</available_actions>")
	return sb.String()
}

// TaskMessage wraps the user's task.
func TaskMessage(task string) string {
	return "<task>\n" + task + "\n</task>"
}

// PageState renders the current page for the decision source.
func PageState(snap *dom.Snapshot, rendered string, advisories []string, step, maxSteps int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<page_state step=\"%d/%d\">\n", step, maxSteps)
	fmt.Fprintf(&sb, "Current url: %s\n", snap.Page.URL)
	fmt.Fprintf(&sb, "Title: %s\n", snap.Page.Title)

	if len(snap.Page.Tabs) > 0 {
		sb.WriteString("Open tabs:\n")
		for _, t := range snap.Page.Tabs {
			fmt.Fprintf(&sb, "  [%d] %s (%s)\n", t.ID, t.Title, t.URL)
		}
	}
	if snap.Page.IsPDFViewer {
		sb.WriteString("Note: this tab shows a PDF viewer. Use save_pdf or extract_content to read it.\n")
	}
	for _, e := range snap.Page.BrowserErrors {
		fmt.Fprintf(&sb, "Browser error: %s\n", e)
	}
	for _, a := range advisories {
		fmt.Fprintf(&sb, "Note: %s\n", a)
	}

	sb.WriteString("Interactive elements:\n")
	sb.WriteString(rendered)
	sb.WriteString("\n</page_state>")
	return sb.String()
}

// HistoryLine is one previous action and its outcome.
type HistoryLine struct {
	Step    int
	Action  string
	Success bool
	Message string
	Memory  string
}

// History renders previous actions, oldest first. It returns "" for none.
func History(lines []HistoryLine) string {
	if len(lines) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("<history>\n")
	for _, l := range lines {
		status := "ok"
		if !l.Success {
			status = "failed"
		}
		fmt.Fprintf(&sb, "step %d: %s -> %s", l.Step, l.Action, status)
		if l.Message != "" && l.Memory == "" {
			fmt.Fprintf(&sb, ": %s", l.Message)
		}
		sb.WriteString("\n")
		if l.Memory != "" {
			sb.WriteString(l.Memory)
			sb.WriteString("\n")
		}
	}
	sb.WriteString("</history>")
	return sb.String()
}
