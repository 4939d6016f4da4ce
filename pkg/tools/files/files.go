// Package files registers the sandboxed file actions. Every path is
// resolved through a workspace.Guard, so actions cannot reach outside the
// run's working directory.
package files

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/pagepilot/pkg/actions"
	"github.com/entrhq/pagepilot/pkg/security/workspace"
)

// MaxReadChars bounds read_file output.
const MaxReadChars = 20000

var errNoWorkspace = errors.New("no workspace directory configured")

// Register adds read_file, write_file, append_file and replace_file_str. A
// nil guard defers to the guard in each execution context.
func Register(reg *actions.Registry, guard *workspace.Guard) error {
	t := &fileActions{guard: guard}
	pathParam := actions.Property{
		Type:        actions.TypeString,
		Description: "Workspace-relative file path",
		Aliases:     []string{"file", "filename", "file_path"},
	}
	contentParam := actions.Property{Type: actions.TypeString, Aliases: []string{"text", "data"}}

	descriptors := []actions.Descriptor{
		{
			Name:        "read_file",
			Description: "Read a workspace file with line numbers, optionally a line range",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"path":       pathParam,
					"start_line": {Type: actions.TypeInteger, Minimum: actions.Min(1)},
					"end_line":   {Type: actions.TypeInteger, Minimum: actions.Min(1)},
				},
				Required: []string{"path"},
			},
			Handler: t.read,
		},
		{
			Name:        "write_file",
			Description: "Create or overwrite a workspace file",
			Params: actions.Schema{
				Properties: map[string]actions.Property{"path": pathParam, "content": contentParam},
				Required:   []string{"path", "content"},
			},
			Handler: t.write,
		},
		{
			Name:        "append_file",
			Description: "Append content to a workspace file, creating it if needed",
			Params: actions.Schema{
				Properties: map[string]actions.Property{"path": pathParam, "content": contentParam},
				Required:   []string{"path", "content"},
			},
			Handler: t.append,
		},
		{
			Name:        "replace_file_str",
			Description: "Replace every occurrence of old with new in a workspace file",
			Params: actions.Schema{
				Properties: map[string]actions.Property{
					"path": pathParam,
					"old":  {Type: actions.TypeString, Aliases: []string{"old_str", "search"}},
					"new":  {Type: actions.TypeString, Aliases: []string{"new_str", "replace"}},
				},
				Required: []string{"path", "old", "new"},
			},
			Handler: t.replace,
		},
	}
	for _, d := range descriptors {
		if err := reg.Register(d); err != nil {
			return err
		}
	}
	return nil
}

type fileActions struct {
	guard *workspace.Guard
}

func (t *fileActions) resolve(ectx *actions.ExecutionContext, path string) (*workspace.Guard, string, error) {
	g := t.guard
	if g == nil && ectx != nil {
		g = ectx.Files
	}
	if g == nil {
		return nil, "", errNoWorkspace
	}
	abs, err := g.Resolve(path)
	if err != nil {
		return nil, "", fmt.Errorf("invalid path: %w", err)
	}
	return g, abs, nil
}

func (t *fileActions) read(_ context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	_, abs, err := t.resolve(ectx, p.String("path"))
	if err != nil {
		return actions.Result{}, err
	}
	start, end := p.Int("start_line"), p.Int("end_line")
	if end > 0 && start > end {
		return actions.Result{}, &actions.ValidationError{
			Action: "read_file", Field: "end_line",
			Reason: fmt.Sprintf("must be >= start_line (%d), got %d", start, end),
		}
	}

	content, err := readNumbered(abs, start, end)
	if err != nil {
		return actions.Result{}, fmt.Errorf("failed to read file: %w", err)
	}
	if content == "" {
		content = "(no lines in range)"
	}
	if r := []rune(content); len(r) > MaxReadChars {
		content = string(r[:MaxReadChars]) + fmt.Sprintf("\n[Content truncated: %d of %d characters shown]", MaxReadChars, len(r))
	}
	return actions.Memory(fmt.Sprintf("%s:\n%s", p.String("path"), content)), nil
}

// readNumbered returns "N | line" rows between start and end, 1-based and
// inclusive; zero means unbounded.
func readNumbered(path string, start, end int) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	var b strings.Builder
	n := 0
	for scanner.Scan() {
		n++
		if start > 0 && n < start {
			continue
		}
		if end > 0 && n > end {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d | %s", n, scanner.Text())
	}
	return b.String(), scanner.Err()
}

func (t *fileActions) write(_ context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	g, abs, err := t.resolve(ectx, p.String("path"))
	if err != nil {
		return actions.Result{}, err
	}
	_, statErr := os.Stat(abs)
	if err := writeAtomic(abs, []byte(p.String("content"))); err != nil {
		return actions.Result{}, err
	}
	verb := "created"
	if statErr == nil {
		verb = "overwrote"
	}
	res := actions.Ok("%s %s (%d bytes)", verb, g.Rel(abs), len(p.String("content")))
	res.Attachments = []string{g.Rel(abs)}
	return res, nil
}

// writeAtomic writes through a temporary file in the same directory and
// renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".pagepilot-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

func (t *fileActions) append(_ context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	g, abs, err := t.resolve(ectx, p.String("path"))
	if err != nil {
		return actions.Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return actions.Result{}, fmt.Errorf("failed to create directories: %w", err)
	}
	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return actions.Result{}, fmt.Errorf("failed to open file: %w", err)
	}
	content := p.String("content")
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return actions.Result{}, fmt.Errorf("failed to append: %w", err)
	}
	if err := f.Close(); err != nil {
		return actions.Result{}, fmt.Errorf("failed to close file: %w", err)
	}
	return actions.Ok("appended %d bytes to %s", len(content), g.Rel(abs)), nil
}

func (t *fileActions) replace(_ context.Context, p actions.Params, ectx *actions.ExecutionContext) (actions.Result, error) {
	g, abs, err := t.resolve(ectx, p.String("path"))
	if err != nil {
		return actions.Result{}, err
	}
	old := p.String("old")
	if old == "" {
		return actions.Result{}, &actions.ValidationError{Action: "replace_file_str", Field: "old", Reason: "cannot be empty"}
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return actions.Result{}, fmt.Errorf("failed to read file: %w", err)
	}
	n := strings.Count(string(data), old)
	if n == 0 {
		return actions.Fail(actions.CodeActionError, "%q not found in %s", old, g.Rel(abs)), nil
	}
	if err := writeAtomic(abs, []byte(strings.ReplaceAll(string(data), old, p.String("new")))); err != nil {
		return actions.Result{}, err
	}
	return actions.Ok("replaced %d occurrence(s) in %s", n, g.Rel(abs)), nil
}
