// Package workspace confines file actions to the run's working directory.
// Paths are resolved against the workspace root, symlinks are evaluated, and
// anything that lands outside the root or an explicitly allowed directory is
// rejected.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrOutsideWorkspace is returned for paths that escape the workspace.
var ErrOutsideWorkspace = errors.New("path is outside the workspace")

// Guard resolves action-supplied paths inside a workspace directory.
type Guard struct {
	root string

	mu      sync.RWMutex
	allowed []string // extra directories, e.g. the downloads directory
}

// NewGuard creates a guard rooted at dir, which must exist.
func NewGuard(dir string) (*Guard, error) {
	if dir == "" {
		return nil, fmt.Errorf("workspace directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}
	root, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not a directory", root)
	}
	return &Guard{root: root}, nil
}

// Root returns the absolute workspace directory.
func (g *Guard) Root() string {
	return g.root
}

// AllowDir lets paths under dir through even though it is outside the root.
// dir need not exist yet.
func (g *Guard) AllowDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("allowed directory cannot be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve allowed directory: %w", err)
	}
	resolved := evalExisting(abs)

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, d := range g.allowed {
		if d == resolved {
			return nil
		}
	}
	g.allowed = append(g.allowed, resolved)
	return nil
}

// AllowedDirs returns a copy of the extra allowed directories.
func (g *Guard) AllowedDirs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.allowed...)
}

// Resolve turns a relative or absolute path into an absolute path inside the
// workspace. Relative paths are joined to the root; "~/" is not expanded.
func (g *Guard) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if strings.ContainsRune(path, 0) {
		return "", fmt.Errorf("path contains a NUL byte")
	}

	abs := filepath.Clean(path)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(g.root, abs)
	}
	resolved := evalExisting(abs)
	if !g.Contains(resolved) {
		return "", fmt.Errorf("%w: %s", ErrOutsideWorkspace, path)
	}
	return resolved, nil
}

// Contains reports whether the absolute path lies in the root or an allowed
// directory.
func (g *Guard) Contains(abs string) bool {
	p := evalExisting(abs)
	if within(p, g.root) {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, d := range g.allowed {
		if within(p, d) {
			return true
		}
	}
	return false
}

// Rel returns abs relative to the root, for messages shown to the model.
// Paths outside the root are returned unchanged.
func (g *Guard) Rel(abs string) string {
	if !within(abs, g.root) {
		return abs
	}
	rel, err := filepath.Rel(g.root, abs)
	if err != nil {
		return abs
	}
	return rel
}

func within(path, dir string) bool {
	if path == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// evalExisting evaluates symlinks in the longest existing prefix of path and
// re-appends the missing tail, so files that do not exist yet still resolve
// through a symlinked parent.
func evalExisting(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}

	var tail []string
	current := path
	for {
		parent := filepath.Dir(current)
		if parent == current {
			return filepath.Clean(path)
		}
		tail = append(tail, filepath.Base(current))
		current = parent
		if resolved, err := filepath.EvalSymlinks(current); err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved
		}
	}
}
