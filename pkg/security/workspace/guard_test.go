package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	g, err := NewGuard(t.TempDir())
	require.NoError(t, err)
	return g
}

func TestNewGuard(t *testing.T) {
	tmp := t.TempDir()
	file := filepath.Join(tmp, "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	tests := []struct {
		name    string
		dir     string
		wantErr bool
	}{
		{"existing directory", tmp, false},
		{"current directory", ".", false},
		{"empty", "", true},
		{"missing", filepath.Join(tmp, "nope"), true},
		{"regular file", file, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := NewGuard(tt.dir)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(g.Root()))
		})
	}
}

func TestResolve(t *testing.T) {
	g := newTestGuard(t)
	root := g.Root()

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"relative file", "notes.txt", filepath.Join(root, "notes.txt"), false},
		{"nested missing dirs", "a/b/c.md", filepath.Join(root, "a", "b", "c.md"), false},
		{"dot segments inside", "a/../b.txt", filepath.Join(root, "b.txt"), false},
		{"absolute inside", filepath.Join(root, "x.txt"), filepath.Join(root, "x.txt"), false},
		{"root itself", ".", root, false},
		{"traversal", "../escape.txt", "", true},
		{"deep traversal", "a/../../escape.txt", "", true},
		{"absolute outside", "/etc/passwd", "", true},
		{"empty", "", "", true},
		{"blank", "   ", "", true},
		{"nul byte", "a\x00b", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.Resolve(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveOutsideIsSentinel(t *testing.T) {
	g := newTestGuard(t)
	_, err := g.Resolve("../x")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	g := newTestGuard(t)
	outside := t.TempDir()
	link := filepath.Join(g.Root(), "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	_, err := g.Resolve("link/secret.txt")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestSiblingPrefixIsOutside(t *testing.T) {
	parent := t.TempDir()
	ws := filepath.Join(parent, "ws")
	sibling := filepath.Join(parent, "ws-other")
	require.NoError(t, os.Mkdir(ws, 0o755))
	require.NoError(t, os.Mkdir(sibling, 0o755))

	g, err := NewGuard(ws)
	require.NoError(t, err)
	_, err = g.Resolve(filepath.Join(sibling, "f.txt"))
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestAllowDir(t *testing.T) {
	g := newTestGuard(t)
	downloads := filepath.Join(t.TempDir(), "downloads")

	_, err := g.Resolve(filepath.Join(downloads, "report.pdf"))
	require.Error(t, err)

	require.NoError(t, g.AllowDir(downloads))
	require.NoError(t, g.AllowDir(downloads))
	assert.Len(t, g.AllowedDirs(), 1)

	got, err := g.Resolve(filepath.Join(downloads, "report.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", filepath.Base(got))

	assert.Error(t, g.AllowDir(""))
}

func TestRel(t *testing.T) {
	g := newTestGuard(t)
	assert.Equal(t, filepath.Join("a", "b.txt"), g.Rel(filepath.Join(g.Root(), "a", "b.txt")))
	assert.Equal(t, "/elsewhere/x", g.Rel("/elsewhere/x"))
}
