package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/minicloud/minicloud/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	return m
}

// TestWorkspaceFor tests the per-task directory layout
func TestWorkspaceFor(t *testing.T) {
	m := newTestManager(t)

	path := m.WorkspaceFor("alice", 42)
	assert.Equal(t, filepath.Join(m.Root(), "alice", "task_42"), path)
	assert.True(t, filepath.IsAbs(path))

	// Pure function: nothing was created
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Ensure is idempotent
	require.NoError(t, m.Ensure(path))
	require.NoError(t, m.Ensure(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestEnsureSubpathAccepts tests paths that legitimately stay inside
// the workspace
func TestEnsureSubpathAccepts(t *testing.T) {
	m := newTestManager(t)
	base := m.WorkspaceFor("alice", 1)
	require.NoError(t, m.Ensure(filepath.Join(base, "out", "deep")))

	tests := []struct {
		name     string
		userPath string
		want     string
	}{
		{"empty path is the base itself", "", base},
		{"dot is the base itself", ".", base},
		{"existing child", "out", filepath.Join(base, "out")},
		{"nested child", "out/deep", filepath.Join(base, "out", "deep")},
		{"missing file resolves against existing ancestor", "out/result.txt", filepath.Join(base, "out", "result.txt")},
		{"redundant separators", "out//deep/", filepath.Join(base, "out", "deep")},
		{"internal dotdot that stays inside", "out/deep/../deep", filepath.Join(base, "out", "deep")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.EnsureSubpath(base, tt.userPath)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestEnsureSubpathRejectsTraversal tests the anti-traversal property:
// "..", absolute paths, and escapes through missing components fail
func TestEnsureSubpathRejectsTraversal(t *testing.T) {
	m := newTestManager(t)
	base := m.WorkspaceFor("alice", 1)
	require.NoError(t, m.Ensure(base))

	tests := []struct {
		name     string
		userPath string
	}{
		{"plain dotdot", ".."},
		{"classic etc traversal", "../../etc"},
		{"deep traversal", "../../../../etc/passwd"},
		{"dotdot after valid prefix", "out/../../other_user"},
		{"absolute path", "/etc/passwd"},
		{"absolute path into base", base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.EnsureSubpath(base, tt.userPath)
			assert.ErrorIs(t, err, types.ErrInvalidPath)
		})
	}
}

// TestEnsureSubpathRejectsBadBase tests that a missing or relative base
// never resolves: a task whose workspace was never materialized has
// Path "" and joining against that would land in the process working
// directory
func TestEnsureSubpathRejectsBadBase(t *testing.T) {
	m := newTestManager(t)

	tests := []struct {
		name string
		base string
	}{
		{"empty base", ""},
		{"relative base", "alice/task_1"},
		{"dot base", "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.EnsureSubpath(tt.base, "")
			assert.ErrorIs(t, err, types.ErrInvalidPath)

			_, err = m.EnsureSubpath(tt.base, "out.txt")
			assert.ErrorIs(t, err, types.ErrInvalidPath)
		})
	}
}

// TestEnsureSubpathRejectsSymlinkEscape tests that symlinks pointing
// outside the workspace are caught after resolution
func TestEnsureSubpathRejectsSymlinkEscape(t *testing.T) {
	m := newTestManager(t)
	base := m.WorkspaceFor("alice", 1)
	require.NoError(t, m.Ensure(base))

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret"), []byte("x"), 0o644))

	// A symlink inside the workspace pointing out of it
	link := filepath.Join(base, "escape")
	require.NoError(t, os.Symlink(outside, link))

	_, err := m.EnsureSubpath(base, "escape")
	assert.ErrorIs(t, err, types.ErrInvalidPath)

	_, err = m.EnsureSubpath(base, "escape/secret")
	assert.ErrorIs(t, err, types.ErrInvalidPath)

	// A symlink that stays inside is fine
	require.NoError(t, m.Ensure(filepath.Join(base, "real")))
	require.NoError(t, os.Symlink(filepath.Join(base, "real"), filepath.Join(base, "alias")))

	got, err := m.EnsureSubpath(base, "alias")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "real"), got)
}

// TestListDir tests direct-children listing with base-relative paths
func TestListDir(t *testing.T) {
	m := newTestManager(t)
	base := m.WorkspaceFor("alice", 1)
	require.NoError(t, m.Ensure(filepath.Join(base, "sub")))
	require.NoError(t, os.WriteFile(filepath.Join(base, "out.txt"), []byte("hi\n"), 0o644))

	nodes, err := m.ListDir(base, base)
	require.NoError(t, err)
	require.Len(t, nodes, 2)

	byName := map[string]types.FileNode{}
	for _, n := range nodes {
		byName[n.Name] = n
	}

	file := byName["out.txt"]
	assert.Equal(t, "out.txt", file.Path)
	assert.False(t, file.IsDir)
	require.NotNil(t, file.Size)
	assert.Equal(t, int64(3), *file.Size)

	dir := byName["sub"]
	assert.True(t, dir.IsDir)
	assert.Nil(t, dir.Size, "directories have no size")

	// Children of a subdirectory keep base-relative paths
	require.NoError(t, os.WriteFile(filepath.Join(base, "sub", "inner.txt"), []byte("x"), 0o644))
	nodes, err = m.ListDir(base, filepath.Join(base, "sub"))
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, filepath.Join("sub", "inner.txt"), nodes[0].Path)
}

// TestListDirMissing tests the empty-list contract for missing dirs
func TestListDirMissing(t *testing.T) {
	m := newTestManager(t)
	base := m.WorkspaceFor("alice", 1)

	nodes, err := m.ListDir(base, filepath.Join(base, "nowhere"))
	require.NoError(t, err)
	assert.Empty(t, nodes)
	assert.NotNil(t, nodes, "missing dir yields [], not null")
}

// TestTreeDepthLimit tests recursive listing with a depth bound
func TestTreeDepthLimit(t *testing.T) {
	m := newTestManager(t)
	base := m.WorkspaceFor("alice", 1)
	require.NoError(t, m.Ensure(filepath.Join(base, "a", "b", "c")))
	require.NoError(t, os.WriteFile(filepath.Join(base, "top.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "a", "mid.txt"), []byte("2"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "a", "b", "deep.txt"), []byte("3"), 0o644))

	nodes, err := m.Tree(base, 2)
	require.NoError(t, err)

	var paths []string
	for _, n := range nodes {
		paths = append(paths, n.Path)
	}

	assert.Contains(t, paths, "top.txt")
	assert.Contains(t, paths, "a")
	assert.Contains(t, paths, filepath.Join("a", "mid.txt"))
	assert.Contains(t, paths, filepath.Join("a", "b"))
	assert.NotContains(t, paths, filepath.Join("a", "b", "deep.txt"), "depth 3 is beyond the bound")
	assert.NotContains(t, paths, filepath.Join("a", "b", "c"))
}
