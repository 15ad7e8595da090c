package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minicloud/minicloud/pkg/types"
)

// Manager creates and isolates per-task directories under a per-user
// root and resolves client-supplied relative paths safely. Every
// file-serving operation routes through EnsureSubpath; nothing else
// may translate a client path into a filesystem path.
type Manager struct {
	root string
}

// NewManager creates a workspace manager rooted at the given
// directory. The root is created if missing.
func NewManager(root string) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	// Canonicalize once so every workspace path handed out is already
	// symlink-free.
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}
	return &Manager{root: canonical}, nil
}

// Root returns the absolute workspace root
func (m *Manager) Root() string {
	return m.root
}

// WorkspaceFor returns the absolute directory owned by a task:
// <root>/<user_name>/task_<task_id>. Pure function; does not create.
func (m *Manager) WorkspaceFor(userName string, taskID int64) string {
	return filepath.Join(m.root, userName, fmt.Sprintf("task_%d", taskID))
}

// Ensure creates the directory if it does not exist. Idempotent.
func (m *Manager) Ensure(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

// Remove deletes a workspace directory and everything below it
func (m *Manager) Remove(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to remove workspace: %w", err)
	}
	return nil
}

// EnsureSubpath resolves (base / userPath) to its canonical form with
// symlinks followed and verifies the result stays under base. This is
// the only sanctioned translation of a client-supplied path. Absolute
// inputs, ".." escapes and symlink escapes all fail with
// ErrInvalidPath. The target itself does not have to exist; missing
// tail components are resolved against their deepest existing
// ancestor.
func (m *Manager) EnsureSubpath(base, userPath string) (string, error) {
	if base == "" || !filepath.IsAbs(base) {
		// A task without a materialized workspace has no base; joining
		// against "" would resolve into the process working directory.
		return "", fmt.Errorf("%w: no workspace directory", types.ErrInvalidPath)
	}
	if filepath.IsAbs(userPath) {
		return "", fmt.Errorf("%w: absolute paths are not allowed", types.ErrInvalidPath)
	}

	realBase, err := resolvePath(base)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidPath, err)
	}

	resolved, err := resolvePath(filepath.Join(base, userPath))
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidPath, err)
	}

	if resolved != realBase && !strings.HasPrefix(resolved, realBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes the workspace", types.ErrInvalidPath, userPath)
	}
	return resolved, nil
}

// resolvePath canonicalizes a path even when its tail does not exist:
// symlinks are resolved on the deepest existing ancestor and the
// missing components are re-attached. The missing tail cannot contain
// ".." because the input is an absolute, lexically cleaned path.
func resolvePath(path string) (string, error) {
	path = filepath.Clean(path)
	remainder := ""
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("cannot resolve %s", path)
		}
		remainder = filepath.Join(filepath.Base(path), remainder)
		path = parent
	}
}

// ListDir returns the direct children of dir as FileNodes with paths
// relative to base. A missing dir yields an empty list, not an error.
func (m *Manager) ListDir(base, dir string) ([]types.FileNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []types.FileNode{}, nil
		}
		return nil, fmt.Errorf("failed to list directory: %w", err)
	}

	nodes := make([]types.FileNode, 0, len(entries))
	for _, entry := range entries {
		node, ok := fileNode(base, filepath.Join(dir, entry.Name()), entry)
		if !ok {
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Tree returns a recursive listing below base up to maxDepth levels.
// Entries whose stat fails (deleted mid-walk) are skipped silently.
func (m *Manager) Tree(base string, maxDepth int) ([]types.FileNode, error) {
	nodes := []types.FileNode{}
	err := m.walk(base, base, 1, maxDepth, &nodes)
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

func (m *Manager) walk(base, dir string, depth, maxDepth int, nodes *[]types.FileNode) error {
	if depth > maxDepth {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to walk %s: %w", dir, err)
	}

	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())
		node, ok := fileNode(base, full, entry)
		if !ok {
			continue
		}
		*nodes = append(*nodes, node)
		if entry.IsDir() {
			if err := m.walk(base, full, depth+1, maxDepth, nodes); err != nil {
				return err
			}
		}
	}
	return nil
}

// fileNode builds one listing entry; ok is false when the entry
// vanished between the directory read and the stat
func fileNode(base, full string, entry os.DirEntry) (types.FileNode, bool) {
	rel, err := filepath.Rel(base, full)
	if err != nil {
		return types.FileNode{}, false
	}

	node := types.FileNode{
		Path:  rel,
		Name:  entry.Name(),
		IsDir: entry.IsDir(),
	}
	if !entry.IsDir() {
		info, err := entry.Info()
		if err != nil {
			return types.FileNode{}, false
		}
		size := info.Size()
		node.Size = &size
	}
	return node, true
}
