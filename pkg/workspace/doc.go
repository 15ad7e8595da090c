/*
Package workspace manages per-task directories and safe path resolution.

Every task owns one directory, <root>/<user_name>/task_<task_id>, created
when the task is dispatched, bind-mounted into its container at
/workspaces, and retained after terminal status for artifact retrieval.
This package creates those directories, lists their contents, and — most
importantly — translates client-supplied relative paths into filesystem
paths without letting anything escape the workspace.

# Path Safety

EnsureSubpath is the single sanctioned translation point. For a base B
and user input U it either returns a canonical path under B or fails
with types.ErrInvalidPath:

  - U is joined to B and lexically cleaned
  - symlinks are resolved along the deepest existing ancestor, so a
    link pointing outside the workspace is caught after resolution,
    not trusted by name
  - missing tail components (a file about to be downloaded that does
    not exist) are re-attached after resolution rather than failing
  - absolute U is rejected outright
  - the final canonical path must have B's canonical form as a prefix

Property: for all B, U — EnsureSubpath(B, U) returns a path whose
canonical form starts with B's canonical form, or it fails. ".."
chains, absolute inputs, and symlink escapes all land in the failure
branch. Every file-serving endpoint routes through it.

# Listings

ListDir returns direct children as FileNodes; Tree recurses to a depth
bound (the API uses 2). Paths in both are relative to the workspace
base so a client can feed them straight back to the download endpoint.
A listing of a missing directory is an empty list, and entries that
vanish between the directory read and the stat are skipped silently.

# Usage

	wm, err := workspace.NewManager(cfg.WorkspaceRoot)

	dir := wm.WorkspaceFor("alice", task.ID) // pure, no I/O
	err = wm.Ensure(dir)                     // idempotent create

	target, err := wm.EnsureSubpath(dir, r.URL.Query().Get("path"))
	if err != nil {
		// 400 invalid path
	}
	nodes, err := wm.ListDir(dir, target)

# Integration Points

This package integrates with:

  - pkg/manager: workspace creation at dispatch, file/tree/download
    operations, workspace removal on delete
  - pkg/worker: re-ensures the directory before starting a container
  - pkg/runtime: the returned paths become bind mounts
*/
package workspace
