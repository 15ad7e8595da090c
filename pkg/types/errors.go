package types

import "errors"

// Sentinel errors shared across packages. The API layer maps them to
// HTTP status codes with errors.Is; everything else wraps them with
// fmt.Errorf("...: %w", err) so the mapping survives wrapping.
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrFileNotFound       = errors.New("file not found")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotTerminal        = errors.New("task is not terminal")
	ErrTerminal           = errors.New("task is already terminal")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrUnsupportedArchive = errors.New("unsupported archive format")
	ErrUnauthenticated    = errors.New("unauthenticated")
)
