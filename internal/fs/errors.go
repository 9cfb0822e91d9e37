// Package fs implements the operation dispatcher that satisfies virtual
// volume callbacks against a real directory tree.
//
// This file contains error types and error handling utilities.
package fs

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

var (
	// ErrNotFound indicates the real path does not exist
	ErrNotFound = errors.New("path not found")

	// ErrInvalidHandle indicates a token that resolves to no live context,
	// or a context whose native handle is no longer usable
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrAccessDenied indicates the real filesystem refused the operation
	ErrAccessDenied = errors.New("access denied")

	// ErrAlreadyExists indicates path already exists
	ErrAlreadyExists = errors.New("path already exists")

	// ErrNotEmpty indicates attempt to remove non-empty directory
	ErrNotEmpty = errors.New("directory not empty")
)

// Error wraps filesystem errors with context about the operation
// and affected path.
type Error struct {
	Op   string // Operation that failed (e.g., "open", "read")
	Path string // Affected path
	Err  error  // Underlying error
}

// Error implements the error interface, providing a formatted error message
func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("operation %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("operation %s on %s failed: %v", e.Op, e.Path, e.Err)
}

// Unwrap implements error unwrapping for the errors.Is/As functions
func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match an Error against the sentinel of its kind, so
// callers can test errors.Is(err, ErrNotFound) regardless of whether the
// underlying error came from the os package or from this one.
func (e *Error) Is(target error) bool {
	kind := Kind(e.Err)
	return kind != nil && kind == target
}

// NewError creates a new Error with the given operation, path, and underlying error
func NewError(op string, path string, err error) *Error {
	return &Error{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// Kind classifies err into one of the sentinel errors of this package.
// It returns nil for errors outside the taxonomy, which are reported to
// the host unchanged.
func Kind(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidHandle), errors.Is(err, os.ErrClosed):
		return ErrInvalidHandle
	case errors.Is(err, ErrNotFound), errors.Is(err, os.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, ErrNotEmpty), errors.Is(err, syscall.ENOTEMPTY):
		return ErrNotEmpty
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, os.ErrExist):
		return ErrAlreadyExists
	case errors.Is(err, ErrAccessDenied), errors.Is(err, os.ErrPermission):
		return ErrAccessDenied
	default:
		return nil
	}
}

// Common operation names for consistent logging and error reporting
const (
	OpTranslate  = "translate"
	OpCreate     = "create"
	OpOpen       = "open"
	OpClose      = "close"
	OpGetInfo    = "getinfo"
	OpSetAttr    = "setattr"
	OpSetEOF     = "seteof"
	OpRead       = "read"
	OpWrite      = "write"
	OpDelete     = "delete"
	OpRename     = "rename"
	OpEnumerate  = "enumerate"
	OpIsDirEmpty = "isdirempty"
	OpCloseEnum  = "closeenum"
	OpCanDelete  = "candelete"
	OpReleaseAll = "releaseall"
	OpFlush      = "flush"
	OpXattr      = "xattr"
)
