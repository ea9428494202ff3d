package aggregate

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a virtual path that does not resolve to any root.
	ErrNotFound = errors.New("virtual path not found")

	// ErrAmbiguousRoot is returned when an operation needs a nested path but
	// the target root cannot be decided. It is a not-found condition.
	ErrAmbiguousRoot = fmt.Errorf("cannot decide which root path to operate on: %w", ErrNotFound)

	// ErrInvalidPath indicates an invalid path format
	ErrInvalidPath = errors.New("invalid path format")

	// ErrNotDirectory indicates a listing of something that is not a directory
	ErrNotDirectory = errors.New("not a directory")

	// ErrInvalidArgument indicates an unusable combination of open options
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error wraps an operation failure with the operation name and the virtual
// path it was called with.
type Error struct {
	Op   string // Operation that failed (e.g., "getentry", "move")
	Path string // Virtual path
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

func newError(op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Err: err}
}

// Operation names used in errors and logs
const (
	OpCreateDirectory = "createdirectory"
	OpCreateFile      = "createfile"
	OpDelete          = "delete"
	OpGetEntry        = "getentry"
	OpListDataStreams = "listdatastreams"
	OpListEntries     = "listentries"
	OpMove            = "move"
	OpOpenFile        = "openfile"
	OpSetAttributes   = "setattributes"
	OpSetDates        = "setdates"
)
