package fs

import (
	"context"
	"errors"
	"os"
	"syscall"

	"aggfs/internal/aggregate"
	"aggfs/internal/logging"

	"bazil.org/fuse"
)

var (
	errLogger = logging.GetLogger().WithPrefix("error")
)

// ToFuseError converts an aggregate or native error into the errno FUSE
// replies with. Native errnos are passed through unchanged.
func ToFuseError(err error) error {
	if err == nil {
		return nil
	}
	errLogger.Trace("Converting error to FUSE errno: %v", err)

	var errno syscall.Errno
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fuse.Errno(syscall.EINTR)
	case errors.Is(err, aggregate.ErrAmbiguousRoot):
		// New entries cannot be placed directly in the merged root.
		return fuse.Errno(syscall.EACCES)
	case errors.Is(err, aggregate.ErrNotFound):
		return fuse.Errno(syscall.ENOENT)
	case errors.Is(err, aggregate.ErrInvalidPath), errors.Is(err, aggregate.ErrInvalidArgument):
		return fuse.Errno(syscall.EINVAL)
	case errors.Is(err, aggregate.ErrNotDirectory):
		return fuse.Errno(syscall.ENOTDIR)
	case errors.As(err, &errno):
		return fuse.Errno(errno)
	case errors.Is(err, os.ErrExist):
		return fuse.Errno(syscall.EEXIST)
	case errors.Is(err, os.ErrNotExist):
		return fuse.Errno(syscall.ENOENT)
	case errors.Is(err, os.ErrPermission):
		return fuse.Errno(syscall.EACCES)
	default:
		errLogger.Debug("Unknown error type, returning EIO: %v", err)
		return fuse.Errno(syscall.EIO)
	}
}
