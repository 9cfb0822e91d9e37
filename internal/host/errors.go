package host

import (
	"errors"
	"syscall"

	"mirrorfs/internal/fs"
	"mirrorfs/internal/logging"

	"bazil.org/fuse"
)

var (
	errLogger = logging.GetLogger().WithPrefix("errno")
)

// toErrno converts a dispatcher error into the errno handed to the kernel.
func toErrno(op string, err error) error {
	if err == nil {
		return nil
	}

	var errno fuse.Errno
	if errors.As(err, &errno) {
		return errno
	}

	var code syscall.Errno
	switch {
	case errors.Is(err, fs.ErrNotFound):
		code = syscall.ENOENT
	case errors.Is(err, fs.ErrInvalidHandle):
		code = syscall.EBADF
	case errors.Is(err, fs.ErrAccessDenied):
		code = syscall.EACCES
	case errors.Is(err, fs.ErrNotEmpty):
		code = syscall.ENOTEMPTY
	case errors.Is(err, fs.ErrAlreadyExists):
		code = syscall.EEXIST
	case errors.Is(err, fs.ErrNoAttribute):
		return fuse.ErrNoXattr
	case errors.As(err, &code):
	default:
		code = syscall.EIO
	}

	if code == syscall.ENOENT {
		errLogger.Trace("%s: %v", op, err)
	} else {
		errLogger.Debug("%s: %v (errno %d)", op, err, code)
	}
	return fuse.Errno(code)
}
