package fs

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// DeleteFile removes the file or empty directory at path. Open contexts
// for the removed entry stay usable by their holders, but a later create
// at the same path gets a fresh context.
func (d *Dispatcher) DeleteFile(path string) error {
	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return d.fail(OpDelete, path, err)
	}

	info, err := os.Lstat(realPath)
	if err != nil {
		return d.fail(OpDelete, path, err)
	}

	if info.IsDir() {
		if err := unix.Rmdir(realPath); err != nil {
			return d.fail(OpDelete, path, &os.PathError{Op: "rmdir", Path: realPath, Err: err})
		}
	} else {
		d.pinBeforeUnlink(realPath)
		if err := os.Remove(realPath); err != nil {
			return d.fail(OpDelete, path, err)
		}
	}

	d.handles.Forget(realPath)
	dispatchLogger.Debug("Deleted %q (dir=%v)", path, info.IsDir())
	return nil
}

// RenameOrMove moves path to newPath. A file replaces an existing file at
// newPath by deleting it first, so a failed move can leave newPath gone
// while path is still in place.
func (d *Dispatcher) RenameOrMove(path, newPath string) error {
	src, err := d.paths.Resolve(path)
	if err != nil {
		return d.fail(OpRename, path, err)
	}
	dst, err := d.paths.Resolve(newPath)
	if err != nil {
		return d.fail(OpRename, newPath, err)
	}

	info, err := os.Lstat(src)
	if err != nil {
		return d.fail(OpRename, path, err)
	}

	if !info.IsDir() && src != dst {
		existing, err := os.Lstat(dst)
		switch {
		case err == nil && !existing.IsDir():
			d.pinBeforeUnlink(dst)
			if err := os.Remove(dst); err != nil {
				return d.fail(OpRename, newPath, err)
			}
			d.handles.Forget(dst)
			dispatchLogger.Debug("Removed %q ahead of rename", newPath)
		case err != nil && !errors.Is(err, os.ErrNotExist):
			return d.fail(OpRename, newPath, err)
		}
	}

	if err := os.Rename(src, dst); err != nil {
		return d.fail(OpRename, path, err)
	}
	d.handles.Rename(src, dst)
	dispatchLogger.Debug("Renamed %q to %q", path, newPath)
	return nil
}

func (d *Dispatcher) pinBeforeUnlink(realPath string) {
	if err := d.handles.Pin(realPath); err != nil {
		dispatchLogger.Warn("Failed to open %q ahead of unlink: %v", realPath, err)
	}
}
