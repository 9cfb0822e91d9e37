package fs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"
)

// GetFileInfo stats the entry at path. A path that does not resolve is
// reported with Exists false rather than as an error.
func (d *Dispatcher) GetFileInfo(path string) (FileInfo, error) {
	missing := FileInfo{Name: filepath.Base(CleanVirtualPath(path))}

	realPath, err := d.paths.Resolve(path)
	if err != nil {
		dispatchLogger.Debug("GetFileInfo %q: %v", path, err)
		return missing, nil
	}

	info, err := os.Stat(realPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			dispatchLogger.Warn("GetFileInfo %q: %v", path, err)
		}
		return missing, nil
	}

	fi := fileInfoFromStat(info, realPath)
	dispatchLogger.Trace("GetFileInfo %q: size=%d attributes=%#x", path, fi.EndOfFile, fi.Attributes)
	return fi, nil
}

// SetFileAttributes applies non-zero attributes and every timestamp that
// is not the zero time. Creation time cannot be changed on this platform
// and is ignored.
func (d *Dispatcher) SetFileAttributes(path string, creation, access, write time.Time, attributes uint32) error {
	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return d.fail(OpSetAttr, path, err)
	}

	info, err := os.Stat(realPath)
	if err != nil {
		return d.fail(OpSetAttr, path, err)
	}

	if attributes != 0 {
		mode := modeWithAttributes(info.Mode(), attributes)
		if mode != info.Mode() {
			dispatchLogger.Debug("Changing mode of %q from %v to %v", path, info.Mode(), mode)
			if err := os.Chmod(realPath, mode&(os.ModePerm|os.ModeSetuid|os.ModeSetgid|os.ModeSticky)); err != nil {
				return d.fail(OpSetAttr, path, err)
			}
		}
	}

	if !creation.IsZero() {
		dispatchLogger.Debug("Ignoring creation time %v for %q", creation, path)
	}

	if !access.IsZero() || !write.IsZero() {
		if err := setEntryTimes(realPath, access, write); err != nil {
			return d.fail(OpSetAttr, path, err)
		}
	}
	return nil
}

// CanFileBeDeleted never vetoes a delete.
func (d *Dispatcher) CanFileBeDeleted(path string) (bool, error) {
	dispatchLogger.Trace("CanFileBeDeleted %q", path)
	return true, nil
}

// IsDirectoryEmpty reports whether the directory at path has no entries.
func (d *Dispatcher) IsDirectoryEmpty(path string) (bool, error) {
	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return false, d.fail(OpIsDirEmpty, path, err)
	}

	dir, err := os.Open(realPath)
	if err != nil {
		return false, d.fail(OpIsDirEmpty, path, err)
	}
	defer dir.Close()

	_, err = dir.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, d.fail(OpIsDirEmpty, path, err)
	}
	return false, nil
}
