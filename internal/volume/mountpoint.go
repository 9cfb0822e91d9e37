package volume

import (
	"os"
	"path/filepath"

	"github.com/alexflint/go-filemutex"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrNoMountPoint indicates every letter directory is taken
	ErrNoMountPoint = errors.New("no mount point available")

	// ErrAlreadyMounted indicates the directory already hosts a filesystem
	ErrAlreadyMounted = errors.New("already a mount point")
)

// MountPoint is a directory reserved for mounting the volume.
type MountPoint struct {
	Path    string
	created bool
	lock    *filemutex.FileMutex
}

// AllocateMountPoint reserves the first free letter directory under base,
// trying "z" first and working down to "a". A letter is free when no other
// process holds its reservation lock and nothing is mounted on it.
func AllocateMountPoint(base string) (*MountPoint, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, errors.Wrapf(err, "create mount base %s", base)
	}

	for letter := 'z'; letter >= 'a'; letter-- {
		dir := filepath.Join(base, string(letter))

		lock, err := filemutex.New(filepath.Join(base, "."+string(letter)+".lock"))
		if err != nil {
			return nil, errors.Wrapf(err, "open reservation lock for %s", dir)
		}
		if err := lock.TryLock(); err != nil {
			logger.Trace("Mount point %s is reserved", dir)
			lock.Close()
			continue
		}

		mp, err := prepareMountPoint(dir, lock)
		if err != nil {
			logger.Trace("Skipping mount point %s: %v", dir, err)
			lock.Unlock()
			lock.Close()
			continue
		}
		logger.Debug("Allocated mount point %s", dir)
		return mp, nil
	}
	return nil, errors.Wrapf(ErrNoMountPoint, "under %s", base)
}

// UseMountPoint prepares an explicitly chosen mount point directory.
func UseMountPoint(path string) (*MountPoint, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve mount point %s", path)
	}
	return prepareMountPoint(abs, nil)
}

func prepareMountPoint(dir string, lock *filemutex.FileMutex) (*MountPoint, error) {
	mp := &MountPoint{Path: dir, lock: lock}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.Mkdir(dir, 0755); err != nil {
			return nil, errors.Wrapf(err, "create mount point %s", dir)
		}
		mp.created = true
		return mp, nil
	case err != nil:
		return nil, errors.Wrapf(err, "stat mount point %s", dir)
	case !info.IsDir():
		return nil, errors.Errorf("mount point %s is not a directory", dir)
	}

	mounted, err := IsMountPoint(dir)
	if err != nil {
		return nil, err
	}
	if mounted {
		return nil, errors.Wrapf(ErrAlreadyMounted, "%s", dir)
	}
	return mp, nil
}

// IsMountPoint reports whether dir is on a different device than its
// parent directory.
func IsMountPoint(dir string) (bool, error) {
	var self, parent unix.Stat_t
	if err := unix.Stat(dir, &self); err != nil {
		return false, errors.Wrapf(err, "stat %s", dir)
	}
	if err := unix.Stat(filepath.Dir(dir), &parent); err != nil {
		return false, errors.Wrapf(err, "stat parent of %s", dir)
	}
	return self.Dev != parent.Dev, nil
}

// Release gives the mount point back, removing the directory if it was
// created by the allocation.
func (mp *MountPoint) Release() error {
	var err error
	if mp.created {
		if rmErr := os.Remove(mp.Path); rmErr != nil && !os.IsNotExist(rmErr) {
			err = errors.Wrapf(rmErr, "remove mount point %s", mp.Path)
		}
		mp.created = false
	}
	if mp.lock != nil {
		mp.lock.Unlock()
		mp.lock.Close()
		mp.lock = nil
	}
	return err
}
