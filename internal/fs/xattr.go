package fs

import (
	"bytes"
	"errors"

	"golang.org/x/sys/unix"
)

// ErrNoAttribute indicates the extended attribute is not set
var ErrNoAttribute = errors.New("no such attribute")

// GetXattr returns the value of the extended attribute name on path.
// Like GetFileInfo, the xattr calls follow symlinks.
func (d *Dispatcher) GetXattr(path, name string) ([]byte, error) {
	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return nil, d.fail(OpXattr, path, err)
	}

	size, err := unix.Getxattr(realPath, name, nil)
	if err != nil {
		return nil, d.xattrFail(path, err)
	}
	buf := make([]byte, size)
	n, err := unix.Getxattr(realPath, name, buf)
	if err != nil {
		return nil, d.xattrFail(path, err)
	}
	return buf[:n], nil
}

// ListXattr returns the names of the extended attributes on path.
func (d *Dispatcher) ListXattr(path string) ([]string, error) {
	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return nil, d.fail(OpXattr, path, err)
	}

	size, err := unix.Listxattr(realPath, nil)
	if err != nil {
		return nil, d.xattrFail(path, err)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := unix.Listxattr(realPath, buf)
	if err != nil {
		return nil, d.xattrFail(path, err)
	}

	var names []string
	for _, name := range bytes.Split(buf[:n], []byte{0}) {
		if len(name) > 0 {
			names = append(names, string(name))
		}
	}
	return names, nil
}

// SetXattr sets the extended attribute name on path.
func (d *Dispatcher) SetXattr(path, name string, value []byte, flags int) error {
	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return d.fail(OpXattr, path, err)
	}
	if err := unix.Setxattr(realPath, name, value, flags); err != nil {
		return d.xattrFail(path, err)
	}
	return nil
}

// RemoveXattr removes the extended attribute name from path.
func (d *Dispatcher) RemoveXattr(path, name string) error {
	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return d.fail(OpXattr, path, err)
	}
	if err := unix.Removexattr(realPath, name); err != nil {
		return d.xattrFail(path, err)
	}
	return nil
}

func (d *Dispatcher) xattrFail(path string, err error) error {
	if errors.Is(err, unix.ENODATA) {
		return NewError(OpXattr, path, ErrNoAttribute)
	}
	return d.fail(OpXattr, path, err)
}
