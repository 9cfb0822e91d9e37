package host

import (
	"context"
	"errors"
	"sync"
	"time"

	"mirrorfs/internal/fs"
	"mirrorfs/internal/logging"

	"bazil.org/fuse"
)

var (
	nodeLogger = logging.GetLogger().WithPrefix("node")
)

// entry is the state shared by files and directories: the virtual path
// the node currently stands for.
type entry struct {
	fs   *FS
	mu   sync.RWMutex
	path string
}

func (e *entry) base() *entry {
	return e
}

// Path returns the node's current virtual path.
func (e *entry) Path() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.path
}

func (e *entry) setPath(p string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.path = p
}

// attr stats the entry through the dispatcher.
func (e *entry) attr(ctx context.Context, a *fuse.Attr) error {
	p := e.Path()
	return e.fs.run(ctx, fs.OpGetInfo, func() error {
		info, err := e.fs.ops.GetFileInfo(p)
		if err != nil {
			return err
		}
		if !info.Exists {
			nodeLogger.Trace("Entry %q no longer exists", p)
			return fs.NewError(fs.OpGetInfo, p, fs.ErrNotFound)
		}
		e.fs.fillAttr(info, a)
		return nil
	})
}

// setattr applies size, mode and time changes.
func (e *entry) setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	p := e.Path()
	nodeLogger.Debug("Setattr %q valid=%v", p, req.Valid)

	err := e.fs.run(ctx, fs.OpSetAttr, func() error {
		if req.Valid.Size() {
			token, err := e.fs.ops.Open(p, accessWrite, 0, shareAll, fs.NoToken)
			if err != nil {
				return err
			}
			sizeErr := e.fs.ops.SetEndOfFile(token, int64(req.Size))
			closeErr := e.fs.ops.Close(token)
			if sizeErr != nil {
				return sizeErr
			}
			if closeErr != nil {
				return closeErr
			}
		}

		var attributes uint32
		if req.Valid.Mode() {
			attributes = fs.AttributeNormal
			if req.Mode.Perm()&0200 == 0 {
				attributes = fs.AttributeReadOnly
			}
		}

		var access, write time.Time
		if req.Valid.Atime() {
			access = req.Atime
		}
		if req.Valid.AtimeNow() {
			access = time.Now()
		}
		if req.Valid.Mtime() {
			write = req.Mtime
		}
		if req.Valid.MtimeNow() {
			write = time.Now()
		}

		if attributes != 0 || !access.IsZero() || !write.IsZero() {
			return e.fs.ops.SetFileAttributes(p, time.Time{}, access, write, attributes)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.attr(ctx, &resp.Attr)
}

// forget drops the node from the cache; n is the Dir or File embedding e.
func (e *entry) forget(n node) {
	e.fs.forgetNode(n)
}

// Getxattr reads an extended attribute of the real entry.
func (e *entry) Getxattr(ctx context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	p := e.Path()
	nodeLogger.Debug("Getting xattr %q for %q", req.Name, p)

	var value []byte
	err := e.fs.pool.Do(ctx, func() error {
		var err error
		value, err = e.fs.ops.GetXattr(p, req.Name)
		return err
	})
	if errors.Is(err, fs.ErrNoAttribute) {
		return fuse.ErrNoXattr
	}
	if err != nil {
		return toErrno(fs.OpXattr, err)
	}
	resp.Xattr = value
	return nil
}

// Listxattr lists the extended attributes of the real entry.
func (e *entry) Listxattr(ctx context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	p := e.Path()
	nodeLogger.Debug("Listing xattrs for %q", p)

	return e.fs.run(ctx, fs.OpXattr, func() error {
		names, err := e.fs.ops.ListXattr(p)
		if err != nil {
			return err
		}
		resp.Append(names...)
		return nil
	})
}

// Setxattr sets an extended attribute on the real entry.
func (e *entry) Setxattr(ctx context.Context, req *fuse.SetxattrRequest) error {
	p := e.Path()
	nodeLogger.Debug("Setting xattr %q for %q (%d bytes)", req.Name, p, len(req.Xattr))

	value := make([]byte, len(req.Xattr))
	copy(value, req.Xattr)
	return e.fs.run(ctx, fs.OpXattr, func() error {
		return e.fs.ops.SetXattr(p, req.Name, value, int(req.Flags))
	})
}

// Removexattr removes an extended attribute from the real entry.
func (e *entry) Removexattr(ctx context.Context, req *fuse.RemovexattrRequest) error {
	p := e.Path()
	nodeLogger.Debug("Removing xattr %q for %q", req.Name, p)

	err := e.fs.pool.Do(ctx, func() error {
		return e.fs.ops.RemoveXattr(p, req.Name)
	})
	if errors.Is(err, fs.ErrNoAttribute) {
		return fuse.ErrNoXattr
	}
	if err != nil {
		return toErrno(fs.OpXattr, err)
	}
	return nil
}

// Virtual access and share bits passed to Create and Open.
const (
	accessRead  uint32 = 0x80000000
	accessWrite uint32 = 0x40000000
	shareAll    uint32 = 0x00000007
)

// accessFromFlags maps open flags to virtual access bits.
func accessFromFlags(flags fuse.OpenFlags) uint32 {
	switch {
	case flags.IsReadWrite():
		return accessRead | accessWrite
	case flags.IsWriteOnly():
		return accessWrite
	default:
		return accessRead
	}
}

// attributesFromMode maps a POSIX mode to virtual attribute bits.
func attributesFromMode(mode uint32, dir bool) uint32 {
	attributes := fs.AttributeNormal
	if dir {
		attributes = fs.AttributeDirectory
	}
	if mode&0200 == 0 {
		attributes |= fs.AttributeReadOnly
		attributes &^= fs.AttributeNormal
	}
	return attributes
}
