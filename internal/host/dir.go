package host

import (
	"context"
	"os"
	"syscall"

	"mirrorfs/internal/fs"
	"mirrorfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir represents a directory of the mirrored tree.
type Dir struct {
	entry
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(ctx context.Context, a *fuse.Attr) error {
	dirLogger.Trace("Getting attributes for directory: %q", d.Path())
	if err := d.attr(ctx, a); err != nil {
		return err
	}
	a.Mode |= os.ModeDir
	return nil
}

// Setattr implements the NodeSetattrer interface.
func (d *Dir) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return d.setattr(ctx, req, resp)
}

// Forget implements the NodeForgetter interface.
func (d *Dir) Forget() {
	d.forget(d)
}

// Lookup implements the NodeRequestLookuper interface, finding a child node.
func (d *Dir) Lookup(ctx context.Context, req *fuse.LookupRequest, resp *fuse.LookupResponse) (fusefs.Node, error) {
	child, err := childPath(d.Path(), req.Name)
	if err != nil {
		dirLogger.Debug("Rejecting lookup of %q in %q", req.Name, d.Path())
		return nil, err
	}
	dirLogger.Debug("Looking up %q in directory %q", req.Name, d.Path())

	var info fs.FileInfo
	err = d.fs.run(ctx, fs.OpGetInfo, func() error {
		var err error
		info, err = d.fs.ops.GetFileInfo(child)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !info.Exists {
		dirLogger.Trace("Path not found: %q", child)
		return nil, fuse.Errno(syscall.ENOENT)
	}

	n := d.fs.nodeFor(child, info.IsDir())
	d.fs.fillAttr(info, &resp.Attr)
	resp.EntryValid = d.fs.opts.AttrTTL
	return n, nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing the real
// directory through an enumeration.
func (d *Dir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	p := d.Path()
	dirLogger.Debug("Reading directory contents: %q", p)

	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
	}

	err := d.fs.run(ctx, fs.OpEnumerate, func() error {
		token, err := d.fs.ops.Open(p, accessRead, fs.AttributeDirectory, shareAll, fs.NoToken)
		if err != nil {
			return err
		}
		defer func() {
			if err := d.fs.ops.Close(token); err != nil {
				dirLogger.Warn("Failed to close directory %q: %v", p, err)
			}
		}()

		listing := fs.NoToken
		for {
			next, info, found, err := d.fs.ops.Enumerate(token, listing, "*", false)
			if err != nil {
				if !listing.IsZero() {
					_ = d.fs.ops.CloseEnumeration(listing)
				}
				return err
			}
			if !found {
				return nil
			}
			listing = next
			if !validName(info.Name) {
				dirLogger.Debug("Hiding %q in %q", info.Name, p)
				continue
			}
			entries = append(entries, fuse.Dirent{
				Name: info.Name,
				Type: direntType(info),
			})
		}
	})
	if err != nil {
		return nil, err
	}

	if w := d.fs.currentWatcher(); w != nil {
		w.Watch(p)
	}

	dirLogger.Debug("Directory %q contains %d entries", p, len(entries))
	return entries, nil
}

// direntType describes the entry a symlink resolves to, matching Lookup.
func direntType(info fs.FileInfo) fuse.DirentType {
	if info.IsDir() {
		return fuse.DT_Dir
	}
	return fuse.DT_File
}

// Mkdir implements the NodeMkdirer interface, creating a real directory.
func (d *Dir) Mkdir(ctx context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	child, err := childPath(d.Path(), req.Name)
	if err != nil {
		return nil, err
	}
	dirLogger.Info("Creating directory %q", child)

	mode := uint32(req.Mode.Perm() &^ req.Umask)
	err = d.fs.run(ctx, fs.OpCreate, func() error {
		token, err := d.fs.ops.Create(child, accessRead|accessWrite, attributesFromMode(mode, true), shareAll)
		if err != nil {
			return err
		}
		return d.fs.ops.Close(token)
	})
	if err != nil {
		return nil, err
	}
	return d.fs.nodeFor(child, true), nil
}

// Create implements the NodeCreater interface, creating and opening a
// real file.
func (d *Dir) Create(ctx context.Context, req *fuse.CreateRequest, resp *fuse.CreateResponse) (fusefs.Node, fusefs.Handle, error) {
	child, err := childPath(d.Path(), req.Name)
	if err != nil {
		return nil, nil, err
	}
	dirLogger.Info("Creating file %q with flags %v", child, req.Flags)

	mode := uint32(req.Mode.Perm() &^ req.Umask)
	var token fs.Token
	err = d.fs.run(ctx, fs.OpCreate, func() error {
		if req.Flags&fuse.OpenExclusive != 0 {
			info, err := d.fs.ops.GetFileInfo(child)
			if err != nil {
				return err
			}
			if info.Exists {
				return fs.NewError(fs.OpCreate, child, fs.ErrAlreadyExists)
			}
		}
		var err error
		token, err = d.fs.ops.Create(child, accessFromFlags(req.Flags), attributesFromMode(mode, false), shareAll)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	n := d.fs.nodeFor(child, false)
	resp.Flags |= fuse.OpenDirectIO
	return n, &FileHandle{fs: d.fs, token: token, path: child}, nil
}

// Remove implements the NodeRemover interface, deleting a real file or
// empty directory.
func (d *Dir) Remove(ctx context.Context, req *fuse.RemoveRequest) error {
	child, err := childPath(d.Path(), req.Name)
	if err != nil {
		return err
	}
	dirLogger.Info("Removing %q (isDir=%v)", child, req.Dir)

	err = d.fs.run(ctx, fs.OpDelete, func() error {
		if req.Dir {
			empty, err := d.fs.ops.IsDirectoryEmpty(child)
			if err != nil {
				return err
			}
			if !empty {
				dirLogger.Warn("Directory not empty: %q", child)
				return fs.NewError(fs.OpDelete, child, fs.ErrNotEmpty)
			}
		}
		ok, err := d.fs.ops.CanFileBeDeleted(child)
		if err != nil {
			return err
		}
		if !ok {
			return fs.NewError(fs.OpDelete, child, fs.ErrAccessDenied)
		}
		return d.fs.ops.DeleteFile(child)
	})
	if err != nil {
		return err
	}

	d.fs.dropNodes(child)
	return nil
}

// Rename implements the NodeRenamer interface, moving a real entry.
func (d *Dir) Rename(ctx context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	target, ok := newDir.(*Dir)
	if !ok {
		dirLogger.Error("Target is not a valid directory type")
		return fuse.Errno(syscall.EINVAL)
	}

	oldPath, err := childPath(d.Path(), req.OldName)
	if err != nil {
		return err
	}
	newPath, err := childPath(target.Path(), req.NewName)
	if err != nil {
		return err
	}
	dirLogger.Info("Renaming %q to %q", oldPath, newPath)

	err = d.fs.run(ctx, fs.OpRename, func() error {
		return d.fs.ops.RenameOrMove(oldPath, newPath)
	})
	if err != nil {
		return err
	}

	d.fs.renameNodes(oldPath, newPath)
	return nil
}
