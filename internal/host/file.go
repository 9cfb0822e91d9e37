package host

import (
	"context"

	"mirrorfs/internal/fs"
	"mirrorfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File represents a regular file of the mirrored tree.
type File struct {
	entry
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(ctx context.Context, a *fuse.Attr) error {
	fileLogger.Trace("Getting attributes for file: %q", f.Path())
	return f.attr(ctx, a)
}

// Setattr implements the NodeSetattrer interface.
func (f *File) Setattr(ctx context.Context, req *fuse.SetattrRequest, resp *fuse.SetattrResponse) error {
	return f.setattr(ctx, req, resp)
}

// Forget implements the NodeForgetter interface.
func (f *File) Forget() {
	f.forget(f)
}

// Open implements the NodeOpener interface, opening a context on the real
// file.
func (f *File) Open(ctx context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	p := f.Path()
	fileLogger.Debug("Opening file %q with flags %v", p, req.Flags)

	var token fs.Token
	err := f.fs.run(ctx, fs.OpOpen, func() error {
		var err error
		token, err = f.fs.ops.Open(p, accessFromFlags(req.Flags), 0, shareAll, fs.NoToken)
		if err != nil {
			return err
		}
		if req.Flags&fuse.OpenTruncate != 0 {
			if err := f.fs.ops.SetEndOfFile(token, 0); err != nil {
				_ = f.fs.ops.Close(token)
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	resp.Flags |= fuse.OpenDirectIO

	fileLogger.Debug("Opened file %q as %s", p, token)
	return &FileHandle{fs: f.fs, token: token, path: p}, nil
}

// Fsync implements the NodeFsyncer interface, committing the file's data.
func (f *File) Fsync(ctx context.Context, _ *fuse.FsyncRequest) error {
	p := f.Path()
	fileLogger.Debug("Syncing file %q", p)

	return f.fs.run(ctx, fs.OpFlush, func() error {
		token, err := f.fs.ops.Open(p, accessWrite, 0, shareAll, fs.NoToken)
		if err != nil {
			return err
		}
		flushErr := f.fs.ops.Flush(token)
		closeErr := f.fs.ops.Close(token)
		if flushErr != nil {
			return flushErr
		}
		return closeErr
	})
}

// FileHandle is an open file: a token on the dispatcher's shared context
// for the file.
type FileHandle struct {
	fs    *FS
	token fs.Token
	path  string // For logging purposes
}

// Token returns the dispatcher token backing the handle.
func (fh *FileHandle) Token() fs.Token {
	return fh.token
}

// Read implements the HandleReader interface, reading data from the file.
func (fh *FileHandle) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fileLogger.Trace("Reading %d bytes from file %q at offset %d", req.Size, fh.path, req.Offset)

	buf := make([]byte, req.Size)
	return fh.fs.run(ctx, fs.OpRead, func() error {
		n, err := fh.fs.ops.Read(fh.token, req.Offset, buf)
		resp.Data = buf[:n]
		return err
	})
}

// Write implements the HandleWriter interface, writing data to the file.
func (fh *FileHandle) Write(ctx context.Context, req *fuse.WriteRequest, resp *fuse.WriteResponse) error {
	fileLogger.Trace("Writing %d bytes to file %q at offset %d", len(req.Data), fh.path, req.Offset)

	return fh.fs.run(ctx, fs.OpWrite, func() error {
		n, err := fh.fs.ops.Write(fh.token, req.Offset, req.Data)
		resp.Size = n
		return err
	})
}

// Release implements the HandleReleaser interface, dropping the handle's
// reference on the context.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fileLogger.Debug("Closing file %q", fh.path)
	return fh.fs.run(context.Background(), fs.OpClose, func() error {
		return fh.fs.ops.Close(fh.token)
	})
}
