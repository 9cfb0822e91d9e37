package fs

import (
	"os"
	"time"

	"mirrorfs/internal/logging"
)

var (
	dispatchLogger = logging.GetLogger().WithPrefix("dispatch")
)

// Operations is the callback set a virtual-drive host invokes. Paths are
// virtual paths; tokens are the values returned by earlier calls.
type Operations interface {
	Create(path string, desiredAccess, attributes, shareMode uint32) (Token, error)
	Open(path string, desiredAccess, attributes, shareMode uint32, existing Token) (Token, error)
	Close(token Token) error

	GetFileInfo(path string) (FileInfo, error)
	SetFileAttributes(path string, creation, access, write time.Time, attributes uint32) error
	CanFileBeDeleted(path string) (bool, error)
	IsDirectoryEmpty(path string) (bool, error)

	Read(token Token, position int64, buf []byte) (int, error)
	Write(token Token, position int64, data []byte) (int, error)
	SetEndOfFile(token Token, length int64) error

	DeleteFile(path string) error
	RenameOrMove(path, newPath string) error

	Enumerate(dir, listing Token, mask string, restart bool) (Token, FileInfo, bool, error)
	CloseEnumeration(listing Token) error
}

var _ Operations = (*Dispatcher)(nil)

// Options tunes dispatcher behaviour.
type Options struct {
	// SyncWrites flushes file contents to stable storage after every write
	// and length change.
	SyncWrites bool
}

// Dispatcher satisfies Operations against the real directory tree behind
// its PathTranslator. It is safe for concurrent use.
type Dispatcher struct {
	paths   *PathTranslator
	handles *HandleStore
	cursors *CursorStore
	opts    Options
}

// NewDispatcher binds the translator and both context stores.
func NewDispatcher(paths *PathTranslator, handles *HandleStore, cursors *CursorStore, opts Options) *Dispatcher {
	dispatchLogger.Debug("Dispatcher for %q (sync writes: %v)", paths.Root(), opts.SyncWrites)
	return &Dispatcher{
		paths:   paths,
		handles: handles,
		cursors: cursors,
		opts:    opts,
	}
}

// Paths returns the dispatcher's path translator.
func (d *Dispatcher) Paths() *PathTranslator {
	return d.paths
}

// Handles returns the handle context store.
func (d *Dispatcher) Handles() *HandleStore {
	return d.handles
}

// Cursors returns the enumeration cursor store.
func (d *Dispatcher) Cursors() *CursorStore {
	return d.cursors
}

// ReleaseAll drops every open context and listing. It is called once the
// volume is unmounted and no further callbacks can arrive.
func (d *Dispatcher) ReleaseAll() int {
	listings := d.cursors.Clear()
	count := d.handles.ReleaseAll()
	dispatchLogger.Info("Released %d open contexts and %d listings", count, listings)
	return count
}

// Create creates the entry at path and opens it. Directories are created
// when attributes carry the directory bit; files are created or truncated
// and opened read-write.
func (d *Dispatcher) Create(path string, desiredAccess, attributes, shareMode uint32) (Token, error) {
	dispatchLogger.Trace("Create %q access=%#x attributes=%#x share=%#x",
		path, desiredAccess, attributes, shareMode)

	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return NoToken, d.fail(OpCreate, path, err)
	}

	var token Token
	if IsDirectoryAttribute(attributes) {
		perm := modeWithAttributes(0o755, attributes)
		token, err = d.handles.Create(realPath,
			func() (*os.File, bool, error) {
				if err := os.Mkdir(realPath, perm); err != nil {
					return nil, true, err
				}
				f, err := os.Open(realPath)
				return f, true, err
			},
			func(*OpenFileContext) error {
				return os.ErrExist
			})
	} else {
		perm := modeWithAttributes(0o644, attributes)
		token, err = d.handles.Create(realPath,
			func() (*os.File, bool, error) {
				f, err := os.OpenFile(realPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, perm)
				return f, false, err
			},
			func(ctx *OpenFileContext) error {
				if ctx.IsDir() {
					return os.ErrExist
				}
				return ctx.withFile(func(f *os.File) error {
					return f.Truncate(0)
				})
			})
	}
	if err != nil {
		return NoToken, d.fail(OpCreate, path, err)
	}
	return token, nil
}

// Open attaches to an existing entry. A live existing token, or a live
// context for the same real path, gains a reference instead of a new
// context being made. Directories get their handle now; files get theirs
// on first content access.
func (d *Dispatcher) Open(path string, desiredAccess, attributes, shareMode uint32, existing Token) (Token, error) {
	dispatchLogger.Trace("Open %q access=%#x attributes=%#x share=%#x existing=%s",
		path, desiredAccess, attributes, shareMode, existing)

	realPath, err := d.paths.Resolve(path)
	if err != nil {
		return NoToken, d.fail(OpOpen, path, err)
	}

	token, err := d.handles.Open(realPath, existing, func() (*os.File, bool, error) {
		info, err := os.Stat(realPath)
		if err != nil {
			return nil, false, err
		}
		if !info.IsDir() {
			return nil, false, nil
		}
		f, err := os.Open(realPath)
		return f, true, err
	})
	if err != nil {
		return NoToken, d.fail(OpOpen, path, err)
	}
	return token, nil
}

// Close releases one reference on the context behind token.
func (d *Dispatcher) Close(token Token) error {
	if err := d.handles.Close(token); err != nil {
		return d.fail(OpClose, token.String(), err)
	}
	return nil
}

// fail wraps err for the host. Errors outside the known kinds are logged
// at error level.
func (d *Dispatcher) fail(op, path string, err error) error {
	if fsErr, ok := err.(*Error); ok && fsErr.Op == op {
		err = fsErr.Err
	}
	wrapped := NewError(op, path, err)
	if Kind(err) == nil {
		dispatchLogger.Error("%v", wrapped)
	} else {
		dispatchLogger.Debug("%v", wrapped)
	}
	return wrapped
}
