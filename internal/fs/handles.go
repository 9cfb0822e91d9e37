package fs

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"mirrorfs/internal/logging"
)

var (
	handleLogger = logging.GetLogger().WithPrefix("handles")
)

// OpenFileContext is the state shared by every open of one real file or
// directory. The store owns it; callbacks borrow it through its token.
type OpenFileContext struct {
	// mu serialises use of file, whose seek position is shared state.
	mu    sync.Mutex
	file  *os.File
	valid bool

	refs     atomic.Int64 // written only under HandleStore.mu
	realPath atomic.Pointer[string]
	isDir    bool
}

// RealPath returns the real path the context currently refers to.
func (c *OpenFileContext) RealPath() string {
	return *c.realPath.Load()
}

// IsDir reports whether the context was opened for a directory.
func (c *OpenFileContext) IsDir() bool {
	return c.isDir
}

// References returns the number of logical opens holding the context.
func (c *OpenFileContext) References() int64 {
	return c.refs.Load()
}

// withFile runs fn with exclusive use of the native handle. Files opened
// without an eager handle get one here on first use.
func (c *OpenFileContext) withFile(fn func(f *os.File) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.valid {
		return ErrInvalidHandle
	}
	if c.file == nil {
		if c.isDir {
			return ErrInvalidHandle
		}
		f, err := openForIO(c.RealPath())
		if err != nil {
			return err
		}
		handleLogger.Trace("Opened deferred handle for %q", c.RealPath())
		c.file = f
	}
	return fn(c.file)
}

// closeFile closes the native handle, if any, and invalidates the context.
func (c *OpenFileContext) closeFile() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.valid = false
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// openForIO opens a regular file read-write, falling back to read-only
// when the file's permissions refuse writing.
func openForIO(realPath string) (*os.File, error) {
	f, err := os.OpenFile(realPath, os.O_RDWR, 0)
	if errors.Is(err, os.ErrPermission) {
		return os.Open(realPath)
	}
	return f, err
}

// HandleStore maps tokens to open file contexts and keeps at most one live
// context per real path. Every reference count change happens under mu.
type HandleStore struct {
	mu      sync.Mutex
	tokens  tokenSource
	byToken map[Token]*OpenFileContext
	byPath  map[string]Token
}

// NewHandleStore creates an empty store.
func NewHandleStore() *HandleStore {
	return &HandleStore{
		byToken: make(map[Token]*OpenFileContext),
		byPath:  make(map[string]Token),
	}
}

// Opener opens the native handle for a new context. A nil file defers the
// open until the first content operation.
type Opener func() (file *os.File, isDir bool, err error)

// Open attaches to the context named by existing, or to the live context
// for realPath, incrementing its reference count. Only when neither exists
// is open called and a new context with one reference created.
func (s *HandleStore) Open(realPath string, existing Token, open Opener) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !existing.IsZero() {
		if ctx, ok := s.byToken[existing]; ok {
			refs := ctx.refs.Add(1)
			handleLogger.Trace("Reusing context %s for %q (refs=%d)", existing, realPath, refs)
			return existing, nil
		}
	}
	if token, ok := s.byPath[realPath]; ok {
		refs := s.byToken[token].refs.Add(1)
		handleLogger.Trace("Attached to live context %s for %q (refs=%d)", token, realPath, refs)
		return token, nil
	}

	file, isDir, err := open()
	if err != nil {
		return NoToken, err
	}
	return s.insertLocked(realPath, file, isDir), nil
}

// Create is Open for freshly created entries: create makes the real entry
// and returns its handle. If a context is already live for realPath, it
// gains a reference and reuse is applied to it instead.
func (s *HandleStore) Create(realPath string, create Opener, reuse func(*OpenFileContext) error) (Token, error) {
	for {
		if token, ctx, ok := s.attach(realPath); ok {
			if reuse != nil {
				if err := reuse(ctx); err != nil {
					_ = s.Close(token)
					return NoToken, err
				}
			}
			handleLogger.Trace("Create attached to live context %s for %q", token, realPath)
			return token, nil
		}

		s.mu.Lock()
		if _, ok := s.byPath[realPath]; ok {
			s.mu.Unlock()
			continue
		}
		file, isDir, err := create()
		if err != nil {
			s.mu.Unlock()
			return NoToken, err
		}
		token := s.insertLocked(realPath, file, isDir)
		s.mu.Unlock()
		return token, nil
	}
}

// attach takes a reference on the live context for realPath, if any.
func (s *HandleStore) attach(realPath string) (Token, *OpenFileContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byPath[realPath]
	if !ok {
		return NoToken, nil, false
	}
	ctx := s.byToken[token]
	ctx.refs.Add(1)
	return token, ctx, true
}

func (s *HandleStore) insertLocked(realPath string, file *os.File, isDir bool) Token {
	ctx := &OpenFileContext{
		file:  file,
		valid: true,
		isDir: isDir,
	}
	ctx.realPath.Store(&realPath)
	ctx.refs.Store(1)

	token := s.tokens.next()
	s.byToken[token] = ctx
	s.byPath[realPath] = token
	handleLogger.Debug("New context %s for %q (dir=%v)", token, realPath, isDir)
	return token
}

// Get resolves a token to its live context.
func (s *HandleStore) Get(token Token) (*OpenFileContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.byToken[token]
	if !ok {
		return nil, ErrInvalidHandle
	}
	return ctx, nil
}

// Lookup returns the token of the live context for realPath, if any.
func (s *HandleStore) Lookup(realPath string) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byPath[realPath]
	return token, ok
}

// Close drops one reference. The last reference closes the native handle
// and destroys the context; the token is invalid afterwards.
func (s *HandleStore) Close(token Token) error {
	ctx, last, err := s.release(token)
	if err != nil || !last {
		return err
	}
	handleLogger.Debug("Destroying context %s for %q", token, ctx.RealPath())
	return ctx.closeFile()
}

// release drops one reference. On the last one the context leaves both
// indexes and is returned with last set.
func (s *HandleStore) release(token Token) (*OpenFileContext, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, ok := s.byToken[token]
	if !ok {
		return nil, false, ErrInvalidHandle
	}

	if refs := ctx.refs.Load(); refs > 1 {
		ctx.refs.Store(refs - 1)
		handleLogger.Trace("Released reference on %s (refs=%d)", token, refs-1)
		return ctx, false, nil
	}

	ctx.refs.Store(0)
	delete(s.byToken, token)
	if realPath := ctx.RealPath(); s.byPath[realPath] == token {
		delete(s.byPath, realPath)
	}
	return ctx, true, nil
}

// Pin opens the native handle of a live, deferred file context for
// realPath so it keeps the file's content once the name is unlinked.
func (s *HandleStore) Pin(realPath string) error {
	s.mu.Lock()
	token, ok := s.byPath[realPath]
	ctx := s.byToken[token]
	s.mu.Unlock()

	if !ok || ctx.IsDir() {
		return nil
	}
	err := ctx.withFile(func(*os.File) error { return nil })
	if errors.Is(err, ErrInvalidHandle) {
		return nil
	}
	return err
}

// Forget detaches realPath and everything below it from the path index.
// Live contexts stay valid for their holders, but later opens of the same
// path get a new context.
func (s *HandleStore) Forget(realPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forgetLocked(realPath)
}

func (s *HandleStore) forgetLocked(realPath string) {
	for p, token := range s.byPath {
		if isSameOrBelow(p, realPath) {
			delete(s.byPath, p)
			handleLogger.Trace("Detached %s from %q", token, p)
		}
	}
}

// Rename moves the path index entries at or below oldPath to newPath so
// open contexts follow the renamed entry.
func (s *HandleStore) Rename(oldPath, newPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.forgetLocked(newPath)

	moved := make(map[string]Token)
	for p, token := range s.byPath {
		if !isSameOrBelow(p, oldPath) {
			continue
		}
		target := newPath + strings.TrimPrefix(p, oldPath)
		moved[target] = token
		delete(s.byPath, p)

		ctx := s.byToken[token]
		ctx.realPath.Store(&target)
		handleLogger.Trace("Moved %s from %q to %q", token, p, target)
	}
	for p, token := range moved {
		s.byPath[p] = token
	}
}

// ReleaseAll closes every live context regardless of its reference count
// and returns how many were closed.
func (s *HandleStore) ReleaseAll() int {
	s.mu.Lock()
	live := s.byToken
	s.byToken = make(map[Token]*OpenFileContext)
	s.byPath = make(map[string]Token)
	s.mu.Unlock()

	for token, ctx := range live {
		ctx.refs.Store(0)
		if err := ctx.closeFile(); err != nil {
			handleLogger.Warn("Failed to close %s (%q): %v", token, ctx.RealPath(), err)
		}
	}
	return len(live)
}

// Len returns the number of live contexts.
func (s *HandleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.byToken)
}

func isSameOrBelow(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
}
