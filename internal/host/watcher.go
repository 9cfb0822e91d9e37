package host

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"mirrorfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/fsnotify/fsnotify"
)

var (
	watchLogger = logging.GetLogger().WithPrefix("watch")
)

// Invalidator drops kernel cache entries. *fusefs.Server implements it.
type Invalidator interface {
	InvalidateEntry(parent fusefs.Node, name string) error
	InvalidateNodeAttr(node fusefs.Node) error
}

// Watcher follows changes made to the real tree behind the mount and
// invalidates the kernel's cached entries and attributes for them.
type Watcher struct {
	fs      *FS
	root    string
	inval   Invalidator
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	watching map[string]bool
	done     chan struct{}
}

// NewWatcher starts watching on behalf of f. Directories are added with
// Watch as the kernel lists them.
func NewWatcher(f *FS, inval Invalidator) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:       f,
		root:     f.volume.Root(),
		inval:    inval,
		watcher:  fw,
		watching: make(map[string]bool),
		done:     make(chan struct{}),
	}
	go w.watchLoop()
	return w, nil
}

// Watch adds the real directory behind a virtual directory path.
func (w *Watcher) Watch(virtualDir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watching[virtualDir] {
		return
	}
	realDir := filepath.Join(w.root, filepath.FromSlash(virtualDir))
	if err := w.watcher.Add(realDir); err != nil {
		watchLogger.Debug("Cannot watch %q: %v", realDir, err)
		return
	}
	w.watching[virtualDir] = true
	watchLogger.Trace("Watching %q", realDir)
}

// Watching reports whether the virtual directory is being watched.
func (w *Watcher) Watching(virtualDir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watching[virtualDir]
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			watchLogger.Warn("Watcher error: %v", err)
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	virtual, ok := w.virtualPath(event.Name)
	if !ok {
		return
	}
	watchLogger.Trace("Event %s on %q", event.Op, virtual)

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.mu.Lock()
		for dir := range w.watching {
			if isSameOrBelow(dir, virtual) {
				delete(w.watching, dir)
			}
		}
		w.mu.Unlock()
	}

	if parent, cached := w.fs.cachedNode(path.Dir(virtual)); cached {
		w.ignoreNotCached(w.inval.InvalidateEntry(parent, path.Base(virtual)))
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
		if n, cached := w.fs.cachedNode(virtual); cached {
			w.ignoreNotCached(w.inval.InvalidateNodeAttr(n))
		}
	}
}

// virtualPath maps a real path below the root to its virtual path.
func (w *Watcher) virtualPath(realPath string) (string, bool) {
	rel, err := filepath.Rel(w.root, realPath)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	if !validName(rel) {
		return "", false
	}
	return "/" + filepath.ToSlash(rel), true
}

func (w *Watcher) ignoreNotCached(err error) {
	if err != nil && !errors.Is(err, fuse.ErrNotCached) {
		watchLogger.Debug("Invalidation failed: %v", err)
	}
}
