package host

import (
	"context"
	"os"
	"path"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"mirrorfs/internal/fs"
	"mirrorfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// Options configures the FUSE binding.
type Options struct {
	// Workers bounds concurrently served callbacks.
	Workers int

	// AttrTTL is how long the kernel may cache attributes and entries.
	AttrTTL time.Duration

	// Watch invalidates kernel caches when the real tree changes behind
	// the mount.
	Watch bool

	AllowOther bool
}

// FS presents a Dispatcher as a FUSE filesystem.
type FS struct {
	ops    Dispatcher
	volume Volume
	opts   Options
	pool   *Pool
	uid    uint32 // User ID reported for every entry
	gid    uint32 // Group ID reported for every entry

	mu    sync.Mutex // Protects nodes
	nodes map[string]node

	mountMu sync.Mutex
	conn    *fuse.Conn
	served  chan struct{}
	watcher atomic.Pointer[Watcher]
}

// node is implemented by Dir and File.
type node interface {
	fusefs.Node
	base() *entry
}

// New creates the filesystem. Nothing is mounted until Mount.
func New(ops Dispatcher, vol Volume, opts Options) *FS {
	vfsLogger.Info("Creating filesystem for %s", vol.Root())

	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	f := &FS{
		ops:    ops,
		volume: vol,
		opts:   opts,
		pool:   NewPool(opts.Workers),
		uid:    uid,
		gid:    gid,
		nodes:  make(map[string]node),
	}
	f.nodes["/"] = &Dir{entry: entry{fs: f, path: "/"}}
	return f
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (f *FS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return f.nodeFor("/", true), nil
}

// Statfs reports the capacity of the filesystem behind the volume.
func (f *FS) Statfs(ctx context.Context, _ *fuse.StatfsRequest, resp *fuse.StatfsResponse) error {
	return f.run(ctx, "statfs", func() error {
		total, free, err := f.volume.GetVolumeSize()
		if err != nil {
			return err
		}
		st, err := f.volume.Stat()
		if err != nil {
			return err
		}

		sector := uint64(f.volume.SectorSize())
		resp.Bsize = f.volume.SectorSize()
		resp.Frsize = f.volume.SectorSize()
		resp.Blocks = total
		resp.Bavail = free
		resp.Bfree = st.BlocksFree * st.BlockSize / sector
		resp.Files = st.Files
		resp.Ffree = st.FilesFree
		resp.Namelen = safeUint64ToUint32(st.NameLen)
		return nil
	})
}

// run executes a callback in a worker slot and converts its error for
// the kernel.
func (f *FS) run(ctx context.Context, op string, fn func() error) error {
	if err := f.pool.Do(ctx, fn); err != nil {
		return toErrno(op, err)
	}
	return nil
}

// nodeFor returns the cached node for a virtual path, creating it when
// missing or when the cached node is of the other kind.
func (f *FS) nodeFor(p string, isDir bool) node {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n, ok := f.nodes[p]; ok {
		if _, dir := n.(*Dir); dir == isDir {
			return n
		}
	}

	var n node
	if isDir {
		n = &Dir{entry: entry{fs: f, path: p}}
	} else {
		n = &File{entry: entry{fs: f, path: p}}
	}
	f.nodes[p] = n
	return n
}

// cachedNode returns the node for p if the kernel may still know it.
func (f *FS) cachedNode(p string) (node, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[p]
	return n, ok
}

// forgetNode drops n from the cache once the kernel has forgotten it.
func (f *FS) forgetNode(n node) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p := n.base().Path()
	if p == "/" {
		return
	}
	if cached, ok := f.nodes[p]; ok && cached == n {
		delete(f.nodes, p)
		vfsLogger.Trace("Forgot node %q", p)
	}
}

// dropNodes removes p and its descendants from the cache.
func (f *FS) dropNodes(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key := range f.nodes {
		if key != "/" && isSameOrBelow(key, p) {
			delete(f.nodes, key)
		}
	}
}

// renameNodes moves cached nodes at or below oldPath to newPath.
func (f *FS) renameNodes(oldPath, newPath string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key := range f.nodes {
		if isSameOrBelow(key, newPath) {
			delete(f.nodes, key)
		}
	}

	moved := make(map[string]node)
	for key, n := range f.nodes {
		if !isSameOrBelow(key, oldPath) {
			continue
		}
		target := newPath + strings.TrimPrefix(key, oldPath)
		n.base().setPath(target)
		moved[target] = n
		delete(f.nodes, key)
	}
	for key, n := range moved {
		f.nodes[key] = n
	}
}

// childPath joins a FUSE name onto a virtual directory. The dispatcher
// reads a backslash as a separator, so such names cannot be represented.
func childPath(dir, name string) (string, error) {
	if !validName(name) {
		return "", fuse.Errno(syscall.EINVAL)
	}
	return path.Join(dir, name), nil
}

func validName(name string) bool {
	return !strings.ContainsRune(name, '\\')
}

func isSameOrBelow(p, dir string) bool {
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// fillAttr copies entry metadata into a FUSE attribute block.
func (f *FS) fillAttr(info fs.FileInfo, a *fuse.Attr) {
	a.Valid = f.opts.AttrTTL
	a.Mode = info.Mode
	a.Size = safeInt64ToUint64(info.EndOfFile)
	a.Blocks = safeInt64ToUint64((info.AllocationSize + 511) / 512)
	a.BlockSize = 4096
	a.Nlink = info.LinkCount
	a.Atime = info.LastAccessTime
	a.Mtime = info.LastWriteTime
	a.Ctime = info.LastWriteTime
	a.Crtime = info.CreationTime
	a.Uid = f.uid
	a.Gid = f.gid
}

func safeInt64ToUint64(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func safeIntToUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}

// safeUint64ToUint32 saturates at the largest uint32.
func safeUint64ToUint32(n uint64) uint32 {
	if n > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}
