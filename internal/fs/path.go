package fs

import (
	"path"
	"path/filepath"
	"strings"

	"mirrorfs/internal/logging"

	securejoin "github.com/cyphar/filepath-securejoin"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// VirtualRoot is the name the host uses for the root of the volume.
const VirtualRoot = `\`

// PathTranslator maps virtual volume paths onto a fixed real root directory.
//
// Virtual paths may use either backslash or slash separators. Every virtual
// path is cleaned and rooted before it is joined, so ".." components can
// never climb above the real root.
type PathTranslator struct {
	root    string
	confine bool
}

// NewPathTranslator creates a translator for the given real root.
// When confine is set, Resolve also refuses to follow symlinks out of root.
func NewPathTranslator(root string, confine bool) (*PathTranslator, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, NewError(OpTranslate, root, err)
	}
	pathLogger.Debug("Real root: %q (confine symlinks: %v)", abs, confine)
	return &PathTranslator{root: abs, confine: confine}, nil
}

// Root returns the real root directory.
func (t *PathTranslator) Root() string {
	return t.root
}

// CleanVirtualPath returns the canonical slash form of a virtual path,
// always starting with "/".
func CleanVirtualPath(virtualPath string) string {
	slashed := strings.ReplaceAll(virtualPath, `\`, "/")
	return path.Clean("/" + slashed)
}

// IsRoot reports whether virtualPath names the volume root.
func IsRoot(virtualPath string) bool {
	return CleanVirtualPath(virtualPath) == "/"
}

// ToRealPath maps a virtual path to its real path. It does not touch the
// filesystem.
func (t *PathTranslator) ToRealPath(virtualPath string) string {
	cleaned := CleanVirtualPath(virtualPath)
	if cleaned == "/" {
		return t.root
	}
	return filepath.Join(t.root, filepath.FromSlash(cleaned))
}

// Resolve maps a virtual path to the real path used for I/O. With symlink
// confinement enabled the result is resolved inside the root.
func (t *PathTranslator) Resolve(virtualPath string) (string, error) {
	if !t.confine {
		return t.ToRealPath(virtualPath), nil
	}
	cleaned := CleanVirtualPath(virtualPath)
	if cleaned == "/" {
		return t.root, nil
	}
	resolved, err := securejoin.SecureJoin(t.root, cleaned)
	if err != nil {
		return "", NewError(OpTranslate, virtualPath, err)
	}
	pathLogger.Trace("Resolved %q -> %q", virtualPath, resolved)
	return resolved, nil
}

// IsDirectoryAttribute reports whether the directory bit is set.
func IsDirectoryAttribute(attributes uint32) bool {
	return attributes&AttributeDirectory != 0
}
