package fs

import (
	"os"
	"strings"
	"time"
)

// Virtual attribute bits, in the layout used by the virtual-drive host.
const (
	AttributeReadOnly  uint32 = 0x00000001
	AttributeHidden    uint32 = 0x00000002
	AttributeSystem    uint32 = 0x00000004
	AttributeDirectory uint32 = 0x00000010
	AttributeArchive   uint32 = 0x00000020
	AttributeNormal    uint32 = 0x00000080
)

// FileInfo is the metadata reported for a single entry. When Exists is
// false no other field is meaningful.
type FileInfo struct {
	Name           string
	Exists         bool
	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time
	EndOfFile      int64
	AllocationSize int64
	Attributes     uint32
	LinkCount      uint32

	// Mode is the real entry's mode, for hosts that present POSIX modes.
	Mode os.FileMode
}

// IsDir reports whether the entry carries the directory attribute.
func (fi FileInfo) IsDir() bool {
	return IsDirectoryAttribute(fi.Attributes)
}

// attributesFromFileMode derives the virtual attribute bits for a real
// entry named name.
func attributesFromFileMode(name string, mode os.FileMode) uint32 {
	var attributes uint32
	if mode.IsDir() {
		attributes |= AttributeDirectory
	}
	if mode.Perm()&0200 == 0 {
		attributes |= AttributeReadOnly
	}
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		attributes |= AttributeHidden
	}
	if attributes == 0 {
		attributes = AttributeNormal
	}
	return attributes
}

// fileInfoFromStat fills a FileInfo from a stat result. Directories report
// zero length, files report their length for both size fields.
func fileInfoFromStat(info os.FileInfo, realPath string) FileInfo {
	times := entryTimes(info, realPath)
	fi := FileInfo{
		Name:           info.Name(),
		Exists:         true,
		CreationTime:   times.creation,
		LastAccessTime: times.access,
		LastWriteTime:  info.ModTime().UTC(),
		Attributes:     attributesFromFileMode(info.Name(), info.Mode()),
		LinkCount:      1,
		Mode:           info.Mode(),
	}
	if !info.IsDir() {
		fi.EndOfFile = info.Size()
	}
	fi.AllocationSize = fi.EndOfFile
	return fi
}

// modeWithAttributes applies the read-only bit of attributes to mode.
func modeWithAttributes(mode os.FileMode, attributes uint32) os.FileMode {
	perm := mode.Perm()
	if attributes&AttributeReadOnly != 0 {
		perm &^= 0222
	} else if perm&0200 == 0 {
		perm |= 0200
	}
	return (mode &^ os.ModePerm) | perm
}

type entryTimestamps struct {
	creation time.Time
	access   time.Time
}
