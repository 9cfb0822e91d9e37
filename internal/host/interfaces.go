package host

import (
	"mirrorfs/internal/fs"
	"mirrorfs/internal/volume"

	fusefs "bazil.org/fuse/fs"
)

// Dispatcher is the operation set the FUSE binding drives.
type Dispatcher interface {
	fs.Operations

	Flush(token fs.Token) error
	ReleaseAll() int

	GetXattr(path, name string) ([]byte, error)
	ListXattr(path string) ([]string, error)
	SetXattr(path, name string, value []byte, flags int) error
	RemoveXattr(path, name string) error
}

// Volume reports capacity and identity of the mirrored volume.
type Volume interface {
	Root() string
	GetVolumeLabel() string
	GetVolumeSize() (totalSectors, freeSectors uint64, err error)
	SectorSize() uint32
	Stat() (volume.Stats, error)
}

// Node is a file or directory of the mounted volume
type Node interface {
	fusefs.Node
	fusefs.NodeSetattrer
	fusefs.NodeForgetter
	fusefs.NodeGetxattrer
	fusefs.NodeListxattrer
	fusefs.NodeSetxattrer
	fusefs.NodeRemovexattrer
}

// Directory is a directory of the mounted volume
type Directory interface {
	Node
	fusefs.NodeRequestLookuper
	fusefs.HandleReadDirAller
	fusefs.NodeMkdirer
	fusefs.NodeCreater
	fusefs.NodeRemover
	fusefs.NodeRenamer
}

// FileNode is a regular file of the mounted volume
type FileNode interface {
	Node
	fusefs.NodeOpener
	fusefs.NodeFsyncer
}

// FileHandleInterface is an open file
type FileHandleInterface interface {
	fusefs.Handle
	fusefs.HandleReader
	fusefs.HandleWriter
	fusefs.HandleReleaser
}

var (
	_ Directory           = (*Dir)(nil)
	_ FileNode            = (*File)(nil)
	_ FileHandleInterface = (*FileHandle)(nil)
	_ fusefs.FS           = (*FS)(nil)
	_ fusefs.FSStatfser   = (*FS)(nil)
	_ volume.Media        = (*FS)(nil)
	_ Dispatcher          = (*fs.Dispatcher)(nil)
	_ Volume              = (*volume.Volume)(nil)
)
