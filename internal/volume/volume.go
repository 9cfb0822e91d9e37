// Package volume describes the mirrored volume and manages its mount
// lifecycle.
package volume

import (
	"path/filepath"

	"mirrorfs/internal/logging"

	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"
	"golang.org/x/sys/unix"
)

var (
	logger = logging.GetLogger().WithPrefix("volume")
)

// DefaultSectorSize is used when no sector size is configured.
const DefaultSectorSize = 512

// Stats is a snapshot of the backing filesystem's capacity.
type Stats struct {
	BlockSize       uint64
	Blocks          uint64
	BlocksFree      uint64
	BlocksAvailable uint64
	Files           uint64
	FilesFree       uint64
	NameLen         uint64
}

// Volume is the metadata of one mirrored volume.
type Volume struct {
	root       string
	label      string
	id         uint32
	sectorSize uint32
}

// New describes the volume backed by root. An id of 0 is replaced by one
// derived from root, and a sector size of 0 by DefaultSectorSize.
func New(root, label string, id, sectorSize uint32) (*Volume, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "resolve volume root %s", root)
	}
	if id == 0 {
		id = DeriveID(abs)
	}
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	logger.Debug("Volume %q id=%#08x sector=%d root=%s", label, id, sectorSize, abs)
	return &Volume{
		root:       abs,
		label:      label,
		id:         id,
		sectorSize: sectorSize,
	}, nil
}

// DeriveID returns a stable non-zero id for a root path.
func DeriveID(root string) uint32 {
	id := uint32(xxh3.HashString(root))
	if id == 0 {
		id = 1
	}
	return id
}

// Root returns the backing directory.
func (v *Volume) Root() string {
	return v.root
}

// GetVolumeLabel returns the volume label.
func (v *Volume) GetVolumeLabel() string {
	return v.label
}

// GetVolumeID returns the 32-bit volume id.
func (v *Volume) GetVolumeID() uint32 {
	return v.id
}

// SectorSize returns the sector size used for size reporting.
func (v *Volume) SectorSize() uint32 {
	return v.sectorSize
}

// Stat queries the filesystem holding the root.
func (v *Volume) Stat() (Stats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(v.root, &st); err != nil {
		return Stats{}, errors.Wrapf(err, "statfs %s", v.root)
	}
	return Stats{
		BlockSize:       uint64(st.Bsize),
		Blocks:          st.Blocks,
		BlocksFree:      st.Bfree,
		BlocksAvailable: st.Bavail,
		Files:           st.Files,
		FilesFree:       st.Ffree,
		NameLen:         uint64(st.Namelen),
	}, nil
}

// GetVolumeSize returns the total and the available space of the backing
// filesystem, counted in sectors.
func (v *Volume) GetVolumeSize() (totalSectors, freeSectors uint64, err error) {
	st, err := v.Stat()
	if err != nil {
		return 0, 0, err
	}
	sector := uint64(v.sectorSize)
	totalSectors = st.Blocks * st.BlockSize / sector
	freeSectors = st.BlocksAvailable * st.BlockSize / sector
	logger.Trace("Volume size: total=%d free=%d sectors", totalSectors, freeSectors)
	return totalSectors, freeSectors, nil
}
