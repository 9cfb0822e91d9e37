package volume

import (
	"context"
	"sync"
	"time"

	"mirrorfs/internal/storage"

	"github.com/pkg/errors"
)

// DefaultMountTimeout bounds Media.Mount when no timeout is configured.
const DefaultMountTimeout = 10 * time.Second

// Media mounts the volume on a directory and takes it down again.
type Media interface {
	Mount(ctx context.Context, mountPoint string) error
	Unmount(mountPoint string) error
}

// SessionStore persists the session record for the lifetime of a mount.
type SessionStore interface {
	Create(session *storage.Session) error
	Save(session *storage.Session) error
	Delete() error
}

// Options selects the mount point and bounds mounting.
type Options struct {
	// MountPoint is used as is when set; otherwise a letter directory is
	// allocated under MountBase.
	MountPoint   string
	MountBase    string
	MountTimeout time.Duration
}

// Manager runs the storage, mount point and media lifecycle of a volume.
type Manager struct {
	volume  *Volume
	store   SessionStore
	media   Media
	opts    Options
	session *storage.Session

	mu         sync.Mutex
	mountPoint *MountPoint
	stored     bool
	mounted    bool
}

// NewManager creates a manager; nothing happens until Start.
func NewManager(vol *Volume, store SessionStore, media Media, opts Options) *Manager {
	if opts.MountTimeout <= 0 {
		opts.MountTimeout = DefaultMountTimeout
	}
	return &Manager{
		volume: vol,
		store:  store,
		media:  media,
		opts:   opts,
	}
}

// Volume returns the managed volume.
func (m *Manager) Volume() *Volume {
	return m.volume
}

// MountPoint returns the mount point path, or "" before allocation.
func (m *Manager) MountPoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mountPoint == nil {
		return ""
	}
	return m.mountPoint.Path
}

// Start creates the storage record, allocates a mount point and mounts
// the media within the mount timeout. On failure the steps already taken
// stay in place for Shutdown to undo.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger.Info("Creating storage for %s", m.volume.Root())
	m.session = &storage.Session{
		Root:     m.volume.Root(),
		Label:    m.volume.GetVolumeLabel(),
		VolumeID: m.volume.GetVolumeID(),
	}
	if err := m.store.Create(m.session); err != nil {
		return errors.Wrap(err, "create storage")
	}
	m.stored = true

	mp, err := m.allocate()
	if err != nil {
		return errors.Wrap(err, "allocate mount point")
	}
	m.mountPoint = mp
	m.session.MountPoint = mp.Path
	if err := m.store.Save(m.session); err != nil {
		logger.Warn("Failed to record mount point: %v", err)
	}

	mountCtx, cancel := context.WithTimeout(ctx, m.opts.MountTimeout)
	defer cancel()

	logger.Info("Mounting %q on %s", m.volume.GetVolumeLabel(), mp.Path)
	if err := m.media.Mount(mountCtx, mp.Path); err != nil {
		return errors.Wrapf(err, "mount media on %s", mp.Path)
	}
	m.mounted = true
	logger.Info("Volume mounted on %s", mp.Path)
	return nil
}

func (m *Manager) allocate() (*MountPoint, error) {
	if m.opts.MountPoint != "" {
		return UseMountPoint(m.opts.MountPoint)
	}
	return AllocateMountPoint(m.opts.MountBase)
}

// Shutdown unmounts the media, releases the mount point and deletes the
// storage record. Failures are logged and never returned, so shutdown
// always runs to the end. It is safe to call more than once.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		if err := m.media.Unmount(m.mountPoint.Path); err != nil {
			logger.Error("Failed to unmount media: %v", err)
		} else {
			logger.Info("Unmounted %s", m.mountPoint.Path)
		}
		m.mounted = false
	}

	if m.mountPoint != nil {
		if err := m.mountPoint.Release(); err != nil {
			logger.Error("Failed to delete mount point %s: %v", m.mountPoint.Path, err)
		}
		m.mountPoint = nil
	}

	if m.stored {
		if err := m.store.Delete(); err != nil {
			logger.Error("Failed to delete storage: %v", err)
		}
		m.stored = false
	}
}
