package host

import (
	"context"
	"os"
	"time"

	"mirrorfs/internal/volume"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
	"github.com/pkg/errors"
)

const mountPollInterval = 100 * time.Millisecond

// Mount mounts the filesystem on mountPoint and serves it until Unmount.
// It returns once the kernel reports the mount, or when ctx expires.
func (f *FS) Mount(ctx context.Context, mountPoint string) error {
	f.mountMu.Lock()
	defer f.mountMu.Unlock()

	if f.conn != nil {
		return errors.Errorf("already mounted")
	}

	vfsLogger.Info("Mounting virtual filesystem")
	vfsLogger.Debug("Mount point: %s", mountPoint)
	vfsLogger.Debug("Source directory: %s", f.volume.Root())
	vfsLogger.Debug("UID: %d, GID: %d", f.uid, f.gid)

	if _, err := os.ReadDir(f.volume.Root()); err != nil {
		vfsLogger.Error("Cannot read source directory: %v", err)
		return errors.Wrap(err, "source directory not readable")
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName(f.volume.GetVolumeLabel()),
		fuse.Subtype("mirrorfs"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
		fuse.AllowNonEmptyMount(),
	}
	if f.opts.AllowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return errors.Wrap(err, "mount failed")
	}

	server := fusefs.New(c, nil)
	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := server.Serve(f); err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
	}()

	if err := waitForMount(ctx, mountPoint); err != nil {
		vfsLogger.Error("Mount point not ready: %v", err)
		if uerr := fuse.Unmount(mountPoint); uerr == nil {
			<-served
		}
		c.Close()
		return errors.Wrap(err, "mount point failed to initialize")
	}

	f.conn = c
	f.served = served

	if f.opts.Watch {
		w, err := NewWatcher(f, server)
		if err != nil {
			vfsLogger.Warn("Change watching disabled: %v", err)
		} else {
			f.watcher.Store(w)
		}
	}

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

func waitForMount(ctx context.Context, mountPoint string) error {
	ticker := time.NewTicker(mountPollInterval)
	defer ticker.Stop()

	for {
		mounted, err := volume.IsMountPoint(mountPoint)
		if err == nil && mounted {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Wrapf(ctx.Err(), "mount point %s not available", mountPoint)
		case <-ticker.C:
		}
	}
}

// Unmount cleanly unmounts the filesystem and releases every context and
// enumeration still open.
func (f *FS) Unmount(mountPoint string) error {
	f.mountMu.Lock()
	defer f.mountMu.Unlock()

	if f.conn == nil {
		return nil
	}

	vfsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if err := fuse.Unmount(mountPoint); err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return errors.Wrapf(err, "unmount %s", mountPoint)
	}
	<-f.served

	if w := f.watcher.Swap(nil); w != nil {
		if err := w.Close(); err != nil {
			vfsLogger.Warn("Failed to stop watcher: %v", err)
		}
	}
	if err := f.conn.Close(); err != nil {
		vfsLogger.Warn("Failed to close FUSE connection: %v", err)
	}
	f.conn = nil

	released := f.ops.ReleaseAll()
	vfsLogger.Info("Unmount completed successfully, released %d open objects", released)
	return nil
}

// currentWatcher returns the watcher while mounted with watching enabled.
func (f *FS) currentWatcher() *Watcher {
	return f.watcher.Load()
}
