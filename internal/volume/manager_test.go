package volume

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"mirrorfs/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMedia struct {
	mounted    []string
	unmounted  []string
	mountErr   error
	unmountErr error
	deadline   bool
}

func (f *fakeMedia) Mount(ctx context.Context, mountPoint string) error {
	_, f.deadline = ctx.Deadline()
	if f.mountErr != nil {
		return f.mountErr
	}
	f.mounted = append(f.mounted, mountPoint)
	return nil
}

func (f *fakeMedia) Unmount(mountPoint string) error {
	f.unmounted = append(f.unmounted, mountPoint)
	return f.unmountErr
}

func newTestManager(t *testing.T, media Media, opts Options) (*Manager, *storage.Manager) {
	t.Helper()
	vol, err := New(t.TempDir(), "test", 0, 0)
	require.NoError(t, err)
	store, err := storage.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(vol, store, media, opts), store
}

func TestManagerLifecycle(t *testing.T) {
	media := &fakeMedia{}
	base := t.TempDir()
	m, store := newTestManager(t, media, Options{MountBase: base})

	require.NoError(t, m.Start(context.Background()))
	mountPoint := filepath.Join(base, "z")
	assert.Equal(t, mountPoint, m.MountPoint())
	assert.Equal(t, []string{mountPoint}, media.mounted)
	assert.True(t, media.deadline, "mount must be time-bounded")

	session, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, m.Volume().Root(), session.Root)
	assert.Equal(t, mountPoint, session.MountPoint)
	assert.Equal(t, m.Volume().GetVolumeID(), session.VolumeID)

	m.Shutdown()
	assert.Equal(t, []string{mountPoint}, media.unmounted)
	assert.Equal(t, "", m.MountPoint())
	assert.NoDirExists(t, mountPoint)
	_, err = store.Load()
	assert.ErrorIs(t, err, storage.ErrNoSession)

	// A second shutdown has nothing left to do.
	m.Shutdown()
	assert.Len(t, media.unmounted, 1)
}

func TestManagerExplicitMountPoint(t *testing.T) {
	media := &fakeMedia{}
	target := filepath.Join(t.TempDir(), "here")
	m, _ := newTestManager(t, media, Options{MountPoint: target, MountTimeout: time.Second})

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, target, m.MountPoint())
	m.Shutdown()
}

func TestManagerMountFailure(t *testing.T) {
	media := &fakeMedia{mountErr: errors.New("no fuse")}
	base := t.TempDir()
	m, store := newTestManager(t, media, Options{MountBase: base})

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "no fuse")

	m.Shutdown()
	assert.Empty(t, media.unmounted, "nothing was mounted")
	assert.NoDirExists(t, filepath.Join(base, "z"))
	_, err = store.Load()
	assert.ErrorIs(t, err, storage.ErrNoSession)
}

func TestManagerShutdownSwallowsErrors(t *testing.T) {
	media := &fakeMedia{unmountErr: errors.New("busy")}
	m, store := newTestManager(t, media, Options{MountBase: t.TempDir()})

	require.NoError(t, m.Start(context.Background()))
	m.Shutdown()

	assert.Len(t, media.unmounted, 1)
	_, err := store.Load()
	assert.ErrorIs(t, err, storage.ErrNoSession, "storage is deleted even after a failed unmount")
}
