package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLoadDelete(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(filepath.Join(dir, "state"))
	require.NoError(t, err)
	defer m.Close()

	_, err = m.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	session := &Session{Root: "/srv/data", Label: "data", VolumeID: 0x12345678}
	require.NoError(t, m.Create(session))
	assert.Equal(t, SessionVersion, session.Version)
	assert.Equal(t, os.Getpid(), session.PID)
	assert.False(t, session.StartedAt.IsZero())

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "/srv/data", loaded.Root)
	assert.Equal(t, uint32(0x12345678), loaded.VolumeID)
	assert.True(t, loaded.Alive())

	session.MountPoint = "/mnt/z"
	require.NoError(t, m.Save(session))
	loaded, err = m.Load()
	require.NoError(t, err)
	assert.Equal(t, "/mnt/z", loaded.MountPoint)

	require.NoError(t, m.Delete())
	_, err = os.Stat(m.Path())
	assert.True(t, os.IsNotExist(err))

	// Deleting twice is harmless.
	require.NoError(t, m.Delete())
}

func TestSecondManagerIsRefused(t *testing.T) {
	dir := t.TempDir()
	first, err := NewManager(dir)
	require.NoError(t, err)
	defer first.Close()
	second, err := NewManager(dir)
	require.NoError(t, err)
	defer second.Close()

	require.NoError(t, first.Create(&Session{Root: "/a"}))

	err = second.Create(&Session{Root: "/b"})
	assert.ErrorIs(t, err, ErrInUse)

	require.NoError(t, first.Delete())
	require.NoError(t, second.Create(&Session{Root: "/b"}))
	require.NoError(t, second.Delete())
}

func TestStaleRecordIsBackedUp(t *testing.T) {
	dir := t.TempDir()
	stale := []byte("version: 1\nroot: /old\npid: 0\nstarted_at: 2020-01-01T00:00:00Z\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, sessionFile), stale, 0600))

	m, err := NewManager(dir)
	require.NoError(t, err)
	defer m.Close()

	loaded, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "/old", loaded.Root)
	assert.False(t, loaded.Alive())
	assert.True(t, loaded.StartedAt.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))

	require.NoError(t, m.Create(&Session{Root: "/new"}))

	backups, err := os.ReadDir(filepath.Join(dir, backupDir))
	require.NoError(t, err)
	require.Len(t, backups, 1)

	data, err := os.ReadFile(filepath.Join(dir, backupDir, backups[0].Name()))
	require.NoError(t, err)
	assert.Equal(t, stale, data)
}

func TestBackupsAreCapped(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir)
	require.NoError(t, err)
	defer m.Close()

	for i := 0; i < 8; i++ {
		require.NoError(t, m.Create(&Session{Root: "/r"}))
	}

	backups, err := os.ReadDir(filepath.Join(dir, backupDir))
	require.NoError(t, err)
	assert.Len(t, backups, m.backupCount)
}

func TestSaveBeforeCreate(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	defer m.Close()

	assert.ErrorIs(t, m.Save(&Session{}), ErrNoSession)
}
