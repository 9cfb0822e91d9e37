package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	root := t.TempDir()

	v, err := New(root, "data", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, root, v.Root())
	assert.Equal(t, "data", v.GetVolumeLabel())
	assert.Equal(t, DeriveID(root), v.GetVolumeID())
	assert.NotZero(t, v.GetVolumeID())
	assert.Equal(t, uint32(DefaultSectorSize), v.SectorSize())

	fixed, err := New(root, "data", 0x12345678, 4096)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x12345678), fixed.GetVolumeID())
	assert.Equal(t, uint32(4096), fixed.SectorSize())
}

func TestDeriveIDIsStable(t *testing.T) {
	assert.Equal(t, DeriveID("/srv/a"), DeriveID("/srv/a"))
	assert.NotEqual(t, DeriveID("/srv/a"), DeriveID("/srv/b"))
}

func TestGetVolumeSize(t *testing.T) {
	v, err := New(t.TempDir(), "", 0, 512)
	require.NoError(t, err)

	st, err := v.Stat()
	require.NoError(t, err)
	require.NotZero(t, st.BlockSize)

	total, free, err := v.GetVolumeSize()
	require.NoError(t, err)
	assert.NotZero(t, total)
	assert.LessOrEqual(t, free, total)
	assert.Equal(t, st.Blocks*st.BlockSize/512, total)
}

func TestGetVolumeSizeMissingRoot(t *testing.T) {
	v, err := New("/definitely/not/here", "", 0, 0)
	require.NoError(t, err)

	_, _, err = v.GetVolumeSize()
	assert.Error(t, err)
}
