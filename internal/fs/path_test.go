package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRealPath(t *testing.T) {
	root := t.TempDir()
	pt, err := NewPathTranslator(root, false)
	require.NoError(t, err)

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "virtual root", input: VirtualRoot, expected: root},
		{name: "slash root", input: "/", expected: root},
		{name: "empty path", input: "", expected: root},
		{name: "backslash path", input: `\dir\file.txt`, expected: filepath.Join(root, "dir", "file.txt")},
		{name: "slash path", input: "/dir/file.txt", expected: filepath.Join(root, "dir", "file.txt")},
		{name: "relative path", input: "file.txt", expected: filepath.Join(root, "file.txt")},
		{name: "dot components", input: `\dir\.\file.txt`, expected: filepath.Join(root, "dir", "file.txt")},
		{name: "parent stays inside", input: `\..\..\etc\passwd`, expected: filepath.Join(root, "etc", "passwd")},
		{name: "trailing separator", input: `\dir\`, expected: filepath.Join(root, "dir")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, pt.ToRealPath(tt.input))
		})
	}
}

func TestToRealPathIsInjective(t *testing.T) {
	pt, err := NewPathTranslator(t.TempDir(), false)
	require.NoError(t, err)

	inputs := []string{`\a`, `\b`, `\a\b`, `\a b`, `\A`, `\a.txt`, `\a\b\c`, `\ab`}
	seen := make(map[string]string)
	for _, in := range inputs {
		out := pt.ToRealPath(in)
		if prev, ok := seen[out]; ok {
			t.Fatalf("%q and %q both map to %q", prev, in, out)
		}
		seen[out] = in
		assert.Equal(t, out, pt.ToRealPath(in), "mapping must be deterministic")
	}
}

func TestCleanVirtualPath(t *testing.T) {
	assert.Equal(t, "/", CleanVirtualPath(`\`))
	assert.Equal(t, "/a/b", CleanVirtualPath(`\a\\b\`))
	assert.Equal(t, "/b", CleanVirtualPath(`a\..\b`))
	assert.True(t, IsRoot(""))
	assert.False(t, IsRoot(`\x`))
}

func TestResolveConfinesSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	t.Run("unconfined follows link", func(t *testing.T) {
		pt, err := NewPathTranslator(root, false)
		require.NoError(t, err)

		resolved, err := pt.Resolve(`\escape\secret`)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(root, "escape", "secret"), resolved)
	})

	t.Run("confined stays under root", func(t *testing.T) {
		pt, err := NewPathTranslator(root, true)
		require.NoError(t, err)

		resolved, err := pt.Resolve(`\escape\secret`)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(resolved, root+string(filepath.Separator)),
			"resolved path %q escaped %q", resolved, root)
		assert.False(t, strings.HasPrefix(resolved, outside+string(filepath.Separator)))
	})

	t.Run("confined root", func(t *testing.T) {
		pt, err := NewPathTranslator(root, true)
		require.NoError(t, err)

		resolved, err := pt.Resolve(VirtualRoot)
		require.NoError(t, err)
		assert.Equal(t, root, resolved)
	})
}

func TestIsDirectoryAttribute(t *testing.T) {
	assert.True(t, IsDirectoryAttribute(AttributeDirectory))
	assert.True(t, IsDirectoryAttribute(AttributeDirectory|AttributeHidden))
	assert.False(t, IsDirectoryAttribute(AttributeNormal))
	assert.False(t, IsDirectoryAttribute(0))
}
