package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("debug")
	require.True(t, ok)
	assert.Equal(t, LevelDebug, level)

	level, ok = ParseLevel(" Trace ")
	require.True(t, ok)
	assert.Equal(t, LevelTrace, level)

	_, ok = ParseLevel("verbose")
	assert.False(t, ok)
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("TEST", &buf)

	logger.Debug("hidden %d", 1)
	assert.Empty(t, buf.String())

	logger.Info("shown %d", 2)
	assert.Contains(t, buf.String(), "shown 2")
	assert.Contains(t, buf.String(), "TEST")
}

func TestWithPrefixSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	parent := NewLogger("PARENT", &buf)
	child := parent.WithPrefix("child")

	child.Trace("before")
	assert.Empty(t, buf.String())

	parent.SetLevel(LevelTrace)
	child.Trace("after")
	assert.Contains(t, buf.String(), "after")
	assert.Contains(t, buf.String(), "child")
	assert.Equal(t, LevelTrace, child.Level())
}
