package blocksize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscoverFallsBackToDefault(t *testing.T) {
	// /tmp is virtually never backed by a queryable /sys/dev/block entry
	// in a sandboxed test environment, so this exercises the fallback.
	got := Discover(t.TempDir())
	assert.Greater(t, got, 0)
}

func TestDirExists(t *testing.T) {
	assert.True(t, DirExists(t.TempDir()))
	assert.False(t, DirExists("/this/path/does/not/exist/hopefully"))
}
