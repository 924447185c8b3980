//go:build unix || windows

package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLockAfterCrash(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	// Left behind by a process that exited without releasing.
	require.NoError(t, os.WriteFile(path, []byte("4242\n"), 0644))

	l, err := TryLock(path)
	require.NoError(t, err)
	defer l.Release()

	_, err = TryLock(path)
	assert.ErrorIs(t, err, ErrLocked)
}
