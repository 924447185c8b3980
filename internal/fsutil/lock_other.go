//go:build !unix && !windows

package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// LockFile is an exclusively created marker file. Unlike flock it survives a
// crash; a stale marker has to be removed by hand.
type LockFile struct {
	path string
}

// TryLock creates path exclusively.
func TryLock(path string) (*LockFile, error) {
	if err := EnsureDir(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if os.IsExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	f.Close()

	return &LockFile{path: path}, nil
}

// Release removes the marker file.
func (l *LockFile) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	return err
}
