package fsutil

import (
	"io/fs"
	"path/filepath"
	"strings"
)

// SkipFunc decides whether a slash-separated relative path is excluded from a
// walk. Returning true for a directory prunes the whole subtree.
type SkipFunc func(rel string, isDir bool) bool

// WalkFiles calls fn for every regular file under root with its slash-separated
// path relative to root. Hidden temp files are always skipped.
func WalkFiles(root string, skip SkipFunc, fn func(rel string, info fs.FileInfo) error) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if skip != nil && skip(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() || IsTemp(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		return fn(rel, info)
	})
}

// DirSize calculates the total size of all files under root, honoring skip.
func DirSize(root string, skip SkipFunc) (int64, error) {
	var size int64
	err := WalkFiles(root, skip, func(_ string, info fs.FileInfo) error {
		size += info.Size()
		return nil
	})
	return size, err
}

// IsHidden checks if a file or directory is hidden.
// On Unix systems, files starting with "." are hidden.
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

// IsTemp reports whether name is an in-flight AtomicWriteFile temp file.
func IsTemp(name string) bool {
	return IsHidden(name) && strings.HasSuffix(name, TempSuffix)
}
