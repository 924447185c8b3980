// Package blob writes and materializes binary attachment files.
package blob

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/aigotowork/docstow/internal/fsutil"
)

// DefaultChunkSize is the read buffer used when streaming into a blob.
const DefaultChunkSize = 64 * 1024

// ErrTooLarge is returned when content exceeds the writer's size limit.
var ErrTooLarge = errors.New("blob exceeds size limit")

// Info describes a stored blob.
type Info struct {
	Hash string // hex SHA-256 of the content
	Size int64
}

// Writer is a chunked writer that writes data in chunks and computes hash simultaneously.
// It also enforces a maximum file size limit.
type Writer struct {
	file      *os.File
	hash      hash.Hash
	written   int64
	maxSize   int64
	chunkSize int64
}

// NewWriter creates a chunked writer on a fresh temporary file in dir.
//
// Parameters:
//   - dir: directory of the final file (the temp file must share its filesystem)
//   - maxSize: maximum file size in bytes (0 for unlimited)
//   - chunkSize: chunk size for writing (0 selects DefaultChunkSize)
func NewWriter(dir string, maxSize, chunkSize int64) (*Writer, error) {
	if err := fsutil.EnsureDir(dir, 0755); err != nil {
		return nil, err
	}
	f, err := os.CreateTemp(dir, ".blob.*"+fsutil.TempSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Writer{
		file:      f,
		hash:      sha256.New(),
		maxSize:   maxSize,
		chunkSize: chunkSize,
	}, nil
}

// Write writes data to the file and updates the hash.
// It enforces the maximum file size limit.
func (w *Writer) Write(p []byte) (int, error) {
	if w.maxSize > 0 && w.written+int64(len(p)) > w.maxSize {
		return 0, fmt.Errorf("%w of %d bytes", ErrTooLarge, w.maxSize)
	}

	n, err := w.file.Write(p)
	if err != nil {
		return n, fmt.Errorf("failed to write to file: %w", err)
	}

	w.hash.Write(p[:n])
	w.written += int64(n)

	return n, nil
}

// WriteFrom reads from a reader and writes to the file in chunks.
func (w *Writer) WriteFrom(r io.Reader) error {
	buf := make([]byte, w.chunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return writeErr
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read from source: %w", err)
		}
	}
}

// Commit syncs the temp file and renames it to path.
func (w *Writer) Commit(path string) (Info, error) {
	tmpPath := w.file.Name()

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("failed to sync file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return Info{}, err
	}
	if err := fsutil.SafeRename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return Info{}, fmt.Errorf("failed to rename blob file: %w", err)
	}

	return Info{Hash: fmt.Sprintf("%x", w.hash.Sum(nil)), Size: w.written}, nil
}

// Abort closes the writer and removes the temp file.
func (w *Writer) Abort() error {
	path := w.file.Name()
	w.file.Close()
	return os.Remove(path)
}

// WriteFile streams r into path atomically, overwriting any existing file.
func WriteFile(path string, r io.Reader, maxSize, chunkSize int64) (Info, error) {
	w, err := NewWriter(filepath.Dir(path), maxSize, chunkSize)
	if err != nil {
		return Info{}, err
	}
	if err := w.WriteFrom(r); err != nil {
		w.Abort()
		return Info{}, err
	}
	return w.Commit(path)
}
