package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Materialize copies the blob at src into a new temporary file under tempDir
// (os.TempDir() when empty) and returns the copy's path. The file keeps src's
// base name as suffix so consumers that sniff extensions still work. The
// caller owns the copy and removes it when done.
func Materialize(src, tempDir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()

	out, err := os.CreateTemp(tempDir, "docstow-*-"+filepath.Base(src))
	if err != nil {
		return "", fmt.Errorf("failed to create temp copy: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(out.Name())
		return "", fmt.Errorf("failed to copy blob: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(out.Name())
		return "", err
	}

	return out.Name(), nil
}
