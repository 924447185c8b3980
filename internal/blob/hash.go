package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// ComputeSHA256 computes the SHA256 hash of data from a reader without
// loading it into memory.
func ComputeSHA256(r io.Reader) (string, error) {
	h := sha256.New()

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to compute hash: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeSHA256FromBytes computes SHA256 hash from byte slice.
func ComputeSHA256FromBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// HashFile hashes the file at path and returns its info.
func HashFile(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return Info{}, err
	}
	sum, err := ComputeSHA256(f)
	if err != nil {
		return Info{}, err
	}
	return Info{Hash: sum, Size: st.Size()}, nil
}
