package syncer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/collection"
	"github.com/aigotowork/docstow/internal/fsutil"
)

// Retry policy for single file transfers.
const (
	RetryAttempts = 3
	RetryDelay    = time.Second
)

// StagingDirName is the directory under the data root a pull downloads into.
const StagingDirName = ".docstow-staging"

// Backend moves a data root snapshot to and from one remote.
type Backend interface {
	// Name identifies the backend in logs and status messages.
	Name() string

	// RemoteTime returns the time of the last push recorded on the remote,
	// or the zero time if the remote was never written.
	RemoteTime(ctx context.Context) (time.Time, error)

	// Push makes the remote an exact copy of snap and records snap.Time.
	Push(ctx context.Context, snap *Snapshot) error

	// Pull downloads the whole remote tree into dir and returns the remote
	// time. It must not touch anything outside dir.
	Pull(ctx context.Context, dir string) (time.Time, error)
}

// QuotaReporter is implemented by backends with an account storage quota.
type QuotaReporter interface {
	Usage(ctx context.Context) (Usage, error)
}

// Usage is the remote storage used by an account.
type Usage struct {
	DBSize int64
	Roles  []string
}

// Settings is what a BackendFactory needs to build a backend.
type Settings struct {
	Config    Config
	Secret    string
	OpTimeout time.Duration
	Logger    docstow.Logger

	// Retry overrides the per-file retry policy. Zero values use
	// RetryAttempts and RetryDelay.
	RetryAttempts int
	RetryDelay    time.Duration
}

// BackendFactory builds the backend selected by settings.Config.Mode.
type BackendFactory func(settings Settings) (Backend, error)

// Snapshot is the set of synced files under a data root.
type Snapshot struct {
	Root string
	// Files are slash-separated paths relative to Root, sorted.
	Files []string
	Time  time.Time
}

// Abs returns the local path of a snapshot file.
func (s *Snapshot) Abs(rel string) string {
	return filepath.Join(s.Root, filepath.FromSlash(rel))
}

// Excluded reports whether a slash-separated path relative to the data root
// stays out of sync: version control metadata, local-only collections, the
// device's own sync settings, the instance lock, the staging area and
// in-flight temp files.
func Excluded(rel string, isDir bool) bool {
	parts := strings.Split(rel, "/")
	for _, p := range parts {
		if p == ".git" {
			return true
		}
	}
	switch parts[0] {
	case docstow.LockFileName, StagingDirName:
		return true
	}
	for _, local := range collection.LocalOnly() {
		if parts[0] == local || parts[0] == local+".json" {
			return true
		}
	}
	if !isDir && rel == path.Join(collection.ConfigCollection, collection.SyncNamespace+".json") {
		return true
	}
	return !isDir && fsutil.IsTemp(parts[len(parts)-1])
}

// SafeRel reports whether rel, received from a remote, is a clean relative
// slash path that stays inside the data root and takes part in a sync.
func SafeRel(rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.Contains(rel, `\`) || path.Clean(rel) != rel {
		return false
	}
	for _, p := range strings.Split(rel, "/") {
		if p == ".." {
			return false
		}
	}
	return !Excluded(rel, false)
}

// TakeSnapshot lists the synced files under root.
func TakeSnapshot(root string, at time.Time) (*Snapshot, error) {
	snap := &Snapshot{Root: root, Time: at}
	err := fsutil.WalkFiles(root, Excluded, func(rel string, _ fs.FileInfo) error {
		snap.Files = append(snap.Files, rel)
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to scan data root: %w", err)
	}
	sort.Strings(snap.Files)
	return snap, nil
}

// applyStaging replaces the synced files under root with the files
// downloaded into staging. Synced files missing from staging are removed.
func applyStaging(root, staging string) error {
	local, err := TakeSnapshot(root, time.Time{})
	if err != nil {
		return err
	}
	remote, err := TakeSnapshot(staging, time.Time{})
	if err != nil {
		return err
	}

	keep := make(map[string]struct{}, len(remote.Files))
	for _, rel := range remote.Files {
		keep[rel] = struct{}{}
		dst := local.Abs(rel)
		if err := fsutil.EnsureDir(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if fsutil.DirExists(dst) {
			if err := fsutil.RemoveAll(dst); err != nil {
				return err
			}
		}
		if err := fsutil.SafeRename(remote.Abs(rel), dst); err != nil {
			return fmt.Errorf("failed to move %s into place: %w", rel, err)
		}
	}

	for _, rel := range local.Files {
		if _, ok := keep[rel]; ok {
			continue
		}
		abs := local.Abs(rel)
		if err := fsutil.RemoveFile(abs); err != nil {
			return err
		}
		fsutil.PruneEmptyDirs(filepath.Dir(abs), root)
	}
	return nil
}

// Retry runs op until it succeeds, fails permanently or runs out of
// attempts. transient decides which errors are worth another attempt.
func Retry(ctx context.Context, attempts int, delay time.Duration, transient func(error) bool, op func() error) error {
	if attempts <= 0 {
		attempts = RetryAttempts
	}
	if delay <= 0 {
		delay = RetryDelay
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(attempts)), ctx)
	return backoff.Retry(func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		err := op()
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
}

// ReadLocal reads a snapshot file.
func (s *Snapshot) ReadLocal(rel string) ([]byte, error) {
	return os.ReadFile(s.Abs(rel))
}
