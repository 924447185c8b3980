// Package webdav mirrors a data root to a folder on a WebDAV server.
package webdav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"
	"golang.org/x/sync/errgroup"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/internal/fsutil"
	"github.com/aigotowork/docstow/syncer"
)

// MarkerName is the file in the remote folder recording the last push.
const MarkerName = ".docstow-sync.json"

// Concurrency is the number of simultaneous file transfers.
const Concurrency = 4

// DefaultPath is the remote folder used when none is configured.
const DefaultPath = "/docstow"

type marker struct {
	Time string `json:"time"`
}

// Backend mirrors files one by one. Every transfer is retried on
// transient server errors.
type Backend struct {
	client   *gowebdav.Client
	base     string
	attempts int
	delay    time.Duration
	logger   docstow.Logger
}

var _ syncer.Backend = (*Backend)(nil)

// New creates a backend from sync settings.
func New(settings syncer.Settings) (*Backend, error) {
	cfg := settings.Config.WebDAV
	if cfg.URL == "" {
		return nil, errors.New("webdav url is required")
	}
	timeout := settings.OpTimeout
	if timeout <= 0 {
		timeout = syncer.DefaultOpTimeout
	}
	base := cfg.Path
	if base == "" {
		base = DefaultPath
	}
	logger := settings.Logger
	if logger == nil {
		logger = docstow.NewNoopLogger()
	}

	client := gowebdav.NewClient(cfg.URL, cfg.Username, settings.Secret)
	client.SetTimeout(timeout)

	return &Backend{
		client:   client,
		base:     path.Clean("/" + base),
		attempts: settings.RetryAttempts,
		delay:    settings.RetryDelay,
		logger:   logger,
	}, nil
}

// Name implements syncer.Backend.
func (b *Backend) Name() string { return "webdav" }

func (b *Backend) remote(rel string) string {
	return path.Join(b.base, rel)
}

// RemoteTime implements syncer.Backend.
func (b *Backend) RemoteTime(ctx context.Context) (time.Time, error) {
	var data []byte
	err := b.retry(ctx, func() error {
		var err error
		data, err = b.client.Read(b.remote(MarkerName))
		return err
	})
	if isNotFound(err) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, mapError("failed to read sync marker", err)
	}

	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return time.Time{}, fmt.Errorf("invalid sync marker: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, m.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid remote sync time %q: %w", m.Time, err)
	}
	return t, nil
}

// Push implements syncer.Backend: upload every local file, delete remote
// files that no longer exist locally, then write the marker.
func (b *Backend) Push(ctx context.Context, snap *syncer.Snapshot) error {
	remote, err := b.list(ctx)
	if err != nil {
		return err
	}

	// Collections are created up front, in order, so parallel uploads never
	// race on the same parent.
	for _, dir := range parentDirs(snap.Files) {
		if err := b.retry(ctx, func() error { return b.client.MkdirAll(b.remote(dir), 0755) }); err != nil {
			return mapError("failed to create "+dir, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Concurrency)
	for _, rel := range snap.Files {
		delete(remote, rel)
		rel := rel
		g.Go(func() error {
			err := b.retry(gctx, func() error {
				f, err := os.Open(snap.Abs(rel))
				if err != nil {
					return err
				}
				defer f.Close()
				return b.client.WriteStream(b.remote(rel), f, 0644)
			})
			if err != nil {
				return mapError("failed to upload "+rel, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(Concurrency)
	for rel := range remote {
		rel := rel
		g.Go(func() error {
			err := b.retry(gctx, func() error { return b.client.Remove(b.remote(rel)) })
			if err != nil && !isNotFound(err) {
				return mapError("failed to delete "+rel, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	data, err := json.Marshal(marker{Time: snap.Time.UTC().Format(time.RFC3339Nano)})
	if err != nil {
		return err
	}
	if err := b.retry(ctx, func() error { return b.client.Write(b.remote(MarkerName), data, 0644) }); err != nil {
		return mapError("failed to write sync marker", err)
	}

	b.logger.Info("Pushed to WebDAV",
		docstow.Field{Key: "files", Value: len(snap.Files)},
		docstow.Field{Key: "deleted", Value: len(remote)})
	return nil
}

// Pull implements syncer.Backend.
func (b *Backend) Pull(ctx context.Context, dir string) (time.Time, error) {
	at, err := b.RemoteTime(ctx)
	if err != nil || at.IsZero() {
		return at, err
	}

	remote, err := b.list(ctx)
	if err != nil {
		return time.Time{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(Concurrency)
	for rel := range remote {
		rel := rel
		g.Go(func() error {
			dst := filepath.Join(dir, filepath.FromSlash(rel))
			err := b.retry(gctx, func() error {
				rc, err := b.client.ReadStream(b.remote(rel))
				if err != nil {
					return err
				}
				defer rc.Close()
				return fsutil.AtomicWriteFunc(dst, 0644, func(w io.Writer) error {
					_, err := io.Copy(w, rc)
					return err
				})
			})
			if err != nil {
				return mapError("failed to download "+rel, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return time.Time{}, err
	}

	b.logger.Info("Pulled from WebDAV", docstow.Field{Key: "files", Value: len(remote)})
	return at, nil
}

// list returns the synced files of the remote folder. A missing folder is empty.
func (b *Backend) list(ctx context.Context) (map[string]struct{}, error) {
	files := make(map[string]struct{})

	var walk func(rel string) error
	walk = func(rel string) error {
		var entries []os.FileInfo
		err := b.retry(ctx, func() error {
			var err error
			entries, err = b.client.ReadDir(b.remote(rel))
			return err
		})
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return mapError("failed to list "+b.remote(rel), err)
		}

		for _, fi := range entries {
			child, ok := childPath(rel, fi.Name())
			if !ok {
				b.logger.Warn("Skipping remote entry with invalid name",
					docstow.Field{Key: "dir", Value: rel},
					docstow.Field{Key: "name", Value: fi.Name()})
				continue
			}
			if child == MarkerName || syncer.Excluded(child, fi.IsDir()) {
				continue
			}
			if fi.IsDir() {
				if err := walk(child); err != nil {
					return err
				}
				continue
			}
			files[child] = struct{}{}
		}
		return nil
	}

	if err := walk(""); err != nil {
		return nil, err
	}
	return files, nil
}

// childPath joins a remote entry name onto rel. Names that are not a single
// plain path segment are rejected.
func childPath(rel, name string) (string, bool) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", false
	}
	return path.Join(rel, name), true
}

func (b *Backend) retry(ctx context.Context, op func() error) error {
	return syncer.Retry(ctx, b.attempts, b.delay, isTransient, op)
}

// parentDirs returns the distinct parent directories of files, parents first.
func parentDirs(files []string) []string {
	seen := make(map[string]struct{})
	for _, rel := range files {
		if dir := path.Dir(rel); dir != "." {
			seen[dir] = struct{}{}
		}
	}
	dirs := make([]string, 0, len(seen))
	for dir := range seen {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		if di, dj := strings.Count(dirs[i], "/"), strings.Count(dirs[j], "/"); di != dj {
			return di < dj
		}
		return dirs[i] < dirs[j]
	})
	return dirs
}

func statusOf(err error) int {
	var se gowebdav.StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

func isNotFound(err error) bool {
	return err != nil && statusOf(err) == http.StatusNotFound
}

// isTransient reports whether a failed transfer may succeed when repeated:
// locked or conflicting resources, server errors and timeouts.
func isTransient(err error) bool {
	switch code := statusOf(err); {
	case code == http.StatusLocked, code == http.StatusConflict, code >= 500:
		return true
	case code != 0:
		return false
	}
	return syncer.IsTimeout(err)
}

func mapError(msg string, err error) error {
	switch code := statusOf(err); code {
	case 0:
		return fmt.Errorf("%s: %w", msg, err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return syncer.Wrap(syncer.KindConfig, msg+": authentication failed", err)
	case http.StatusConflict, http.StatusLocked:
		return syncer.Wrap(syncer.KindConflict, msg, err)
	default:
		return syncer.Wrap(syncer.KindTransport, msg, err)
	}
}
