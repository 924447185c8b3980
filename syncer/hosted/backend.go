package hosted

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/collection"
	"github.com/aigotowork/docstow/internal/fsutil"
	"github.com/aigotowork/docstow/syncer"
)

// markerID is the local document holding the time of the last push.
const markerID = "docstow-sync"

type marker struct {
	Rev  string `json:"_rev,omitempty"`
	Time string `json:"time"`
}

// Backend maps every synced file to one document of the database.
type Backend struct {
	client *Client
	logger docstow.Logger
}

var (
	_ syncer.Backend       = (*Backend)(nil)
	_ syncer.QuotaReporter = (*Backend)(nil)
)

// New creates a backend from sync settings.
func New(settings syncer.Settings) (*Backend, error) {
	cfg := settings.Config.Hosted
	if cfg.Endpoint == "" || cfg.Database == "" {
		return nil, errors.New("hosted endpoint and database are required")
	}
	timeout := settings.OpTimeout
	if timeout <= 0 {
		timeout = syncer.DefaultOpTimeout
	}
	logger := settings.Logger
	if logger == nil {
		logger = docstow.NewNoopLogger()
	}
	return &Backend{
		client: NewClient(cfg.Endpoint, cfg.Database, cfg.Username, settings.Secret, timeout),
		logger: logger,
	}, nil
}

// Name implements syncer.Backend.
func (b *Backend) Name() string { return "hosted" }

// Usage implements syncer.QuotaReporter. A database that does not exist yet
// uses no space.
func (b *Backend) Usage(ctx context.Context) (syncer.Usage, error) {
	session, err := b.client.Session(ctx)
	if err != nil {
		return syncer.Usage{}, mapError("failed to read session", err)
	}

	usage := syncer.Usage{Roles: session.Roles}
	info, err := b.client.Database(ctx)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return syncer.Usage{}, mapError("failed to read database info", err)
	default:
		usage.DBSize = info.Sizes.File
	}
	return usage, nil
}

// RemoteTime implements syncer.Backend.
func (b *Backend) RemoteTime(ctx context.Context) (time.Time, error) {
	m, err := b.marker(ctx)
	if err != nil {
		return time.Time{}, err
	}
	if m.Time == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, m.Time)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid remote sync time %q: %w", m.Time, err)
	}
	return t, nil
}

func (b *Backend) marker(ctx context.Context) (marker, error) {
	var m marker
	err := b.client.GetLocal(ctx, markerID, &m)
	if errors.Is(err, ErrNotFound) {
		return marker{}, nil
	}
	if err != nil {
		return marker{}, mapError("failed to read sync marker", err)
	}
	return m, nil
}

// Push implements syncer.Backend. Upserts and deletions go out in one bulk
// request, then the marker records snap.Time.
func (b *Backend) Push(ctx context.Context, snap *syncer.Snapshot) error {
	if _, err := b.client.Database(ctx); errors.Is(err, ErrNotFound) {
		if err := b.client.CreateDatabase(ctx); err != nil {
			return mapError("failed to create database", err)
		}
	} else if err != nil {
		return mapError("failed to read database info", err)
	}

	existing, err := b.client.AllDocs(ctx)
	if err != nil {
		return mapError("failed to list remote documents", err)
	}
	revs := make(map[string]string, len(existing))
	for _, d := range existing {
		if !strings.HasPrefix(d.ID, "_") {
			revs[d.ID] = d.Rev
		}
	}

	docs := make([]Doc, 0, len(snap.Files))
	for _, rel := range snap.Files {
		data, err := snap.ReadLocal(rel)
		if err != nil {
			return err
		}
		doc := encodeDoc(rel, data)
		doc.Rev = revs[rel]
		docs = append(docs, doc)
		delete(revs, rel)
	}
	for id, rev := range revs {
		docs = append(docs, Doc{ID: id, Rev: rev, Deleted: true})
	}

	results, err := b.client.BulkDocs(ctx, docs)
	if err != nil {
		return mapError("failed to upload documents", err)
	}
	var failed []string
	conflict := false
	for _, r := range results {
		if r.Error == "" {
			continue
		}
		failed = append(failed, r.ID+": "+r.Error)
		conflict = conflict || r.Error == "conflict"
	}
	if len(failed) > 0 {
		msg := fmt.Sprintf("%d documents were rejected (%s)", len(failed), strings.Join(failed, "; "))
		if conflict {
			return syncer.NewError(syncer.KindConflict, msg)
		}
		return syncer.NewError(syncer.KindTransport, msg)
	}

	m, err := b.marker(ctx)
	if err != nil {
		return err
	}
	m.Time = snap.Time.UTC().Format(time.RFC3339Nano)
	if err := b.client.PutLocal(ctx, markerID, m); err != nil {
		return mapError("failed to write sync marker", err)
	}

	b.logger.Info("Pushed to hosted database",
		docstow.Field{Key: "files", Value: len(snap.Files)},
		docstow.Field{Key: "deleted", Value: len(revs)})
	return nil
}

// Pull implements syncer.Backend.
func (b *Backend) Pull(ctx context.Context, dir string) (time.Time, error) {
	at, err := b.RemoteTime(ctx)
	if err != nil || at.IsZero() {
		return at, err
	}

	docs, err := b.client.AllDocs(ctx)
	if err != nil {
		return time.Time{}, mapError("failed to download documents", err)
	}

	written := 0
	for _, d := range docs {
		if d.Deleted || strings.HasPrefix(d.ID, "_") {
			continue
		}
		if !syncer.SafeRel(d.ID) {
			b.logger.Warn("Skipping remote document with invalid path", docstow.Field{Key: "id", Value: d.ID})
			continue
		}
		data, err := decodeDoc(d)
		if err != nil {
			return time.Time{}, fmt.Errorf("document %s: %w", d.ID, err)
		}
		if err := fsutil.AtomicWriteFile(filepath.Join(dir, filepath.FromSlash(d.ID)), data, 0644); err != nil {
			return time.Time{}, err
		}
		written++
	}

	b.logger.Info("Pulled from hosted database", docstow.Field{Key: "files", Value: written})
	return at, nil
}

// encodeDoc stores document files as JSON content. Attachments travel as
// base64 so their bytes survive unchanged.
func encodeDoc(rel string, data []byte) Doc {
	if collection.IsDocumentFile(rel) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err == nil && buf.Len() > 0 {
			return Doc{ID: rel, Content: buf.Bytes()}
		}
	}
	contentType := mime.TypeByExtension(path.Ext(rel))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return Doc{ID: rel, Data: base64.StdEncoding.EncodeToString(data), ContentType: contentType}
}

func decodeDoc(d Doc) ([]byte, error) {
	if len(d.Content) > 0 {
		var buf bytes.Buffer
		if err := json.Indent(&buf, d.Content, "", "  "); err != nil {
			return nil, fmt.Errorf("invalid content: %w", err)
		}
		buf.WriteByte('\n')
		return buf.Bytes(), nil
	}
	data, err := base64.StdEncoding.DecodeString(d.Data)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return data, nil
}

// mapError gives HTTP failures a sync error kind. Other errors are left for
// the engine to classify.
func mapError(msg string, err error) error {
	var se *StatusError
	if !errors.As(err, &se) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	switch se.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		return syncer.Wrap(syncer.KindConfig, msg+": authentication failed", err)
	case http.StatusConflict:
		return syncer.Wrap(syncer.KindConflict, msg, err)
	default:
		return syncer.Wrap(syncer.KindTransport, msg, err)
	}
}
