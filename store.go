package docstow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync/atomic"

	"github.com/aigotowork/docstow/internal/cache"
	"github.com/aigotowork/docstow/internal/fsutil"
	"github.com/aigotowork/docstow/internal/index"
	"github.com/aigotowork/docstow/internal/pathstore"
	"github.com/aigotowork/docstow/internal/queue"
)

// store implements the Store interface.
// It owns the registry of cached documents and per-file queues for one data root.
type store struct {
	root        string
	collections map[string]Layout
	options     *storeOptions
	logger      Logger

	cache   *cache.Cache
	queue   *queue.Queue
	lock    *fsutil.LockFile
	watcher *changeWatcher

	closed atomic.Bool
}

// openStore opens or creates a store.
func openStore(root string, opts ...StoreOption) (*store, error) {
	// Apply options
	options := defaultStoreOptions()
	for _, opt := range opts {
		opt(options)
	}

	for name := range options.collections {
		if err := index.ValidateID(name); err != nil {
			return nil, fmt.Errorf("invalid collection name: %w", err)
		}
	}

	// Convert to absolute path
	absPath, err := fsutil.AbsPath(root)
	if err != nil {
		return nil, fmt.Errorf("invalid data root: %w", err)
	}

	// Ensure data root exists
	if err := fsutil.EnsureDir(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data root: %w", err)
	}

	lock, err := fsutil.TryLock(filepath.Join(absPath, LockFileName))
	if err != nil {
		return nil, err
	}

	s := &store{
		root:        absPath,
		collections: options.collections,
		options:     options,
		logger:      options.logger,
		cache:       cache.New(),
		lock:        lock,
	}
	s.queue = queue.New(func(key string, err error) {
		s.logger.Error("document operation failed", Field{"file", s.rel(key)}, Field{"error", err})
	})

	if options.watch {
		w, err := newChangeWatcher(s)
		if err != nil {
			lock.Release()
			return nil, err
		}
		s.watcher = w
	}

	s.logger.Debug("store opened", Field{"root", absPath}, Field{"collections", len(s.collections)})
	return s, nil
}

// load returns the cached document for key, parsing its file on first access.
// A missing or blank file is an empty document.
func (s *store) load(key string) (map[string]interface{}, error) {
	return s.cache.EnsureLoaded(key, func() (map[string]interface{}, error) {
		data, ok, err := fsutil.ReadFileIfExists(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", s.rel(key), err)
		}
		if !ok || len(bytes.TrimSpace(data)) == 0 {
			return nil, nil
		}

		var doc map[string]interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptedData, s.rel(key), err)
		}
		return doc, nil
	})
}

// write persists doc to key and only then makes it the cached version.
// Callers must hold key's queue slot.
func (s *store) write(key string, doc map[string]interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", s.rel(key), err)
	}
	data = append(data, '\n')

	if err := fsutil.AtomicWriteFile(key, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.rel(key), err)
	}

	s.cache.Set(key, doc)
	return nil
}

// remove deletes key's file and forgets its cached version.
// Callers must hold key's queue slot.
func (s *store) remove(key string) error {
	if err := fsutil.RemoveFile(key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", s.rel(key), err)
	}
	s.cache.Invalidate(key)
	return nil
}

// readFile returns a private copy of the whole document in key.
func (s *store) readFile(ctx context.Context, key string) (map[string]interface{}, error) {
	return queue.Do(ctx, s.queue, key, func() (map[string]interface{}, error) {
		doc, err := s.load(key)
		if err != nil {
			return nil, err
		}
		return pathstore.CloneDoc(doc), nil
	})
}

func (s *store) checkOpen(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return ctx.Err()
}

// GetValue returns the value at path, materializing def when it is absent.
func (s *store) GetValue(ctx context.Context, collection, id string, path Path, def interface{}) (interface{}, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return nil, err
	}

	if layout == LayoutDirPerDoc && path.IsAll() {
		return s.readDirDoc(ctx, collection, id)
	}

	t, err := s.resolve(layout, collection, id, path)
	if err != nil {
		return nil, err
	}

	return queue.Do(ctx, s.queue, t.key, func() (interface{}, error) {
		doc, err := s.load(t.key)
		if err != nil {
			return nil, err
		}

		switch t.kind {
		case kindFile:
			return pathstore.CloneDoc(doc), nil

		case kindEntry:
			entry, ok := doc[id]
			if !ok || entry == nil {
				return map[string]interface{}{}, nil
			}
			if _, isObject := entry.(map[string]interface{}); !isObject {
				return nil, fmt.Errorf("%w: %s is %T", ErrPathConflict, id, entry)
			}
			return pathstore.Clone(entry), nil

		case kindPart:
			if len(doc) > 0 || def == nil || fsutil.FileExists(t.key) {
				return pathstore.CloneDoc(doc), nil
			}
			norm, err := pathstore.Normalize(def)
			if err != nil {
				return nil, err
			}
			part, ok := norm.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: part %s default must be an object, got %T", ErrPathConflict, path[0], def)
			}
			if err := s.write(t.key, part); err != nil {
				return nil, err
			}
			return pathstore.CloneDoc(part), nil
		}

		value, found, err := pathstore.Get(doc, t.inner)
		if err != nil {
			return nil, pathError(err)
		}
		if found {
			return pathstore.Clone(value), nil
		}

		norm, err := pathstore.Normalize(def)
		if err != nil {
			return nil, err
		}
		updated, err := pathstore.Set(doc, t.inner, norm)
		if err != nil {
			return nil, pathError(err)
		}
		if err := s.write(t.key, updated); err != nil {
			return nil, err
		}

		s.logger.Debug("default materialized", Field{"file", s.rel(t.key)}, Field{"path", path.String()})
		return pathstore.Clone(norm), nil
	})
}

// SetValue stores value at path.
func (s *store) SetValue(ctx context.Context, collection, id string, path Path, value interface{}) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return err
	}

	norm, err := pathstore.Normalize(value)
	if err != nil {
		return err
	}

	if layout == LayoutDirPerDoc && path.IsAll() {
		return s.writeDirDoc(ctx, collection, id, norm)
	}

	t, err := s.resolve(layout, collection, id, path)
	if err != nil {
		return err
	}
	if t.kind == kindEntry || t.kind == kindPart {
		if _, ok := norm.(map[string]interface{}); !ok {
			return fmt.Errorf("%w: %s must be an object, got %T", ErrPathConflict, path, value)
		}
	}

	return s.queue.Run(ctx, t.key, func() error {
		doc, err := s.load(t.key)
		if err != nil {
			return err
		}
		updated, err := pathstore.Set(doc, t.inner, norm)
		if err != nil {
			return pathError(err)
		}
		return s.write(t.key, updated)
	})
}

// UpdateValue runs a read-modify-write of the value at path in one queue slot.
func (s *store) UpdateValue(ctx context.Context, collection, id string, path Path, fn UpdateFunc) (interface{}, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return nil, err
	}
	if layout == LayoutDirPerDoc && path.IsAll() {
		return nil, fmt.Errorf("%w: directory documents are updated part by part", ErrInvalidPath)
	}

	t, err := s.resolve(layout, collection, id, path)
	if err != nil {
		return nil, err
	}

	return queue.Do(ctx, s.queue, t.key, func() (interface{}, error) {
		doc, err := s.load(t.key)
		if err != nil {
			return nil, err
		}

		current, found, err := pathstore.Get(doc, t.inner)
		if err != nil {
			return nil, pathError(err)
		}
		if pathstore.IsAll(t.inner) {
			found = len(doc) > 0 || fsutil.FileExists(t.key)
		}

		next, err := fn(pathstore.Clone(current), found)
		if err != nil {
			return nil, err
		}
		norm, err := pathstore.Normalize(next)
		if err != nil {
			return nil, err
		}
		if t.kind == kindEntry || t.kind == kindPart {
			if _, ok := norm.(map[string]interface{}); !ok {
				return nil, fmt.Errorf("%w: %s must be an object, got %T", ErrPathConflict, path, next)
			}
		}
		if found && reflect.DeepEqual(norm, current) {
			return pathstore.Clone(norm), nil
		}

		updated, err := pathstore.Set(doc, t.inner, norm)
		if err != nil {
			return nil, pathError(err)
		}
		if err := s.write(t.key, updated); err != nil {
			return nil, err
		}
		return pathstore.Clone(norm), nil
	})
}

// readDirDoc assembles a directory document from its part files.
func (s *store) readDirDoc(ctx context.Context, collection, id string) (Document, error) {
	parts, err := s.partNames(collection, id)
	if err != nil {
		return nil, err
	}

	doc := make(Document, len(parts))
	for _, part := range parts {
		partDoc, err := s.readFile(ctx, s.partFile(collection, id, part))
		if err != nil {
			return nil, err
		}
		doc[part] = partDoc
	}
	return doc, nil
}

// writeDirDoc replaces a directory document: one file per top-level key,
// part files missing from value are removed.
func (s *store) writeDirDoc(ctx context.Context, collection, id string, value interface{}) error {
	doc, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("%w: document must be an object, got %T", ErrPathConflict, value)
	}
	for part, content := range doc {
		if err := index.ValidateID(part); err != nil {
			return fmt.Errorf("%w: part name: %v", ErrInvalidPath, err)
		}
		if _, ok := content.(map[string]interface{}); !ok {
			return fmt.Errorf("%w: part %s must be an object, got %T", ErrPathConflict, part, content)
		}
	}

	existing, err := s.partNames(collection, id)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(doc))
	for part := range doc {
		names = append(names, part)
	}
	sort.Strings(names)

	for _, part := range names {
		key := s.partFile(collection, id, part)
		content := doc[part].(map[string]interface{})
		if err := s.queue.Run(ctx, key, func() error {
			return s.write(key, content)
		}); err != nil {
			return err
		}
	}

	for _, part := range existing {
		if _, keep := doc[part]; keep {
			continue
		}
		key := s.partFile(collection, id, part)
		if err := s.queue.Run(ctx, key, func() error {
			return s.remove(key)
		}); err != nil {
			return err
		}
	}
	return nil
}

// GetAllDocs returns every document of a collection keyed by id.
func (s *store) GetAllDocs(ctx context.Context, collection string) (map[string]Document, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	layout, err := s.collectionLayout(collection)
	if err != nil {
		return nil, err
	}

	docs := make(map[string]Document)

	if layout == LayoutSingleFile {
		all, err := s.readFile(ctx, s.collectionFile(collection))
		if err != nil {
			return nil, err
		}
		for id, entry := range all {
			if doc, ok := entry.(map[string]interface{}); ok {
				docs[id] = doc
			}
		}
		return docs, nil
	}

	ids, err := s.docIDs(layout, collection)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var doc Document
		if layout == LayoutDirPerDoc {
			doc, err = s.readDirDoc(ctx, collection, id)
		} else {
			doc, err = s.readFile(ctx, s.docFile(collection, id))
		}
		if err != nil {
			return nil, err
		}
		docs[id] = doc
	}

	return docs, nil
}

// RemoveDoc deletes a document and its attachments.
func (s *store) RemoveDoc(ctx context.Context, collection, id string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return err
	}

	switch layout {
	case LayoutFilePerDoc:
		key := s.docFile(collection, id)
		if err := s.queue.Run(ctx, key, func() error {
			return s.remove(key)
		}); err != nil {
			return err
		}

	case LayoutDirPerDoc:
		parts, err := s.partNames(collection, id)
		if err != nil {
			return err
		}
		for _, part := range parts {
			key := s.partFile(collection, id, part)
			if err := s.queue.Run(ctx, key, func() error {
				return s.remove(key)
			}); err != nil {
				return err
			}
		}

	case LayoutSingleFile:
		key := s.collectionFile(collection)
		if err := s.queue.Run(ctx, key, func() error {
			doc, err := s.load(key)
			if err != nil {
				return err
			}
			updated, removed, err := pathstore.Delete(doc, []string{id})
			if err != nil || !removed {
				return err
			}
			return s.write(key, updated)
		}); err != nil {
			return err
		}
	}

	dir := s.docDir(collection, id)
	if err := s.queue.Run(ctx, dir, func() error {
		return fsutil.RemoveAll(dir)
	}); err != nil {
		return err
	}
	if layout == LayoutDirPerDoc {
		// A part written after the listing above is gone from disk now.
		if err := s.invalidateKeys(ctx, s.cachedParts(dir)); err != nil {
			return err
		}
	}

	s.logger.Info("document removed", Field{"collection", collection}, Field{"id", id})
	return nil
}

// Invalidate drops the cached files of one document.
func (s *store) Invalidate(ctx context.Context, collection, id string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return err
	}

	var keys []string
	switch layout {
	case LayoutFilePerDoc:
		keys = []string{s.docFile(collection, id)}
	case LayoutSingleFile:
		keys = []string{s.collectionFile(collection)}
	case LayoutDirPerDoc:
		keys = s.cachedParts(s.docDir(collection, id))
	}

	return s.invalidateKeys(ctx, keys)
}

// cachedParts returns the cached part files of the document directory dir.
func (s *store) cachedParts(dir string) []string {
	var keys []string
	for _, key := range s.cache.Keys() {
		if filepath.Dir(key) == dir {
			keys = append(keys, key)
		}
	}
	return keys
}

// InvalidateAll drops every cached file.
func (s *store) InvalidateAll(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	keys := s.cache.Keys()
	if err := s.invalidateKeys(ctx, keys); err != nil {
		return err
	}
	s.logger.Debug("cache invalidated", Field{"files", len(keys)})
	return nil
}

// invalidateKeys drops keys in queue order, so no in-flight write can put a
// stale version back afterwards.
func (s *store) invalidateKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := s.queue.Run(ctx, key, func() error {
			s.cache.Invalidate(key)
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// Collections returns the registered collection names, sorted.
func (s *store) Collections() []string {
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Layout returns the layout of a registered collection.
func (s *store) Layout(collection string) (Layout, error) {
	return s.collectionLayout(collection)
}

// Root returns the absolute data root.
func (s *store) Root() string {
	return s.root
}

// Stats returns statistics about the store.
func (s *store) Stats() (Stats, error) {
	if s.closed.Load() {
		return Stats{}, ErrClosed
	}

	cs := s.cache.Stats()
	stats := Stats{
		Collections: len(s.collections),
		CachedFiles: cs.Entries,
		CacheHits:   cs.Hits,
		CacheMisses: cs.Misses,
		BusyKeys:    s.queue.Keys(),
	}

	size, err := fsutil.DirSize(s.root, func(rel string, _ bool) bool {
		return rel == LockFileName
	})
	if err != nil {
		return stats, fmt.Errorf("failed to compute data size: %w", err)
	}
	stats.TotalSize = size

	return stats, nil
}

// Close stops the watcher, drops the cache and releases the data root.
func (s *store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Stop())
	}
	s.cache.Clear()
	errs = append(errs, s.lock.Release())

	s.logger.Debug("store closed", Field{"root", s.root})
	return errors.Join(errs...)
}

// pathError maps path helper errors onto the store's sentinels.
func pathError(err error) error {
	switch {
	case errors.Is(err, pathstore.ErrConflict), errors.Is(err, pathstore.ErrIndexOutOfRange):
		return fmt.Errorf("%w: %v", ErrPathConflict, err)
	case errors.Is(err, pathstore.ErrEmptyPath), errors.Is(err, pathstore.ErrSyntax):
		return fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return err
}

// isNotExist reports whether err means a missing file.
func isNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
