/*
Package docstow provides a local-first JSON document store for desktop applications.

Every document lives in a plain JSON file under one data root, so the data stays
human-readable and can be synced as a file tree. Reads are served from an
in-memory mirror of each file; every write goes through a per-file queue and is
written through to disk before the mirror is updated.

Quick Start:

	store, err := docstow.Open("/data/library",
		docstow.WithCollection("config", docstow.LayoutFilePerDoc),
		docstow.WithCollection("games", docstow.LayoutDirPerDoc),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	// First read persists the default.
	theme, err := store.GetValue(ctx, "config", "appearances", docstow.P("theme"), "dark")

	// Writes always overwrite.
	err = store.SetValue(ctx, "games", "g1", docstow.MustParsePath("record.score"), 9.5)

Features:

- Per-file write ordering; different files proceed concurrently
- Defaults materialized on first read
- Binary attachments stored next to their documents
- Single-instance ownership of the data root
- Optional invalidation on external file edits
*/
package docstow

import (
	"context"
	"io"
)

// Store is the main entry point for docstow.
// All operations on one backing file are totally ordered; operations on
// different files never block each other.
//
// Example:
//
//	store := docstow.MustOpen("/data")
//	defer store.Close()
type Store interface {
	// GetValue returns the value at path in document (collection, id).
	// If the value is absent, def is stored there (creating intermediate
	// objects), persisted, and returned. All returns the whole document and
	// never materializes. A path through a scalar yields ErrPathConflict.
	GetValue(ctx context.Context, collection, id string, path Path, def interface{}) (interface{}, error)

	// SetValue stores value at path, replacing whatever was there.
	// All replaces the whole document.
	SetValue(ctx context.Context, collection, id string, path Path, value interface{}) error

	// UpdateValue replaces the value at path with the result of fn. No other
	// operation on the same file runs between the read and the write. fn
	// receives a copy of the current value and whether it exists; the file is
	// only rewritten when the result differs. All addresses the whole
	// document, except for directory documents.
	UpdateValue(ctx context.Context, collection, id string, path Path, fn UpdateFunc) (interface{}, error)

	// GetAllDocs returns every document of a collection keyed by id.
	GetAllDocs(ctx context.Context, collection string) (map[string]Document, error)

	// RemoveDoc deletes a document from cache and disk. For directory
	// documents the attachments go with it.
	RemoveDoc(ctx context.Context, collection, id string) error

	// PutAttachment stores r under the document's directory, replacing any
	// previous content.
	PutAttachment(ctx context.Context, collection, id, name string, r io.Reader, opts ...AttachmentOption) (*Attachment, error)

	// GetAttachment reads an attachment as bytes or as a temporary file copy.
	// Returns ErrAttachmentNotFound if it does not exist.
	GetAttachment(ctx context.Context, collection, id, name string, mode ReadMode) (*Attachment, error)

	// RemoveAttachment deletes an attachment. A missing attachment is not an error.
	RemoveAttachment(ctx context.Context, collection, id, name string) error

	// ListAttachments returns the attachment names below dir ("" for all),
	// sorted.
	ListAttachments(ctx context.Context, collection, id, dir string) ([]string, error)

	// Invalidate drops the cached files of one document so the next access
	// reloads them from disk.
	Invalidate(ctx context.Context, collection, id string) error

	// InvalidateAll drops every cached file.
	// Call it after anything other than this store changed the data root.
	InvalidateAll(ctx context.Context) error

	// Collections returns the registered collection names, sorted.
	Collections() []string

	// Layout returns the layout of a registered collection.
	Layout(collection string) (Layout, error)

	// Root returns the absolute data root.
	Root() string

	// Stats returns statistics about the store.
	Stats() (Stats, error)

	// Close releases the data root. The store is unusable afterwards.
	Close() error
}

// Open opens or creates a store at the specified data root and takes
// exclusive ownership of it. A second Open of the same root, in this or
// another process, fails with ErrLocked until the first store is closed.
//
// Example:
//
//	store, err := docstow.Open("/data/library", docstow.WithCollection("config", docstow.LayoutFilePerDoc))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close()
func Open(root string, opts ...StoreOption) (Store, error) {
	return openStore(root, opts...)
}

// MustOpen is like Open but panics on error.
// Useful for initialization code where errors are unrecoverable.
func MustOpen(root string, opts ...StoreOption) Store {
	store, err := Open(root, opts...)
	if err != nil {
		panic(err)
	}
	return store
}
