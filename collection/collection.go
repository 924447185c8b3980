// Package collection provides the typed managers applications use on top of
// a docstow.Store: configuration namespaces, games, categories, plugin and
// local-only state, plus multi-key sorting and schema migrations.
package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"

	"github.com/aigotowork/docstow"
)

// Collection names.
const (
	ConfigCollection      = "config"
	GamesCollection       = "games"
	CollectionsCollection = "collections"
	PluginsCollection     = "plugins"
	LocalCollection       = "local"
)

// ErrNotFound is returned when a requested category or save does not exist.
var ErrNotFound = errors.New("not found")

// Layouts returns every collection with its layout.
func Layouts() map[string]docstow.Layout {
	return map[string]docstow.Layout{
		ConfigCollection:      docstow.LayoutFilePerDoc,
		GamesCollection:       docstow.LayoutDirPerDoc,
		CollectionsCollection: docstow.LayoutSingleFile,
		PluginsCollection:     docstow.LayoutFilePerDoc,
		LocalCollection:       docstow.LayoutFilePerDoc,
	}
}

// StoreOptions registers every collection with its layout.
func StoreOptions() []docstow.StoreOption {
	layouts := Layouts()
	names := make([]string, 0, len(layouts))
	for name := range layouts {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := make([]docstow.StoreOption, 0, len(names))
	for _, name := range names {
		opts = append(opts, docstow.WithCollection(name, layouts[name]))
	}
	return opts
}

// IsDocumentFile reports whether rel, relative to the data root, is a
// document file rather than an attachment.
func IsDocumentFile(rel string) bool {
	return docstow.IsDocumentFile(Layouts(), rel)
}

// LocalOnly lists data-root entries that belong to this machine and are never synced.
func LocalOnly() []string {
	return []string{LocalCollection}
}

// Manager bundles the collection managers over one store.
type Manager struct {
	Store       docstow.Store
	Config      *Config
	Games       *Games
	Collections *Collections
	Plugins     *Plugins
	Local       *Local
	Migrator    *Migrator
}

// New creates all managers for store.
func New(store docstow.Store) *Manager {
	m := &Manager{
		Store:       store,
		Config:      NewConfig(store),
		Collections: NewCollections(store),
		Plugins:     NewPlugins(store),
		Local:       NewLocal(store),
	}
	m.Games = NewGames(store, m.Collections, m.Local)
	m.Migrator = NewMigrator(m.Games)
	return m
}

// Doc is a typed view of one document, or of one value inside it.
//
// Example:
//
//	record := collection.NewDoc(store, "games", id, docstow.P("record"), collection.Record{})
//	r, err := record.Get(ctx)
type Doc[T any] struct {
	store      docstow.Store
	collection string
	id         string
	path       docstow.Path
	def        T
}

// NewDoc creates a typed view. def is materialized on first read.
func NewDoc[T any](store docstow.Store, collection, id string, path docstow.Path, def T) *Doc[T] {
	return &Doc[T]{store: store, collection: collection, id: id, path: path, def: def}
}

// Get reads the value, materializing the default if it is absent.
func (d *Doc[T]) Get(ctx context.Context) (T, error) {
	var out T
	raw, err := d.store.GetValue(ctx, d.collection, d.id, d.path, d.def)
	if err != nil {
		return out, err
	}
	if err := decode(raw, &out); err != nil {
		return out, fmt.Errorf("failed to decode %s/%s %s: %w", d.collection, d.id, d.path, err)
	}
	return out, nil
}

// Set overwrites the value.
func (d *Doc[T]) Set(ctx context.Context, value T) error {
	return d.store.SetValue(ctx, d.collection, d.id, d.path, value)
}

// decode converts a generic JSON value into out, matching fields by json tag.
func decode(input, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// newID returns a random document id.
func newID() string {
	return uuid.NewString()
}

// now is the clock used for timestamps; tests replace it.
var now = func() time.Time {
	return time.Now().UTC()
}

// timestamp formats t the way documents store dates.
func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
