package collection

import (
	"context"

	"github.com/aigotowork/docstow"
)

// pathsDoc is the local document holding the path index.
const pathsDoc = "paths"

// PathIndexEntry mirrors a game's paths on this machine.
type PathIndexEntry struct {
	GamePath string   `json:"gamePath"`
	SavePath []string `json:"savePath"`
}

// Local manages machine-local state. It is never synced.
type Local struct {
	store docstow.Store
}

// NewLocal creates a local state manager.
func NewLocal(store docstow.Store) *Local {
	return &Local{store: store}
}

// Get returns the value at path in a local document, materializing def.
func (l *Local) Get(ctx context.Context, id string, path docstow.Path, def interface{}) (interface{}, error) {
	return l.store.GetValue(ctx, LocalCollection, id, path, def)
}

// Set stores value at path in a local document.
func (l *Local) Set(ctx context.Context, id string, path docstow.Path, value interface{}) error {
	return l.store.SetValue(ctx, LocalCollection, id, path, value)
}

// Paths returns the path index keyed by game id.
func (l *Local) Paths(ctx context.Context) (map[string]PathIndexEntry, error) {
	return NewDoc(l.store, LocalCollection, pathsDoc, docstow.All, map[string]PathIndexEntry{}).Get(ctx)
}

// SetPaths replaces the path index.
func (l *Local) SetPaths(ctx context.Context, index map[string]PathIndexEntry) error {
	return l.store.SetValue(ctx, LocalCollection, pathsDoc, docstow.All, index)
}

// SetPathEntry updates one game's entry in the path index.
func (l *Local) SetPathEntry(ctx context.Context, gameID string, entry PathIndexEntry) error {
	return l.store.SetValue(ctx, LocalCollection, pathsDoc, docstow.P(gameID), entry)
}

// RemovePathEntry drops a game from the path index.
func (l *Local) RemovePathEntry(ctx context.Context, gameID string) error {
	index, err := l.Paths(ctx)
	if err != nil {
		return err
	}
	if _, ok := index[gameID]; !ok {
		return nil
	}
	delete(index, gameID)
	return l.SetPaths(ctx, index)
}
