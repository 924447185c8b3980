package collection

import (
	"context"

	"github.com/aigotowork/docstow"
)

// Plugins manages per-plugin state, one document per plugin id.
type Plugins struct {
	store docstow.Store
}

// NewPlugins creates a plugin state manager.
func NewPlugins(store docstow.Store) *Plugins {
	return &Plugins{store: store}
}

// Get returns the value at path in a plugin's document, materializing def.
func (p *Plugins) Get(ctx context.Context, pluginID string, path docstow.Path, def interface{}) (interface{}, error) {
	return p.store.GetValue(ctx, PluginsCollection, pluginID, path, def)
}

// Set stores value at path in a plugin's document.
func (p *Plugins) Set(ctx context.Context, pluginID string, path docstow.Path, value interface{}) error {
	return p.store.SetValue(ctx, PluginsCollection, pluginID, path, value)
}

// All returns the state of every plugin keyed by id.
func (p *Plugins) All(ctx context.Context) (map[string]docstow.Document, error) {
	return p.store.GetAllDocs(ctx, PluginsCollection)
}

// Remove deletes a plugin's state.
func (p *Plugins) Remove(ctx context.Context, pluginID string) error {
	return p.store.RemoveDoc(ctx, PluginsCollection, pluginID)
}
