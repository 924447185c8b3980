package collection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigotowork/docstow"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()

	opts := append(StoreOptions(), docstow.WithLogger(docstow.NewNoopLogger()))
	store, err := docstow.Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store), dir
}

func fixClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestDocTyped(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	type window struct {
		Width  int     `json:"width"`
		Height int     `json:"height"`
		Scale  float64 `json:"scale"`
	}
	doc := NewDoc(m.Store, LocalCollection, "window", docstow.P("main"), window{Width: 1280, Height: 720, Scale: 1})

	got, err := doc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, window{Width: 1280, Height: 720, Scale: 1}, got)

	require.NoError(t, doc.Set(ctx, window{Width: 800, Height: 600, Scale: 1.5}))
	got, err = doc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, window{Width: 800, Height: 600, Scale: 1.5}, got)

	raw, err := m.Store.GetValue(ctx, LocalCollection, "window", docstow.P("main", "width"), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(800), raw)
}

func TestDecodeTimes(t *testing.T) {
	var out struct {
		At time.Time `json:"at"`
	}
	require.NoError(t, decode(map[string]interface{}{"at": "2024-03-01T10:00:00Z"}, &out))
	assert.True(t, out.At.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestPluginsAndLocal(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	v, err := m.Plugins.Get(ctx, "vndb", docstow.P("enabled"), true)
	require.NoError(t, err)
	assert.Equal(t, true, v)
	require.NoError(t, m.Plugins.Set(ctx, "vndb", docstow.P("token"), "abc"))

	all, err := m.Plugins.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]docstow.Document{"vndb": {"enabled": true, "token": "abc"}}, all)

	require.NoError(t, m.Plugins.Remove(ctx, "vndb"))
	all, err = m.Plugins.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	require.NoError(t, m.Local.Set(ctx, "window", docstow.P("maximized"), true))
	v, err = m.Local.Get(ctx, "window", docstow.P("maximized"), false)
	require.NoError(t, err)
	assert.Equal(t, true, v)
}
