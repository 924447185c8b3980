package docstow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigotowork/docstow"
)

func openTestStore(t *testing.T, dir string, opts ...docstow.StoreOption) docstow.Store {
	t.Helper()

	opts = append([]docstow.StoreOption{
		docstow.WithLogger(docstow.NewNoopLogger()),
		docstow.WithCollection("config", docstow.LayoutFilePerDoc),
		docstow.WithCollection("games", docstow.LayoutDirPerDoc),
		docstow.WithCollection("collections", docstow.LayoutSingleFile),
	}, opts...)

	store, err := docstow.Open(dir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func readJSONFile(t *testing.T, path string) map[string]interface{} {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	return doc
}

func TestGetValueMaterializesDefaultOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	v, err := store.GetValue(ctx, "config", "general", docstow.P("language"), "en")
	require.NoError(t, err)
	assert.Equal(t, "en", v)

	v, err = store.GetValue(ctx, "config", "general", docstow.P("language"), "fr")
	require.NoError(t, err)
	assert.Equal(t, "en", v, "the first default wins")

	onDisk := readJSONFile(t, filepath.Join(dir, "config", "general.json"))
	assert.Equal(t, map[string]interface{}{"language": "en"}, onDisk)
}

func TestGetValueVivifiesIntermediates(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	v, err := store.GetValue(ctx, "config", "game", docstow.MustParsePath("scraper.common.defaultDataSource"), "steam")
	require.NoError(t, err)
	assert.Equal(t, "steam", v)

	onDisk := readJSONFile(t, filepath.Join(dir, "config", "game.json"))
	assert.Equal(t, map[string]interface{}{
		"scraper": map[string]interface{}{
			"common": map[string]interface{}{"defaultDataSource": "steam"},
		},
	}, onDisk)
}

func TestSetGetRoundTripMatchesFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	value := map[string]interface{}{
		"tags":  []interface{}{"rpg", "jrpg"},
		"score": 9.5,
		"extra": map[string]interface{}{"played": true, "note": nil},
	}
	path := docstow.P("appearances", "gameList")
	require.NoError(t, store.SetValue(ctx, "config", "appearances", path, value))

	got, err := store.GetValue(ctx, "config", "appearances", path, "ignored")
	require.NoError(t, err)
	assert.Equal(t, value, got)

	cached, err := store.GetValue(ctx, "config", "appearances", docstow.All, nil)
	require.NoError(t, err)
	onDisk := readJSONFile(t, filepath.Join(dir, "config", "appearances.json"))
	assert.Equal(t, onDisk, cached)
}

func TestSetValueNormalizesNumbers(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	require.NoError(t, store.SetValue(ctx, "config", "general", docstow.P("count"), 3))
	v, err := store.GetValue(ctx, "config", "general", docstow.P("count"), 0)
	require.NoError(t, err)
	assert.Equal(t, float64(3), v)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	v, err := store.GetValue(ctx, "config", "general", docstow.P("list"), []interface{}{"a"})
	require.NoError(t, err)
	v.([]interface{})[0] = "mutated"

	again, err := store.GetValue(ctx, "config", "general", docstow.P("list"), nil)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a"}, again)
}

func TestSetValueAllReplacesDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	require.NoError(t, store.SetValue(ctx, "config", "sync", docstow.P("enabled"), true))
	require.NoError(t, store.SetValue(ctx, "config", "sync", docstow.All, map[string]interface{}{"mode": "webdav"}))

	doc, err := store.GetValue(ctx, "config", "sync", docstow.All, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"mode": "webdav"}, doc)

	err = store.SetValue(ctx, "config", "sync", docstow.All, "not an object")
	assert.ErrorIs(t, err, docstow.ErrPathConflict)
}

func TestPathConflict(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	require.NoError(t, store.SetValue(ctx, "config", "general", docstow.P("theme"), "dark"))

	_, err := store.GetValue(ctx, "config", "general", docstow.P("theme", "accent"), "blue")
	require.ErrorIs(t, err, docstow.ErrPathConflict)

	// A write replaces the scalar.
	require.NoError(t, store.SetValue(ctx, "config", "general", docstow.P("theme", "accent"), "blue"))
	v, err := store.GetValue(ctx, "config", "general", docstow.P("theme", "accent"), nil)
	require.NoError(t, err)
	assert.Equal(t, "blue", v)
}

func TestUpdateValue(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	increment := func(current interface{}, found bool) (interface{}, error) {
		if !found {
			return 1, nil
		}
		return current.(float64) + 1, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.UpdateValue(ctx, "games", "g1", docstow.MustParsePath("record.playCount"), increment)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, err := store.GetValue(ctx, "games", "g1", docstow.MustParsePath("record.playCount"), 0)
	require.NoError(t, err)
	assert.Equal(t, float64(20), v)
	assert.Equal(t, map[string]interface{}{"playCount": float64(20)}, readJSONFile(t, filepath.Join(dir, "games", "g1", "record.json")))

	doc, err := store.UpdateValue(ctx, "config", "general", docstow.All, func(current interface{}, found bool) (interface{}, error) {
		assert.False(t, found)
		assert.Equal(t, map[string]interface{}{}, current)
		return map[string]interface{}{"theme": "dark"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"theme": "dark"}, doc)

	_, err = store.UpdateValue(ctx, "collections", "c1", docstow.All, func(interface{}, bool) (interface{}, error) {
		return "not an object", nil
	})
	assert.ErrorIs(t, err, docstow.ErrPathConflict)

	_, err = store.UpdateValue(ctx, "games", "g1", docstow.All, func(current interface{}, _ bool) (interface{}, error) {
		return current, nil
	})
	assert.ErrorIs(t, err, docstow.ErrInvalidPath)
}

func TestFailedWriteKeepsPreviousValue(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	require.NoError(t, store.SetValue(ctx, "config", "general", docstow.P("volume"), 0.5))

	err := store.SetValue(ctx, "config", "general", docstow.P("volume"), make(chan int))
	require.Error(t, err)

	v, err := store.GetValue(ctx, "config", "general", docstow.P("volume"), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.5, v)
	assert.Equal(t, map[string]interface{}{"volume": 0.5}, readJSONFile(t, filepath.Join(dir, "config", "general.json")))
}

func TestCorruptedDocument(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "general.json"), []byte("{not json"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "game.json"), []byte("[1,2]"), 0644))

	store := openTestStore(t, dir)

	_, err := store.GetValue(ctx, "config", "general", docstow.P("a"), 1)
	assert.ErrorIs(t, err, docstow.ErrCorruptedData)
	_, err = store.GetValue(ctx, "config", "game", docstow.All, nil)
	assert.ErrorIs(t, err, docstow.ErrCorruptedData)

	// The broken file is left alone.
	data, err := os.ReadFile(filepath.Join(dir, "config", "general.json"))
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(data))
}

func TestValidation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	_, err := store.GetValue(ctx, "nope", "x", docstow.P("a"), 1)
	assert.ErrorIs(t, err, docstow.ErrUnknownCollection)

	for _, id := range []string{"", "..", "a/b", ".hidden"} {
		_, err = store.GetValue(ctx, "config", id, docstow.P("a"), 1)
		assert.ErrorIs(t, err, docstow.ErrInvalidID, "id %q", id)
	}

	_, err = store.GetValue(ctx, "config", "general", nil, 1)
	assert.ErrorIs(t, err, docstow.ErrInvalidPath)

	assert.Equal(t, []string{"collections", "config", "games"}, store.Collections())
	layout, err := store.Layout("games")
	require.NoError(t, err)
	assert.Equal(t, docstow.LayoutDirPerDoc, layout)
}

func TestConcurrentFirstReadsMaterializeOnce(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	const readers = 32
	results := make([]interface{}, readers)

	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := store.GetValue(ctx, "config", "general", docstow.P("seed"), float64(i))
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Equal(t, results[0], v, "every reader sees the single materialized default")
	}
}

func TestConcurrentWritesDifferentDocuments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	const docs = 8
	const writes = 20

	var wg sync.WaitGroup
	errs := make(chan error, docs*writes)
	for d := 0; d < docs; d++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < writes; j++ {
				if err := store.SetValue(ctx, "config", id, docstow.P("iteration"), j); err != nil {
					errs <- err
					return
				}
			}
		}(fmt.Sprintf("doc%d", d))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write error: %v", err)
	}

	// Each document saw its own writes in order, so the last one wins.
	for d := 0; d < docs; d++ {
		path := filepath.Join(dir, "config", fmt.Sprintf("doc%d.json", d))
		assert.Equal(t, float64(writes-1), readJSONFile(t, path)["iteration"])
	}
}

func TestDirPerDocLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	require.NoError(t, store.SetValue(ctx, "games", "g1", docstow.MustParsePath("metadata.name"), "Ever17"))
	require.NoError(t, store.SetValue(ctx, "games", "g1", docstow.MustParsePath("record.score"), 9))

	assert.Equal(t, map[string]interface{}{"name": "Ever17"}, readJSONFile(t, filepath.Join(dir, "games", "g1", "metadata.json")))
	assert.Equal(t, map[string]interface{}{"score": float64(9)}, readJSONFile(t, filepath.Join(dir, "games", "g1", "record.json")))

	doc, err := store.GetValue(ctx, "games", "g1", docstow.All, nil)
	require.NoError(t, err)
	assert.Equal(t, docstow.Document{
		"metadata": map[string]interface{}{"name": "Ever17"},
		"record":   map[string]interface{}{"score": float64(9)},
	}, doc)

	// A whole part is materialized from an object default.
	save, err := store.GetValue(ctx, "games", "g1", docstow.P("save"), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{}, save)
	assert.FileExists(t, filepath.Join(dir, "games", "g1", "save.json"))

	// Replacing the document drops parts it no longer has.
	require.NoError(t, store.SetValue(ctx, "games", "g1", docstow.All, map[string]interface{}{
		"metadata": map[string]interface{}{"name": "Remember11"},
	}))
	assert.NoFileExists(t, filepath.Join(dir, "games", "g1", "record.json"))
	assert.NoFileExists(t, filepath.Join(dir, "games", "g1", "save.json"))

	all, err := store.GetAllDocs(ctx, "games")
	require.NoError(t, err)
	assert.Equal(t, map[string]docstow.Document{
		"g1": {"metadata": map[string]interface{}{"name": "Remember11"}},
	}, all)
}

func TestSingleFileLayout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	require.NoError(t, store.SetValue(ctx, "collections", "c1", docstow.All, map[string]interface{}{
		"name":  "Favorites",
		"games": []interface{}{"g1"},
	}))
	require.NoError(t, store.SetValue(ctx, "collections", "c2", docstow.P("name"), "Backlog"))

	onDisk := readJSONFile(t, filepath.Join(dir, "collections.json"))
	assert.Len(t, onDisk, 2)

	c1, err := store.GetValue(ctx, "collections", "c1", docstow.All, nil)
	require.NoError(t, err)
	assert.Equal(t, "Favorites", c1.(map[string]interface{})["name"])

	missing, err := store.GetValue(ctx, "collections", "c3", docstow.All, nil)
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, store.RemoveDoc(ctx, "collections", "c1"))
	all, err := store.GetAllDocs(ctx, "collections")
	require.NoError(t, err)
	assert.Equal(t, map[string]docstow.Document{"c2": {"name": "Backlog"}}, all)
}

func TestRemoveDocSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := docstow.Open(dir,
		docstow.WithLogger(docstow.NewNoopLogger()),
		docstow.WithCollection("games", docstow.LayoutDirPerDoc),
		docstow.WithCollection("plugins", docstow.LayoutFilePerDoc),
	)
	require.NoError(t, err)

	for _, id := range []string{"g1", "g2"} {
		require.NoError(t, store.SetValue(ctx, "games", id, docstow.MustParsePath("metadata.name"), id))
		require.NoError(t, store.SetValue(ctx, "plugins", id, docstow.P("enabled"), true))
	}
	_, err = store.PutAttachment(ctx, "games", "g1", "images/cover.webp", strings.NewReader("img"))
	require.NoError(t, err)

	require.NoError(t, store.RemoveDoc(ctx, "games", "g1"))
	require.NoError(t, store.RemoveDoc(ctx, "plugins", "g1"))

	games, err := store.GetAllDocs(ctx, "games")
	require.NoError(t, err)
	assert.NotContains(t, games, "g1")
	assert.Contains(t, games, "g2")
	assert.NoDirExists(t, filepath.Join(dir, "games", "g1"))

	require.NoError(t, store.Close())

	reopened, err := docstow.Open(dir,
		docstow.WithLogger(docstow.NewNoopLogger()),
		docstow.WithCollection("games", docstow.LayoutDirPerDoc),
		docstow.WithCollection("plugins", docstow.LayoutFilePerDoc),
	)
	require.NoError(t, err)
	defer reopened.Close()

	games, err = reopened.GetAllDocs(ctx, "games")
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, keys(games))

	plugins, err := reopened.GetAllDocs(ctx, "plugins")
	require.NoError(t, err)
	assert.Equal(t, []string{"g2"}, keys(plugins))
}

func TestRemoveDocRacingPartWrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)
	recordFile := filepath.Join(dir, "games", "g1", "record.json")

	for i := 0; i < 200; i++ {
		require.NoError(t, store.SetValue(ctx, "games", "g1", docstow.MustParsePath("metadata.name"), "Alpha"))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.RemoveDoc(ctx, "games", "g1")
		}()
		go func() {
			defer wg.Done()
			_ = store.SetValue(ctx, "games", "g1", docstow.MustParsePath("record.score"), 9)
		}()
		wg.Wait()

		cached, err := store.GetValue(ctx, "games", "g1", docstow.P("record"), nil)
		require.NoError(t, err)

		onDisk := map[string]interface{}{}
		if _, err := os.Stat(recordFile); err == nil {
			onDisk = readJSONFile(t, recordFile)
		}
		require.Equal(t, onDisk, cached, "run %d", i)

		require.NoError(t, store.RemoveDoc(ctx, "games", "g1"))
	}
}

func TestSingleInstance(t *testing.T) {
	dir := t.TempDir()

	first, err := docstow.Open(dir, docstow.WithLogger(docstow.NewNoopLogger()))
	require.NoError(t, err)

	_, err = docstow.Open(dir, docstow.WithLogger(docstow.NewNoopLogger()))
	require.ErrorIs(t, err, docstow.ErrLocked)

	require.NoError(t, first.Close())
	assert.NoError(t, first.Close(), "closing twice is harmless")

	_, err = first.GetValue(context.Background(), "config", "x", docstow.P("a"), 1)
	assert.ErrorIs(t, err, docstow.ErrClosed)

	second, err := docstow.Open(dir, docstow.WithLogger(docstow.NewNoopLogger()))
	require.NoError(t, err)
	assert.NoError(t, second.Close())
}

func TestInvalidateAllReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	require.NoError(t, store.SetValue(ctx, "config", "general", docstow.P("theme"), "dark"))

	// Another writer (e.g. a sync pull) replaces the file behind the cache.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "general.json"), []byte(`{"theme":"light"}`), 0644))

	v, err := store.GetValue(ctx, "config", "general", docstow.P("theme"), nil)
	require.NoError(t, err)
	assert.Equal(t, "dark", v, "cache still serves the old version")

	require.NoError(t, store.InvalidateAll(ctx))
	v, err = store.GetValue(ctx, "config", "general", docstow.P("theme"), nil)
	require.NoError(t, err)
	assert.Equal(t, "light", v)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", "general.json"), []byte(`{"theme":"sepia"}`), 0644))
	require.NoError(t, store.Invalidate(ctx, "config", "general"))
	v, err = store.GetValue(ctx, "config", "general", docstow.P("theme"), nil)
	require.NoError(t, err)
	assert.Equal(t, "sepia", v)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	require.NoError(t, store.SetValue(ctx, "config", "general", docstow.P("a"), 1))
	_, err := store.GetValue(ctx, "config", "general", docstow.P("a"), nil)
	require.NoError(t, err)

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Collections)
	assert.Equal(t, 1, stats.CachedFiles)
	assert.Positive(t, stats.CacheHits)
	assert.Positive(t, stats.TotalSize)
	assert.Zero(t, stats.BusyKeys)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	store := openTestStore(t, t.TempDir())
	err := store.SetValue(ctx, "config", "general", docstow.P("a"), 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func keys(docs map[string]docstow.Document) []string {
	var out []string
	for id := range docs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
