package docstow_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigotowork/docstow"
)

func TestAttachmentRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir, docstow.WithTempDir(t.TempDir()))

	content := bytes.Repeat([]byte{0x52, 0x49, 0x46, 0x46}, 256)
	put, err := store.PutAttachment(ctx, "games", "g1", "images/cover.webp", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), put.Size)
	assert.Equal(t, "image/webp", put.MimeType)
	assert.Equal(t, filepath.Join(dir, "games", "g1", "images", "cover.webp"), put.Path)

	buf, err := store.GetAttachment(ctx, "games", "g1", "images/cover.webp", docstow.AsBuffer)
	require.NoError(t, err)
	assert.Equal(t, content, buf.Data)
	assert.Equal(t, put.Hash, buf.Hash)
	assert.Empty(t, buf.Path)

	file, err := store.GetAttachment(ctx, "games", "g1", "images/cover.webp", docstow.AsFile)
	require.NoError(t, err)
	defer os.Remove(file.Path)
	assert.NotEqual(t, put.Path, file.Path, "AsFile hands out a copy")
	copied, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, content, copied)
	assert.Equal(t, put.Hash, file.Hash)
}

func TestPutAttachmentOverwrites(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	_, err := store.PutAttachment(ctx, "games", "g1", "saves/s1/slot.sav", strings.NewReader("v1"))
	require.NoError(t, err)
	put, err := store.PutAttachment(ctx, "games", "g1", "saves/s1/slot.sav", strings.NewReader("v2"),
		docstow.WithMimeType("application/x-save"))
	require.NoError(t, err)
	assert.Equal(t, "application/x-save", put.MimeType)

	got, err := store.GetAttachment(ctx, "games", "g1", "saves/s1/slot.sav", docstow.AsBuffer)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Data))
}

func TestRemoveAttachment(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := openTestStore(t, dir)

	require.NoError(t, store.RemoveAttachment(ctx, "games", "g1", "images/none.webp"), "missing is not an error")

	_, err := store.PutAttachment(ctx, "games", "g1", "memories/m1.webp", strings.NewReader("m"))
	require.NoError(t, err)
	require.NoError(t, store.SetValue(ctx, "games", "g1", docstow.MustParsePath("metadata.name"), "x"))

	require.NoError(t, store.RemoveAttachment(ctx, "games", "g1", "memories/m1.webp"))
	assert.NoDirExists(t, filepath.Join(dir, "games", "g1", "memories"))
	assert.DirExists(t, filepath.Join(dir, "games", "g1"))

	_, err = store.GetAttachment(ctx, "games", "g1", "memories/m1.webp", docstow.AsBuffer)
	assert.ErrorIs(t, err, docstow.ErrAttachmentNotFound)
	_, err = store.GetAttachment(ctx, "games", "g1", "memories/m1.webp", docstow.AsFile)
	assert.ErrorIs(t, err, docstow.ErrAttachmentNotFound)
}

func TestListAttachments(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir())

	for _, name := range []string{"images/cover.webp", "images/icon.webp", "memories/m1.webp", "saves/s1/a/b.sav"} {
		_, err := store.PutAttachment(ctx, "games", "g1", name, strings.NewReader(name))
		require.NoError(t, err)
	}
	require.NoError(t, store.SetValue(ctx, "games", "g1", docstow.MustParsePath("record.score"), 1))

	all, err := store.ListAttachments(ctx, "games", "g1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"images/cover.webp", "images/icon.webp", "memories/m1.webp", "saves/s1/a/b.sav"}, all)

	images, err := store.ListAttachments(ctx, "games", "g1", "images")
	require.NoError(t, err)
	assert.Equal(t, []string{"images/cover.webp", "images/icon.webp"}, images)

	none, err := store.ListAttachments(ctx, "games", "g2", "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestAttachmentValidation(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t, t.TempDir(), docstow.WithMaxAttachmentSize(8))

	for _, name := range []string{"", "../escape", "/abs", "images/../x", "record.json"} {
		_, err := store.PutAttachment(ctx, "games", "g1", name, strings.NewReader("x"))
		assert.ErrorIs(t, err, docstow.ErrInvalidName, "name %q", name)
	}

	_, err := store.PutAttachment(ctx, "games", "g1", "images/big.webp", strings.NewReader("0123456789"))
	assert.ErrorIs(t, err, docstow.ErrFileTooLarge)

	_, err = store.GetAttachment(ctx, "games", "g1", "images/big.webp", docstow.AsBuffer)
	assert.ErrorIs(t, err, docstow.ErrAttachmentNotFound, "oversized content is never committed")
}
