package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigotowork/docstow/syncer"
)

type cli struct {
	t    *testing.T
	root string
}

func newCLI(t *testing.T) *cli {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, ".config"))
	t.Setenv("DOCSTOW_SECRET", "")
	return &cli{t: t, root: filepath.Join(t.TempDir(), "data")}
}

// run executes one command against the test data root and returns stdout.
func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--root", c.root, "--no-color"}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "docstow %v", args)
	return out
}

func docIDs(t *testing.T, out string) []string {
	t.Helper()
	var entries []struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestSetAndGet(t *testing.T) {
	c := newCLI(t)

	c.mustRun("set", "games", "g1", "metadata.name", `"Alpha"`)
	c.mustRun("set", "games", "g1", "record.playCount", "3")

	assert.Equal(t, "\"Alpha\"\n", c.mustRun("get", "games", "g1", "metadata.name"))
	assert.Equal(t, "3\n", c.mustRun("get", "games", "g1", "record.playCount"))

	// Plain words are stored as strings.
	c.mustRun("set", "plugins", "p1", "label", "hello")
	assert.Equal(t, "\"hello\"\n", c.mustRun("get", "plugins", "p1", "label"))
}

func TestGetDefault(t *testing.T) {
	c := newCLI(t)

	assert.Equal(t, "\"en\"\n", c.mustRun("get", "config", "general", "language"))

	assert.Equal(t, "7\n", c.mustRun("get", "games", "g1", "record.score", "--default", "7"))
	// The default was stored.
	assert.Equal(t, "7\n", c.mustRun("get", "games", "g1", "record.score", "--default", "1"))

	c.mustRun("set", "config", "general", "language", `"de"`)
	assert.Equal(t, "\"de\"\n", c.mustRun("get", "config", "general", "language"))
}

func TestGetInvalidPath(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("get", "games", "g1", "metadata..name")
	assert.Error(t, err)
}

func TestDocsSorted(t *testing.T) {
	c := newCLI(t)

	c.mustRun("set", "games", "g1", "metadata.name", `"Beta"`)
	c.mustRun("set", "games", "g2", "metadata.name", `"alpha"`)
	c.mustRun("set", "games", "g3", "metadata.name", `"Gamma"`)

	assert.Equal(t, []string{"g2", "g1", "g3"}, docIDs(t, c.mustRun("docs", "games", "--sort", "metadata.name")))
	assert.Equal(t, []string{"g3", "g1", "g2"}, docIDs(t, c.mustRun("docs", "games", "--sort", "metadata.name:desc")))

	_, err := c.run("docs", "games", "--sort", "metadata.name:sideways")
	assert.Error(t, err)
}

func TestAttachments(t *testing.T) {
	c := newCLI(t)

	src := filepath.Join(t.TempDir(), "cover.txt")
	require.NoError(t, os.WriteFile(src, []byte("cover art"), 0o644))

	out := c.mustRun("attach", "put", "games", "g1", "images/cover.txt", src)
	assert.Contains(t, out, "images/cover.txt")
	assert.Contains(t, out, "9 bytes")

	assert.Equal(t, "images/cover.txt\n", c.mustRun("attach", "ls", "games", "g1"))
	assert.Equal(t, "cover art", c.mustRun("attach", "get", "games", "g1", "images/cover.txt"))

	dst := filepath.Join(t.TempDir(), "copy.txt")
	c.mustRun("attach", "get", "games", "g1", "images/cover.txt", "-o", dst)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "cover art", string(data))

	c.mustRun("attach", "rm", "games", "g1", "images/cover.txt")
	assert.Empty(t, c.mustRun("attach", "ls", "games", "g1"))

	_, err = c.run("attach", "get", "games", "g1", "images/cover.txt")
	assert.Error(t, err)
}

func TestRemoveGame(t *testing.T) {
	c := newCLI(t)

	c.mustRun("set", "games", "g1", "metadata.name", `"Alpha"`)
	c.mustRun("set", "games", "g2", "metadata.name", `"Beta"`)
	c.mustRun("rm", "games", "g1")

	assert.Equal(t, []string{"g2"}, docIDs(t, c.mustRun("docs", "games")))
}

func TestMigrateEmptyLibrary(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("migrate")
	assert.Contains(t, out, "schema version")
}

func TestSyncStatus(t *testing.T) {
	c := newCLI(t)

	out := c.mustRun("sync", "status")
	assert.Contains(t, out, "disabled")
	assert.Contains(t, out, "never")
	assert.Contains(t, out, "idle")
}

func TestSyncRunDisabled(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("sync", "run")
	require.Error(t, err)
	assert.Equal(t, syncer.KindConfig, syncer.KindOf(err))

	// The failed run is recorded.
	out := c.mustRun("sync", "status")
	assert.Contains(t, out, "error")
	assert.Contains(t, out, "sync is disabled")
}

func TestSyncRunInvalidDirection(t *testing.T) {
	c := newCLI(t)

	_, err := c.run("sync", "run", "--direction", "sideways")
	assert.Error(t, err)
}

func TestVersion(t *testing.T) {
	c := newCLI(t)

	assert.Contains(t, c.mustRun("version"), Version)
}
