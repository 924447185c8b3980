package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aigotowork/docstow"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func TestExcluded(t *testing.T) {
	tests := []struct {
		rel      string
		isDir    bool
		excluded bool
	}{
		{"games/g1/metadata.json", false, false},
		{"games/g1/saves/s1/0_Saves/slot.sav", false, false},
		{"config/general.json", false, false},
		{"collections.json", false, false},
		{"config/sync.json", false, true},
		{".git", true, true},
		{"games/g1/.git", true, true},
		{"local", true, true},
		{"local/paths.json", false, true},
		{docstow.LockFileName, false, true},
		{StagingDirName, true, true},
		{"games/g1/.metadata.json.123.tmp", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.excluded, Excluded(tt.rel, tt.isDir))
		})
	}
}

func TestSafeRel(t *testing.T) {
	for rel, want := range map[string]bool{
		"games/g1/record.json": true,
		"collections.json":     true,
		"":                     false,
		"/abs.json":            false,
		"../evil.json":         false,
		"games/../x.json":      false,
		`games\g1.json`:        false,
		"games//g1.json":       false,
		"config/sync.json":     false,
		"local/paths.json":     false,
	} {
		assert.Equal(t, want, SafeRel(rel), rel)
	}
}

func TestTakeSnapshot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"games/g1/metadata.json":    "{}",
		"games/g1/images/icon.webp": "x",
		".git/HEAD":                 "ref",
		"local/paths.json":          "{}",
		"config/sync.json":          "{}",
		"config/general.json":       "{}",
	})

	at := time.Unix(100, 0)
	snap, err := TakeSnapshot(root, at)
	require.NoError(t, err)
	assert.Equal(t, at, snap.Time)
	assert.Equal(t, []string{"config/general.json", "games/g1/images/icon.webp", "games/g1/metadata.json"}, snap.Files)

	data, err := snap.ReadLocal("games/g1/images/icon.webp")
	require.NoError(t, err)
	assert.Equal(t, "x", string(data))
}

func TestApplyStaging(t *testing.T) {
	root := t.TempDir()
	staging := filepath.Join(root, StagingDirName)
	writeTree(t, root, map[string]string{
		"games/g1/metadata.json": `{"name":"old"}`,
		"games/g2/metadata.json": `{"name":"gone"}`,
		"local/paths.json":       `{"keep":true}`,
	})
	writeTree(t, staging, map[string]string{
		"games/g1/metadata.json": `{"name":"new"}`,
		"games/g3/record.json":   `{}`,
		"local/paths.json":       `{"keep":false}`,
		"collections.json":       `{}`,
	})

	require.NoError(t, applyStaging(root, staging))

	read := func(rel string) string {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		require.NoError(t, err)
		return string(data)
	}
	assert.Equal(t, `{"name":"new"}`, read("games/g1/metadata.json"))
	assert.Equal(t, `{}`, read("games/g3/record.json"))
	assert.Equal(t, `{}`, read("collections.json"))
	assert.Equal(t, `{"keep":true}`, read("local/paths.json"))
	assert.NoDirExists(t, filepath.Join(root, "games", "g2"))
}

type transientErr struct{}

func (transientErr) Error() string { return "locked" }

func isTransient(err error) bool {
	var te transientErr
	return errors.As(err, &te)
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, 3, time.Millisecond, isTransient, func() error {
			calls++
			if calls < 3 {
				return transientErr{}
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		calls := 0
		err := Retry(ctx, 3, time.Millisecond, isTransient, func() error {
			calls++
			return transientErr{}
		})
		assert.ErrorIs(t, err, transientErr{})
		assert.Equal(t, 4, calls, "one attempt plus three retries")
	})

	t.Run("permanent", func(t *testing.T) {
		calls := 0
		boom := errors.New("forbidden")
		err := Retry(ctx, 3, time.Millisecond, isTransient, func() error {
			calls++
			return boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, calls)
	})

	t.Run("canceled", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		calls := 0
		err := Retry(cctx, 3, time.Millisecond, isTransient, func() error {
			calls++
			return nil
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, calls)
	})
}

func TestCheckQuota(t *testing.T) {
	table := map[string]int64{"user": 500, "supporter": 1000, "_admin": Unlimited}

	tests := []struct {
		name  string
		usage Usage
		ok    bool
	}{
		{"within", Usage{DBSize: 400, Roles: []string{"user"}}, true},
		{"exact", Usage{DBSize: 500, Roles: []string{"user"}}, true},
		{"exceeded", Usage{DBSize: 600, Roles: []string{"user"}}, false},
		{"largest role wins", Usage{DBSize: 600, Roles: []string{"user", "supporter"}}, true},
		{"unlimited", Usage{DBSize: 1 << 40, Roles: []string{"user", "_admin"}}, true},
		{"unlisted role", Usage{DBSize: 1 << 40, Roles: []string{"guest"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkQuota(table, tt.usage)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, KindQuota, KindOf(err))
		})
	}
}

func TestConfigValidate(t *testing.T) {
	hosted := HostedConfig{Endpoint: "https://db.example.com", Database: "games", Username: "alice"}
	dav := WebDAVConfig{URL: "https://dav.example.com/remote.php/dav", Path: "/docstow", Username: "alice"}

	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"disabled", Config{Mode: ModeHosted, Hosted: hosted}, "disabled"},
		{"hosted", Config{Enabled: true, Mode: ModeHosted, Hosted: hosted}, ""},
		{"webdav", Config{Enabled: true, Mode: ModeWebDAV, WebDAV: dav}, ""},
		{"unknown mode", Config{Enabled: true, Mode: "ftp"}, "unknown sync mode"},
		{"missing database", Config{Enabled: true, Mode: ModeHosted, Hosted: HostedConfig{Endpoint: hosted.Endpoint, Username: "a"}}, "hosted.database"},
		{"bad url", Config{Enabled: true, Mode: ModeWebDAV, WebDAV: WebDAVConfig{URL: "dav.example.com", Username: "a"}}, "webdav.url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, KindConfig, KindOf(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClassify(t *testing.T) {
	assert.Nil(t, classify("x", nil))
	assert.Equal(t, KindTimeout, KindOf(classify("x", context.DeadlineExceeded)))
	assert.Equal(t, KindCanceled, KindOf(classify("x", context.Canceled)))
	assert.Equal(t, KindTransport, KindOf(classify("x", errors.New("eof"))))
	assert.Equal(t, KindQuota, KindOf(classify("x", NewError(KindQuota, "full"))))

	err := Wrap(KindTransport, "push failed", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "transport: push failed: context deadline exceeded", err.Error())
}

func TestMemoryCredentials(t *testing.T) {
	c := NewMemoryCredentials()
	secret, err := c.Secret(ModeHosted, "alice")
	require.NoError(t, err)
	assert.Empty(t, secret)

	require.NoError(t, c.SetSecret(ModeHosted, "alice", "pw"))
	secret, _ = c.Secret(ModeHosted, "alice")
	assert.Equal(t, "pw", secret)
	secret, _ = c.Secret(ModeWebDAV, "alice")
	assert.Empty(t, secret, "secrets are scoped by mode")

	require.NoError(t, c.DeleteSecret(ModeHosted, "alice"))
	secret, _ = c.Secret(ModeHosted, "alice")
	assert.Empty(t, secret)
}
