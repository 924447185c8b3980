package syncer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/collection"
)

// Mode selects the remote backend.
type Mode string

// Backend modes.
const (
	ModeHosted Mode = "hosted"
	ModeWebDAV Mode = "webdav"
)

// Config is the sync namespace of the config collection.
type Config struct {
	Enabled      bool         `json:"enabled"`
	Mode         Mode         `json:"mode"`
	Hosted       HostedConfig `json:"hosted"`
	WebDAV       WebDAVConfig `json:"webdav"`
	LastSyncTime string       `json:"lastSyncTime"`
	Status       StatusRecord `json:"status"`
}

// StatusRecord is the persisted outcome of the latest run.
type StatusRecord struct {
	State     State  `json:"state"`
	Message   string `json:"message"`
	UpdatedAt string `json:"updatedAt"`
}

// HostedConfig locates a database on a hosted document server.
type HostedConfig struct {
	Endpoint string `json:"endpoint"`
	Database string `json:"database"`
	Username string `json:"username"`
}

// WebDAVConfig locates the sync folder on a WebDAV server.
type WebDAVConfig struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	Username string `json:"username"`
}

// Username returns the account name of the selected backend.
func (c Config) Username() string {
	if c.Mode == ModeWebDAV {
		return c.WebDAV.Username
	}
	return c.Hosted.Username
}

// LastSync parses LastSyncTime. An empty or malformed value is the zero time.
func (c Config) LastSync() time.Time {
	t, err := time.Parse(time.RFC3339Nano, c.LastSyncTime)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Validate checks that the selected backend is fully configured.
func (c Config) Validate() error {
	if !c.Enabled {
		return NewError(KindConfig, "sync is disabled")
	}

	var missing []string
	switch c.Mode {
	case ModeHosted:
		if err := checkURL(c.Hosted.Endpoint); err != nil {
			missing = append(missing, "hosted.endpoint")
		}
		if c.Hosted.Database == "" {
			missing = append(missing, "hosted.database")
		}
		if c.Hosted.Username == "" {
			missing = append(missing, "hosted.username")
		}
	case ModeWebDAV:
		if err := checkURL(c.WebDAV.URL); err != nil {
			missing = append(missing, "webdav.url")
		}
		if c.WebDAV.Username == "" {
			missing = append(missing, "webdav.username")
		}
	default:
		return NewError(KindConfig, fmt.Sprintf("unknown sync mode %q", c.Mode))
	}

	if len(missing) > 0 {
		return NewError(KindConfig, "missing or invalid "+strings.Join(missing, ", "))
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("not an http url: %q", raw)
	}
	return nil
}

// LoadConfig reads the sync namespace.
func LoadConfig(ctx context.Context, cfg *collection.Config) (Config, error) {
	var c Config
	if err := cfg.Decode(ctx, collection.SyncNamespace, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}

// SaveConfig writes the user-editable part of c to the sync namespace.
// State fields are owned by the engine and left alone.
func SaveConfig(ctx context.Context, cfg *collection.Config, c Config) error {
	fields := map[string]interface{}{
		"enabled": c.Enabled,
		"mode":    string(c.Mode),
		"hosted": map[string]interface{}{
			"endpoint": c.Hosted.Endpoint,
			"database": c.Hosted.Database,
			"username": c.Hosted.Username,
		},
		"webdav": map[string]interface{}{
			"url":      c.WebDAV.URL,
			"path":     c.WebDAV.Path,
			"username": c.WebDAV.Username,
		},
	}
	for key, value := range fields {
		if err := cfg.Set(ctx, collection.SyncNamespace, docstow.P(key), value); err != nil {
			return err
		}
	}
	return nil
}
