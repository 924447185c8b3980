package collection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/internal/pathstore"
)

// Config namespaces.
const (
	GeneralNamespace     = "general"
	SyncNamespace        = "sync"
	GameNamespace        = "game"
	AppearancesNamespace = "appearances"
)

// ErrUnknownNamespace is returned for a config namespace without a default table.
var ErrUnknownNamespace = errors.New("unknown config namespace")

// configDefaults is the default value table of every config namespace.
// Only keys present here can be read or written.
var configDefaults = map[string]map[string]interface{}{
	GeneralNamespace: {
		"language":              "en",
		"openAtLogin":           false,
		"quitToTray":            true,
		"hideWindowOnGameStart": false,
		"theme":                 "system",
	},
	SyncNamespace: {
		"enabled": false,
		"mode":    "hosted",
		"hosted": map[string]interface{}{
			"endpoint": "",
			"database": "",
			"username": "",
		},
		"webdav": map[string]interface{}{
			"url":      "",
			"path":     "/docstow",
			"username": "",
		},
		"lastSyncTime": "",
		"status": map[string]interface{}{
			"state":     "idle",
			"message":   "",
			"updatedAt": "",
		},
	},
	GameNamespace: {
		"scraper": map[string]interface{}{
			"defaultDataSource": "steam",
		},
		"gameList": map[string]interface{}{
			"sort": []interface{}{
				map[string]interface{}{"by": []interface{}{"metadata", "name"}, "order": "asc"},
			},
			"showRecentGames": true,
			"showCollections": true,
		},
		"save": map[string]interface{}{
			"maxBackups": float64(7),
		},
	},
	AppearancesNamespace: {
		"gameList": map[string]interface{}{
			"showCover": true,
			"cardSize":  "medium",
		},
		"gameDetail": map[string]interface{}{
			"showLogo":       true,
			"showBackground": true,
		},
		"sidebar": map[string]interface{}{
			"collapsed": false,
		},
		"fonts": map[string]interface{}{
			"family": "system-ui",
		},
	},
}

// Namespaces returns the config namespace names, sorted.
func Namespaces() []string {
	names := make([]string, 0, len(configDefaults))
	for name := range configDefaults {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigDefault returns a copy of the default value at path in namespace.
// ok is false for keys outside the default table.
func ConfigDefault(namespace string, path docstow.Path) (value interface{}, ok bool) {
	defaults, known := configDefaults[namespace]
	if !known {
		return nil, false
	}
	if path.IsAll() {
		return pathstore.Clone(defaults), true
	}

	var current interface{} = defaults
	for _, seg := range path {
		switch node := current.(type) {
		case map[string]interface{}:
			next, exists := node[seg]
			if !exists {
				return nil, false
			}
			current = next
		case []interface{}:
			idx, err := strconv.Atoi(seg)
			if err != nil {
				return nil, false
			}
			if idx < 0 || idx >= len(node) {
				// Inside a list default, every index is a valid key.
				return nil, true
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return pathstore.Clone(current), true
}

// Config manages the configuration namespaces. Every namespace is merged
// against its default table: missing keys are back-filled on read, keys
// outside the table are dropped on read and ignored on write.
type Config struct {
	store docstow.Store
}

// NewConfig creates a config manager.
func NewConfig(store docstow.Store) *Config {
	return &Config{store: store}
}

// Get returns the value at path, materializing its default on first read.
// Unknown keys read as nil.
func (c *Config) Get(ctx context.Context, namespace string, path docstow.Path) (interface{}, error) {
	if _, ok := configDefaults[namespace]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	if path.IsAll() {
		return c.Namespace(ctx, namespace)
	}

	def, known := ConfigDefault(namespace, path)
	if !known {
		return nil, nil
	}

	// Lists are materialized whole, so that an index below them never
	// vivifies an object in their place.
	for i := 1; i < len(path); i++ {
		prefixDef, _ := ConfigDefault(namespace, path[:i])
		if _, isList := prefixDef.([]interface{}); isList {
			if _, err := c.store.GetValue(ctx, ConfigCollection, namespace, path[:i], prefixDef); err != nil {
				return nil, err
			}
			break
		}
	}
	return c.store.GetValue(ctx, ConfigCollection, namespace, path, def)
}

// Set stores value at path. Writes to unknown keys are ignored.
func (c *Config) Set(ctx context.Context, namespace string, path docstow.Path, value interface{}) error {
	if _, ok := configDefaults[namespace]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}
	if path.IsAll() {
		doc, err := pathstore.Normalize(value)
		if err != nil {
			return err
		}
		obj, ok := doc.(map[string]interface{})
		if !ok {
			return fmt.Errorf("%w: namespace %s must be an object", docstow.ErrPathConflict, namespace)
		}
		return c.store.SetValue(ctx, ConfigCollection, namespace, docstow.All, mergeDefaults(configDefaults[namespace], obj))
	}

	if _, known := ConfigDefault(namespace, path); !known {
		return nil
	}
	return c.store.SetValue(ctx, ConfigCollection, namespace, path, value)
}

// Namespace returns a whole namespace merged with its defaults. When the
// stored document differs from the merge it is rewritten.
func (c *Config) Namespace(ctx context.Context, namespace string) (map[string]interface{}, error) {
	defaults, ok := configDefaults[namespace]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNamespace, namespace)
	}

	raw, err := c.store.UpdateValue(ctx, ConfigCollection, namespace, docstow.All, func(current interface{}, _ bool) (interface{}, error) {
		stored, _ := current.(map[string]interface{})
		return mergeDefaults(defaults, stored), nil
	})
	if err != nil {
		return nil, err
	}
	merged, _ := raw.(map[string]interface{})
	return merged, nil
}

// Decode reads a namespace into a typed struct.
func (c *Config) Decode(ctx context.Context, namespace string, out interface{}) error {
	doc, err := c.Namespace(ctx, namespace)
	if err != nil {
		return err
	}
	return decode(doc, out)
}

// mergeDefaults overlays stored onto defaults, keeping only keys the
// defaults know. Nested objects merge recursively; any other stored value
// wins as is.
func mergeDefaults(defaults, stored map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(defaults))
	for key, def := range defaults {
		value, ok := stored[key]
		if !ok {
			out[key] = pathstore.Clone(def)
			continue
		}

		defObj, defIsObj := def.(map[string]interface{})
		valueObj, valueIsObj := value.(map[string]interface{})
		switch {
		case defIsObj && valueIsObj:
			out[key] = mergeDefaults(defObj, valueObj)
		case defIsObj:
			out[key] = pathstore.Clone(def)
		case isList(def) && !isList(value):
			out[key] = pathstore.Clone(def)
		default:
			out[key] = value
		}
	}
	return out
}

func isList(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}
