package collection

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/aigotowork/docstow"
	"github.com/aigotowork/docstow/internal/index"
)

// CurrentPathVersion is the schema version of game path documents.
const CurrentPathVersion = 2

// ErrMigration is returned when a stored document cannot be upgraded.
var ErrMigration = errors.New("migration failed")

// Migration upgrades one game's path document from version From to From+1.
// Apply may move attachments; it returns the upgraded document without
// writing it.
type Migration struct {
	From  int
	Name  string
	Apply func(ctx context.Context, games *Games, id string, doc map[string]interface{}) (map[string]interface{}, error)
}

// Migrator holds the registry of path document migrations and runs them.
type Migrator struct {
	games      *Games
	migrations map[int]Migration
}

// NewMigrator creates a migrator with every known migration registered.
func NewMigrator(games *Games) *Migrator {
	m := &Migrator{games: games, migrations: make(map[int]Migration)}
	m.mustRegister(Migration{From: 1, Name: "split save paths", Apply: migratePathV1})
	return m
}

// Register adds a migration. Only one migration may start from a version.
func (m *Migrator) Register(mig Migration) error {
	if mig.From < 1 || mig.Apply == nil {
		return fmt.Errorf("invalid migration %q", mig.Name)
	}
	if existing, ok := m.migrations[mig.From]; ok {
		return fmt.Errorf("migration from version %d already registered as %q", mig.From, existing.Name)
	}
	m.migrations[mig.From] = mig
	return nil
}

func (m *Migrator) mustRegister(mig Migration) {
	if err := m.Register(mig); err != nil {
		panic(err)
	}
}

// Latest returns the version documents end up at after all migrations.
func (m *Migrator) Latest() int {
	v := 1
	for {
		if _, ok := m.migrations[v]; !ok {
			return v
		}
		v++
	}
}

// MigrateGame upgrades one game's path document to the latest version and
// reports whether anything changed. Each step is persisted as it completes.
func (m *Migrator) MigrateGame(ctx context.Context, id string) (bool, error) {
	raw, err := m.games.store.GetValue(ctx, GamesCollection, id, docstow.All, nil)
	if err != nil {
		return false, err
	}
	game, _ := raw.(docstow.Document)
	doc, ok := game[PathPart].(map[string]interface{})
	if !ok {
		// No path part yet; new ones are written at the current version.
		return false, nil
	}

	version, err := schemaVersion(doc)
	if err != nil {
		return false, fmt.Errorf("%w: game %s: %v", ErrMigration, id, err)
	}

	changed := false
	for {
		mig, ok := m.migrations[version]
		if !ok {
			return changed, nil
		}
		next, err := mig.Apply(ctx, m.games, id, doc)
		if err != nil {
			return changed, fmt.Errorf("%w: game %s: %s: %w", ErrMigration, id, mig.Name, err)
		}
		next["version"] = version + 1
		if err := m.games.Set(ctx, id, docstow.P(PathPart), next); err != nil {
			return changed, err
		}
		doc = next
		version++
		changed = true
	}
}

// Report summarizes a MigrateAll run.
type Report struct {
	Migrated []string
	Failed   map[string]error
}

// MigrateAll upgrades every game. A failing game does not stop the others;
// the returned error joins all failures.
func (m *Migrator) MigrateAll(ctx context.Context) (Report, error) {
	report := Report{Failed: make(map[string]error)}

	ids, err := m.games.IDs(ctx)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, id := range ids {
		changed, err := m.MigrateGame(ctx, id)
		if err != nil {
			report.Failed[id] = err
			errs = append(errs, err)
			continue
		}
		if changed {
			report.Migrated = append(report.Migrated, id)
		}
	}
	return report, errors.Join(errs...)
}

// schemaVersion reads the version field. Documents predating it are version 1.
func schemaVersion(doc map[string]interface{}) (int, error) {
	raw, ok := doc["version"]
	if !ok || raw == nil {
		return 1, nil
	}
	v, ok := raw.(float64)
	if !ok || v < 1 || v != float64(int(v)) {
		return 0, fmt.Errorf("invalid version %v", raw)
	}
	return int(v), nil
}

// migratePathV1 turns {gamePath, savePath: string|[]string, savePathMode}
// into paired savePathInGame/savePathInDB lists and renames existing backup
// folders from <basename> to <ordinal>_<basename>.
func migratePathV1(ctx context.Context, games *Games, id string, doc map[string]interface{}) (map[string]interface{}, error) {
	gamePath := ""
	switch v := doc["gamePath"].(type) {
	case nil:
	case string:
		gamePath = v
	default:
		return nil, fmt.Errorf("gamePath is %T", v)
	}

	var inGame []string
	switch v := doc["savePath"].(type) {
	case nil:
	case string:
		if v != "" {
			inGame = []string{v}
		}
	case []interface{}:
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("savePath[%d] is %T", i, e)
			}
			if s != "" {
				inGame = append(inGame, s)
			}
		}
	default:
		return nil, fmt.Errorf("savePath is %T", v)
	}

	inDB := make([]string, len(inGame))
	for i, p := range inGame {
		base := legacyBackupName(p)
		inDB[i] = fmt.Sprintf("%d_%s", i, base)
		if err := renameBackups(ctx, games, id, base, inDB[i]); err != nil {
			return nil, err
		}
	}

	out := make(map[string]interface{}, len(doc)+2)
	for k, v := range doc {
		out[k] = v
	}
	delete(out, "savePath")
	delete(out, "savePathMode")
	out["gamePath"] = gamePath
	out["savePathInGame"] = nonNil(inGame)
	out["savePathInDB"] = inDB
	return out, nil
}

// legacyBackupName is the folder name version 1 used for a save path.
// Paths may come from either platform, so both separators count.
func legacyBackupName(p string) string {
	p = strings.TrimRight(p, `/\`)
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		p = p[i+1:]
	}
	return index.SanitizeKey(p)
}

// renameBackups moves saves/<saveId>/<from> to saves/<saveId>/<to> in every
// save. A save without the source, or already holding the target, is left as is.
func renameBackups(ctx context.Context, games *Games, id, from, to string) error {
	saves, err := games.store.ListAttachments(ctx, GamesCollection, id, "saves")
	if err != nil {
		return err
	}

	saveIDs := make(map[string]struct{})
	for _, name := range saves {
		parts := strings.SplitN(name, "/", 3)
		if len(parts) >= 2 {
			saveIDs[parts[1]] = struct{}{}
		}
	}
	ids := make([]string, 0, len(saveIDs))
	for saveID := range saveIDs {
		ids = append(ids, saveID)
	}
	sort.Strings(ids)

	for _, saveID := range ids {
		src := path.Join("saves", saveID, from)
		dst := path.Join("saves", saveID, to)

		targets, err := games.store.ListAttachments(ctx, GamesCollection, id, dst)
		if err != nil {
			return err
		}
		if len(targets) > 0 {
			continue
		}
		files, err := games.store.ListAttachments(ctx, GamesCollection, id, src)
		if err != nil {
			return err
		}
		for _, name := range files {
			if err := moveAttachment(ctx, games, id, name, dst+strings.TrimPrefix(name, src)); err != nil {
				return err
			}
		}
	}
	return nil
}

// moveAttachment copies an attachment to a new name, then removes the old one.
func moveAttachment(ctx context.Context, games *Games, id, from, to string) error {
	f, err := games.tempCopy(ctx, id, from)
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())
	defer f.Close()

	if _, err := games.store.PutAttachment(ctx, GamesCollection, id, to, f); err != nil {
		return err
	}
	return games.store.RemoveAttachment(ctx, GamesCollection, id, from)
}
