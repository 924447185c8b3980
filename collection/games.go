package collection

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/aigotowork/docstow"
)

// Game document parts.
const (
	MetadataPart = "metadata"
	RecordPart   = "record"
	PathPart     = "path"
	SavePart     = "save"
)

// Image types stored under images/<type>.webp.
const (
	ImageCover      = "cover"
	ImageBackground = "background"
	ImageIcon       = "icon"
	ImageLogo       = "logo"
)

// Metadata is the scraped description of a game.
type Metadata struct {
	Name         string            `json:"name"`
	OriginalName string            `json:"originalName"`
	Description  string            `json:"description"`
	ReleaseDate  string            `json:"releaseDate"`
	Developers   []string          `json:"developers"`
	Publishers   []string          `json:"publishers"`
	Genres       []string          `json:"genres"`
	Tags         []string          `json:"tags"`
	Platforms    []string          `json:"platforms"`
	ExtraInfo    map[string]string `json:"extra"`
	DataSource   string            `json:"dataSource"`
	SourceID     string            `json:"sourceId"`
}

// Record is the player's own data about a game.
type Record struct {
	AddDate     string  `json:"addDate"`
	LastRunDate string  `json:"lastRunDate"`
	Score       float64 `json:"score"`
	PlayTime    float64 `json:"playTime"` // milliseconds
	PlayStatus  string  `json:"playStatus"`
	Favorite    bool    `json:"favorite"`
	Timers      []Timer `json:"timers"`
}

// Timer is one play session.
type Timer struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// PathInfo locates a game and its save folders.
// SavePathInGame[i] is backed up under saves/<saveId>/<SavePathInDB[i]>.
type PathInfo struct {
	Version        int      `json:"version"`
	GamePath       string   `json:"gamePath"`
	SavePathInGame []string `json:"savePathInGame"`
	SavePathInDB   []string `json:"savePathInDB"`
}

// SaveEntry describes one save backup.
type SaveEntry struct {
	ID   string `json:"id"`
	Date string `json:"date"`
	Note string `json:"note"`
}

// Backup is one save folder or file to store with a save entry.
type Backup struct {
	// Name is the slash-separated name under saves/<saveId>/, usually
	// "<SavePathInDB[i]>/<file>".
	Name   string
	Reader io.Reader
}

// Games manages game documents, stored one directory per game with a JSON
// file per part and attachments next to them.
type Games struct {
	store       docstow.Store
	collections *Collections
	local       *Local

	// mu serializes read-modify-write updates of the save part.
	mu sync.Mutex
}

// NewGames creates a games manager. collections and local receive cascaded
// removals and path index updates; either may be nil.
func NewGames(store docstow.Store, collections *Collections, local *Local) *Games {
	return &Games{store: store, collections: collections, local: local}
}

// Get returns the value at path inside a game, materializing def.
// The first path segment names the part.
func (g *Games) Get(ctx context.Context, id string, p docstow.Path, def interface{}) (interface{}, error) {
	return g.store.GetValue(ctx, GamesCollection, id, p, def)
}

// Set stores value at path inside a game.
func (g *Games) Set(ctx context.Context, id string, p docstow.Path, value interface{}) error {
	return g.store.SetValue(ctx, GamesCollection, id, p, value)
}

// All returns every game document keyed by id.
func (g *Games) All(ctx context.Context) (map[string]docstow.Document, error) {
	return g.store.GetAllDocs(ctx, GamesCollection)
}

// IDs returns all game ids, sorted.
func (g *Games) IDs(ctx context.Context) ([]string, error) {
	docs, err := g.All(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(docs))
	for id := range docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Create adds a game with the given metadata and default parts and returns its id.
func (g *Games) Create(ctx context.Context, meta Metadata) (string, error) {
	id := newID()
	if err := g.store.SetValue(ctx, GamesCollection, id, docstow.All, map[string]interface{}{
		MetadataPart: meta,
		RecordPart:   Record{AddDate: timestamp(now())},
		PathPart:     PathInfo{Version: CurrentPathVersion, SavePathInGame: []string{}, SavePathInDB: []string{}},
		SavePart:     map[string]interface{}{},
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Metadata returns a game's metadata part.
func (g *Games) Metadata(ctx context.Context, id string) (Metadata, error) {
	return NewDoc(g.store, GamesCollection, id, docstow.P(MetadataPart), Metadata{}).Get(ctx)
}

// SetMetadata replaces a game's metadata part.
func (g *Games) SetMetadata(ctx context.Context, id string, meta Metadata) error {
	return NewDoc(g.store, GamesCollection, id, docstow.P(MetadataPart), Metadata{}).Set(ctx, meta)
}

// Record returns a game's record part.
func (g *Games) Record(ctx context.Context, id string) (Record, error) {
	return NewDoc(g.store, GamesCollection, id, docstow.P(RecordPart), Record{}).Get(ctx)
}

// SetRecord replaces a game's record part.
func (g *Games) SetRecord(ctx context.Context, id string, record Record) error {
	return NewDoc(g.store, GamesCollection, id, docstow.P(RecordPart), Record{}).Set(ctx, record)
}

// Path returns a game's path part.
func (g *Games) Path(ctx context.Context, id string) (PathInfo, error) {
	return NewDoc(g.store, GamesCollection, id, docstow.P(PathPart), defaultPathInfo()).Get(ctx)
}

// SetPath replaces a game's path part. The stored version is always current.
func (g *Games) SetPath(ctx context.Context, id string, info PathInfo) error {
	info.Version = CurrentPathVersion
	return NewDoc(g.store, GamesCollection, id, docstow.P(PathPart), defaultPathInfo()).Set(ctx, info)
}

func defaultPathInfo() PathInfo {
	return PathInfo{Version: CurrentPathVersion, SavePathInGame: []string{}, SavePathInDB: []string{}}
}

// Saves returns a game's save history keyed by save id.
func (g *Games) Saves(ctx context.Context, id string) (map[string]SaveEntry, error) {
	return NewDoc(g.store, GamesCollection, id, docstow.P(SavePart), map[string]SaveEntry{}).Get(ctx)
}

// SaveList returns a game's saves, newest first.
func (g *Games) SaveList(ctx context.Context, id string) ([]SaveEntry, error) {
	saves, err := g.Saves(ctx, id)
	if err != nil {
		return nil, err
	}
	list := make([]SaveEntry, 0, len(saves))
	for _, s := range saves {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Date != list[j].Date {
			return list[i].Date > list[j].Date
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// AddSave stores backups under saves/<saveId>/ and records the save entry.
func (g *Games) AddSave(ctx context.Context, id, note string, backups []Backup) (SaveEntry, error) {
	entry := SaveEntry{ID: newID(), Date: timestamp(now()), Note: note}

	for _, b := range backups {
		name := path.Join("saves", entry.ID, b.Name)
		if _, err := g.store.PutAttachment(ctx, GamesCollection, id, name, b.Reader); err != nil {
			g.removeSaveFiles(ctx, id, entry.ID)
			return SaveEntry{}, err
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.store.SetValue(ctx, GamesCollection, id, docstow.P(SavePart, entry.ID), entry); err != nil {
		return SaveEntry{}, err
	}
	return entry, nil
}

// UpdateSaveNote changes the note of an existing save.
func (g *Games) UpdateSaveNote(ctx context.Context, id, saveID, note string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	saves, err := g.Saves(ctx, id)
	if err != nil {
		return err
	}
	if _, ok := saves[saveID]; !ok {
		return fmt.Errorf("%w: save %s of game %s", ErrNotFound, saveID, id)
	}
	return g.store.SetValue(ctx, GamesCollection, id, docstow.P(SavePart, saveID, "note"), note)
}

// RemoveSave deletes a save entry and its backup files.
func (g *Games) RemoveSave(ctx context.Context, id, saveID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	raw, err := g.store.GetValue(ctx, GamesCollection, id, docstow.P(SavePart), map[string]interface{}{})
	if err != nil {
		return err
	}
	saves, _ := raw.(map[string]interface{})
	if _, ok := saves[saveID]; !ok {
		return fmt.Errorf("%w: save %s of game %s", ErrNotFound, saveID, id)
	}

	if err := g.removeSaveFiles(ctx, id, saveID); err != nil {
		return err
	}

	delete(saves, saveID)
	return g.store.SetValue(ctx, GamesCollection, id, docstow.P(SavePart), saves)
}

// SaveFiles lists the backup files of a save, relative to saves/<saveId>/.
func (g *Games) SaveFiles(ctx context.Context, id, saveID string) ([]string, error) {
	dir := path.Join("saves", saveID)
	names, err := g.store.ListAttachments(ctx, GamesCollection, id, dir)
	if err != nil {
		return nil, err
	}
	for i, name := range names {
		names[i] = name[len(dir)+1:]
	}
	return names, nil
}

// OpenSaveFile reads one backup file of a save.
func (g *Games) OpenSaveFile(ctx context.Context, id, saveID, name string) ([]byte, error) {
	att, err := g.store.GetAttachment(ctx, GamesCollection, id, path.Join("saves", saveID, name), docstow.AsBuffer)
	if err != nil {
		return nil, err
	}
	return att.Data, nil
}

func (g *Games) removeSaveFiles(ctx context.Context, id, saveID string) error {
	names, err := g.store.ListAttachments(ctx, GamesCollection, id, path.Join("saves", saveID))
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := g.store.RemoveAttachment(ctx, GamesCollection, id, name); err != nil {
			return err
		}
	}
	return nil
}

// SetImage stores an image of the given type. The content must already be WebP.
func (g *Games) SetImage(ctx context.Context, id, imageType string, r io.Reader) error {
	_, err := g.store.PutAttachment(ctx, GamesCollection, id, imageName(imageType), r, docstow.WithMimeType("image/webp"))
	return err
}

// Image returns an image of the given type as bytes or as a temporary file.
func (g *Games) Image(ctx context.Context, id, imageType string, mode docstow.ReadMode) (*docstow.Attachment, error) {
	return g.store.GetAttachment(ctx, GamesCollection, id, imageName(imageType), mode)
}

// RemoveImage deletes an image. A missing image is not an error.
func (g *Games) RemoveImage(ctx context.Context, id, imageType string) error {
	return g.store.RemoveAttachment(ctx, GamesCollection, id, imageName(imageType))
}

func imageName(imageType string) string {
	return "images/" + imageType + ".webp"
}

// AddMemory stores a memory image and returns its id.
func (g *Games) AddMemory(ctx context.Context, id string, r io.Reader) (string, error) {
	memoryID := newID()
	if _, err := g.store.PutAttachment(ctx, GamesCollection, id, memoryName(memoryID), r, docstow.WithMimeType("image/webp")); err != nil {
		return "", err
	}
	return memoryID, nil
}

// Memories lists memory image ids, sorted.
func (g *Games) Memories(ctx context.Context, id string) ([]string, error) {
	names, err := g.store.ListAttachments(ctx, GamesCollection, id, "memories")
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(names))
	for _, name := range names {
		base := path.Base(name)
		if ext := path.Ext(base); ext == ".webp" {
			ids = append(ids, base[:len(base)-len(ext)])
		}
	}
	return ids, nil
}

// RemoveMemory deletes a memory image.
func (g *Games) RemoveMemory(ctx context.Context, id, memoryID string) error {
	return g.store.RemoveAttachment(ctx, GamesCollection, id, memoryName(memoryID))
}

func memoryName(memoryID string) string {
	return "memories/" + memoryID + ".webp"
}

// Remove deletes a game with its attachments, drops it from every category
// and from the path index.
func (g *Games) Remove(ctx context.Context, id string) error {
	if err := g.store.RemoveDoc(ctx, GamesCollection, id); err != nil {
		return err
	}
	if g.collections != nil {
		if err := g.collections.RemoveGameEverywhere(ctx, id); err != nil {
			return err
		}
	}
	if g.local != nil {
		if err := g.local.RemovePathEntry(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// RefreshPathIndex rebuilds the local path index from every game's path part.
// Games without a path part are skipped.
func (g *Games) RefreshPathIndex(ctx context.Context) (map[string]PathIndexEntry, error) {
	if g.local == nil {
		return nil, fmt.Errorf("games manager has no local store")
	}

	docs, err := g.All(ctx)
	if err != nil {
		return nil, err
	}

	index := make(map[string]PathIndexEntry, len(docs))
	for id, doc := range docs {
		raw, ok := doc[PathPart]
		if !ok {
			continue
		}
		var info PathInfo
		if err := decode(raw, &info); err != nil {
			return nil, fmt.Errorf("game %s: %w", id, err)
		}
		index[id] = PathIndexEntry{GamePath: info.GamePath, SavePath: nonNil(info.SavePathInGame)}
	}

	if err := g.local.SetPaths(ctx, index); err != nil {
		return nil, err
	}
	return index, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// tempCopy materializes an attachment and opens the copy. Closing the
// returned file does not remove it; callers remove the path.
func (g *Games) tempCopy(ctx context.Context, id, name string) (*os.File, error) {
	att, err := g.store.GetAttachment(ctx, GamesCollection, id, name, docstow.AsFile)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(att.Path)
	if err != nil {
		os.Remove(att.Path)
		return nil, err
	}
	return f, nil
}
