package collection

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/aigotowork/docstow"
)

// Category is a user-defined group of games.
type Category struct {
	ID    string   `json:"id"`
	Name  string   `json:"name"`
	Games []string `json:"games"`
}

// Collections manages game categories. All categories share one file with
// category ids as top-level keys.
type Collections struct {
	store docstow.Store

	// mu serializes read-modify-write updates and removals of categories.
	mu sync.Mutex
}

// NewCollections creates a categories manager.
func NewCollections(store docstow.Store) *Collections {
	return &Collections{store: store}
}

// Create adds an empty category and returns it.
func (c *Collections) Create(ctx context.Context, name string) (Category, error) {
	cat := Category{ID: newID(), Name: name, Games: []string{}}
	if err := c.store.SetValue(ctx, CollectionsCollection, cat.ID, docstow.All, cat); err != nil {
		return Category{}, err
	}
	return cat, nil
}

// Get returns one category.
func (c *Collections) Get(ctx context.Context, id string) (Category, error) {
	raw, err := c.store.GetValue(ctx, CollectionsCollection, id, docstow.All, nil)
	if err != nil {
		return Category{}, err
	}
	doc, _ := raw.(map[string]interface{})
	if len(doc) == 0 {
		return Category{}, fmt.Errorf("%w: category %s", ErrNotFound, id)
	}

	var cat Category
	if err := decode(doc, &cat); err != nil {
		return Category{}, err
	}
	cat.ID = id
	cat.Games = nonNil(cat.Games)
	return cat, nil
}

// Rename changes a category's name.
func (c *Collections) Rename(ctx context.Context, id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.Get(ctx, id); err != nil {
		return err
	}
	return c.store.SetValue(ctx, CollectionsCollection, id, docstow.P("name"), name)
}

// Delete removes a category. The games themselves are untouched.
func (c *Collections) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.store.RemoveDoc(ctx, CollectionsCollection, id)
}

// AddGame appends a game to a category unless it is already there.
func (c *Collections) AddGame(ctx context.Context, id, gameID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cat, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	for _, g := range cat.Games {
		if g == gameID {
			return nil
		}
	}
	return c.store.SetValue(ctx, CollectionsCollection, id, docstow.P("games"), append(cat.Games, gameID))
}

// RemoveGame drops a game from a category.
func (c *Collections) RemoveGame(ctx context.Context, id, gameID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cat, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	return c.removeGame(ctx, cat, gameID)
}

// RemoveGameEverywhere drops a game from every category holding it.
func (c *Collections) RemoveGameEverywhere(ctx context.Context, gameID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cats, err := c.Categories(ctx)
	if err != nil {
		return err
	}
	for _, cat := range cats {
		if err := c.removeGame(ctx, cat, gameID); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collections) removeGame(ctx context.Context, cat Category, gameID string) error {
	kept := make([]string, 0, len(cat.Games))
	for _, g := range cat.Games {
		if g != gameID {
			kept = append(kept, g)
		}
	}
	if len(kept) == len(cat.Games) {
		return nil
	}
	return c.store.SetValue(ctx, CollectionsCollection, cat.ID, docstow.P("games"), kept)
}

// Categories returns every category sorted by name, then id.
func (c *Collections) Categories(ctx context.Context) ([]Category, error) {
	docs, err := c.store.GetAllDocs(ctx, CollectionsCollection)
	if err != nil {
		return nil, err
	}

	cats := make([]Category, 0, len(docs))
	for id, doc := range docs {
		var cat Category
		if err := decode(doc, &cat); err != nil {
			return nil, fmt.Errorf("category %s: %w", id, err)
		}
		cat.ID = id
		cat.Games = nonNil(cat.Games)
		cats = append(cats, cat)
	}

	col := collate.New(language.Und)
	sort.Slice(cats, func(i, j int) bool {
		if cmp := col.CompareString(cats[i].Name, cats[j].Name); cmp != 0 {
			return cmp < 0
		}
		return cats[i].ID < cats[j].ID
	})
	return cats, nil
}

// CategoriesOf returns the ids of categories containing a game, in Categories order.
func (c *Collections) CategoriesOf(ctx context.Context, gameID string) ([]string, error) {
	cats, err := c.Categories(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, cat := range cats {
		for _, g := range cat.Games {
			if g == gameID {
				ids = append(ids, cat.ID)
				break
			}
		}
	}
	return ids, nil
}
