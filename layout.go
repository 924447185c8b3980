package docstow

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aigotowork/docstow/internal/fsutil"
	"github.com/aigotowork/docstow/internal/index"
	"github.com/aigotowork/docstow/internal/pathstore"
)

const (
	jsonExt = ".json"

	// LockFileName is the single-instance lock inside the data root.
	LockFileName = ".docstow.lock"
)

// targetKind tells how a resolved path relates to its backing file.
type targetKind int

const (
	// kindValue addresses a value inside the file.
	kindValue targetKind = iota

	// kindFile addresses the whole file (file-per-doc #all).
	kindFile

	// kindPart addresses one part file of a directory document as a whole.
	// Reads of a missing part materialize an object default.
	kindPart

	// kindEntry addresses one document inside a single-file collection as a whole.
	kindEntry
)

// target is one backing file plus the location inside it.
type target struct {
	key   string // absolute file path; doubles as cache and queue key
	inner []string
	kind  targetKind
}

// collectionLayout returns the layout of a registered collection.
func (s *store) collectionLayout(collection string) (Layout, error) {
	layout, ok := s.collections[collection]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return layout, nil
}

// checkDoc validates collection and id and returns the collection layout.
func (s *store) checkDoc(collection, id string) (Layout, error) {
	layout, err := s.collectionLayout(collection)
	if err != nil {
		return 0, err
	}
	if err := index.ValidateID(id); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return layout, nil
}

// collectionFile is the backing file of a single-file collection.
func (s *store) collectionFile(collection string) string {
	return filepath.Join(s.root, collection+jsonExt)
}

// collectionDir holds the documents (and attachment directories) of a collection.
func (s *store) collectionDir(collection string) string {
	return filepath.Join(s.root, collection)
}

// docDir holds the attachments of a document, and its parts for LayoutDirPerDoc.
func (s *store) docDir(collection, id string) string {
	return filepath.Join(s.root, collection, id)
}

// docFile is the backing file of a file-per-doc document.
func (s *store) docFile(collection, id string) string {
	return filepath.Join(s.root, collection, id+jsonExt)
}

// partFile is one part of a directory document.
func (s *store) partFile(collection, id, part string) string {
	return filepath.Join(s.docDir(collection, id), part+jsonExt)
}

// resolve maps (collection, id, path) to the file and inner path it touches.
// Whole directory documents span several files and are handled by callers.
func (s *store) resolve(layout Layout, collection, id string, path Path) (target, error) {
	if len(path) == 0 {
		return target{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}

	switch layout {
	case LayoutFilePerDoc:
		kind := kindValue
		if path.IsAll() {
			kind = kindFile
		}
		return target{key: s.docFile(collection, id), inner: path, kind: kind}, nil

	case LayoutSingleFile:
		t := target{key: s.collectionFile(collection), inner: append([]string{id}, path...)}
		if path.IsAll() {
			t.inner = []string{id}
			t.kind = kindEntry
		}
		return t, nil

	case LayoutDirPerDoc:
		part := path[0]
		if err := index.ValidateID(part); err != nil {
			return target{}, fmt.Errorf("%w: part name: %v", ErrInvalidPath, err)
		}
		t := target{key: s.partFile(collection, id, part), inner: path[1:]}
		if len(path) == 1 {
			t.inner = []string{pathstore.AllToken}
			t.kind = kindPart
		}
		return t, nil
	}

	return target{}, fmt.Errorf("unsupported layout %v", layout)
}

// partNames lists the part files of a directory document, sorted.
func (s *store) partNames(collection, id string) ([]string, error) {
	files, err := fsutil.ListFiles(s.docDir(collection, id))
	if err != nil {
		return nil, err
	}

	var parts []string
	for _, name := range files {
		if !isJSONName(name) || fsutil.IsHidden(name) {
			continue
		}
		parts = append(parts, strings.TrimSuffix(name, jsonExt))
	}
	sort.Strings(parts)
	return parts, nil
}

// docIDs lists the document ids of a file-per-doc or dir-per-doc collection, sorted.
func (s *store) docIDs(layout Layout, collection string) ([]string, error) {
	dir := s.collectionDir(collection)

	var names []string
	var err error
	if layout == LayoutDirPerDoc {
		names, err = fsutil.ListDirs(dir)
	} else {
		var files []string
		files, err = fsutil.ListFiles(dir)
		for _, name := range files {
			if isJSONName(name) {
				names = append(names, strings.TrimSuffix(name, jsonExt))
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", collection, err)
	}

	ids := names[:0]
	for _, id := range names {
		if index.ValidateID(id) == nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// attachmentPath resolves an attachment name to its file.
func (s *store) attachmentPath(layout Layout, collection, id, name string) (string, error) {
	if err := index.ValidateRelativeName(name); err != nil {
		return "", err
	}
	if layout == LayoutDirPerDoc && !strings.Contains(name, "/") && isJSONName(name) {
		return "", fmt.Errorf("%w: %q is reserved for document parts", ErrInvalidName, name)
	}
	return filepath.Join(s.docDir(collection, id), filepath.FromSlash(name)), nil
}

// rel returns key relative to the data root for messages.
func (s *store) rel(key string) string {
	if r, err := filepath.Rel(s.root, key); err == nil {
		return filepath.ToSlash(r)
	}
	return key
}

// isDocumentFile reports whether an absolute path names a document file of a
// registered collection, as opposed to an attachment or foreign file.
func (s *store) isDocumentFile(path string) bool {
	rel, err := filepath.Rel(s.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	return IsDocumentFile(s.collections, filepath.ToSlash(rel))
}

// IsDocumentFile reports whether rel, a slash path relative to a data root,
// names a document file of one of the given collections. Anything else under
// a collection is an attachment.
func IsDocumentFile(layouts map[string]Layout, rel string) bool {
	segs := strings.Split(rel, "/")
	name := segs[len(segs)-1]
	if !isJSONName(name) || fsutil.IsHidden(name) {
		return false
	}

	switch len(segs) {
	case 1:
		layout, ok := layouts[strings.TrimSuffix(name, jsonExt)]
		return ok && layout == LayoutSingleFile
	case 2:
		layout, ok := layouts[segs[0]]
		return ok && layout == LayoutFilePerDoc
	case 3:
		layout, ok := layouts[segs[0]]
		return ok && layout == LayoutDirPerDoc
	}
	return false
}
