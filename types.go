package docstow

import (
	"strings"

	"github.com/aigotowork/docstow/internal/pathstore"
)

// Document is a JSON object stored under (collection, id).
type Document = map[string]interface{}

// Path addresses a value inside a document, one key or array index per element.
type Path []string

// All is the reserved path addressing the whole document.
var All = Path{pathstore.AllToken}

// ParsePath parses a dotted/bracketed path such as "record.score" or
// `saves[0]["file.name"]`. "#all" parses to All.
func ParsePath(s string) (Path, error) {
	segs, err := pathstore.Parse(s)
	if err != nil {
		return nil, err
	}
	return Path(segs), nil
}

// MustParsePath is like ParsePath but panics on error.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// P builds a path from its segments.
func P(segments ...string) Path {
	return Path(segments)
}

// IsAll reports whether p addresses the whole document.
func (p Path) IsAll() bool {
	return pathstore.IsAll(p)
}

// String formats p in the form accepted by ParsePath.
func (p Path) String() string {
	return pathstore.Format(p)
}

// UpdateFunc computes the new value at a path from the current one.
type UpdateFunc func(current interface{}, found bool) (interface{}, error)

// Layout decides how a collection maps documents onto files.
type Layout int

const (
	// LayoutFilePerDoc stores each document in <root>/<collection>/<id>.json.
	LayoutFilePerDoc Layout = iota

	// LayoutDirPerDoc stores each document as a directory
	// <root>/<collection>/<id>/ holding one <part>.json file per top-level key.
	// The first path segment names the part.
	LayoutDirPerDoc

	// LayoutSingleFile stores the whole collection in <root>/<collection>.json
	// with document ids as top-level keys.
	LayoutSingleFile
)

// String returns the layout name.
func (l Layout) String() string {
	switch l {
	case LayoutFilePerDoc:
		return "file-per-doc"
	case LayoutDirPerDoc:
		return "dir-per-doc"
	case LayoutSingleFile:
		return "single-file"
	default:
		return "unknown"
	}
}

// ReadMode selects how GetAttachment returns content.
type ReadMode int

const (
	// AsBuffer returns the attachment bytes in Attachment.Data.
	AsBuffer ReadMode = iota

	// AsFile copies the attachment to a temporary file and returns its path
	// in Attachment.Path. The caller removes the copy.
	AsFile
)

// Attachment describes a binary resource owned by a document.
type Attachment struct {
	// Name is the slash-separated name relative to the document directory.
	Name string `json:"name"`

	// Data holds the content when read AsBuffer.
	Data []byte `json:"-"`

	// Path is the temporary copy when read AsFile, or the stored file after a put.
	Path string `json:"path,omitempty"`

	Size     int64  `json:"size"`
	Hash     string `json:"hash"`
	MimeType string `json:"mime_type"`
}

// Stats contains statistics about an open store.
type Stats struct {
	// Number of registered collections
	Collections int `json:"collections"`

	// Number of files currently held in the document cache
	CachedFiles int `json:"cached_files"`

	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`

	// Number of file keys with queued or running operations
	BusyKeys int `json:"busy_keys"`

	// Total size of documents and attachments on disk in bytes
	TotalSize int64 `json:"total_size"`
}

// Field represents a structured logging field.
type Field struct {
	Key   string
	Value interface{}
}

// isJSONName reports whether name is a document file name.
func isJSONName(name string) bool {
	return strings.HasSuffix(name, jsonExt)
}
