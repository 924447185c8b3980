package docstow

import (
	"errors"

	"github.com/aigotowork/docstow/internal/fsutil"
	"github.com/aigotowork/docstow/internal/index"
)

// Common errors returned by docstow operations.
var (
	// ErrUnknownCollection is returned for a collection that was not registered with WithCollection.
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrInvalidID is returned for document ids that are not a safe single path segment.
	ErrInvalidID = errors.New("invalid document id")

	// ErrInvalidName is returned for attachment names that are not safe relative paths.
	ErrInvalidName = index.ErrInvalidName

	// ErrInvalidPath is returned for empty or malformed paths.
	ErrInvalidPath = errors.New("invalid path")

	// ErrPathConflict is returned when a path walks through a scalar value,
	// or a whole document is replaced by a non-object.
	ErrPathConflict = errors.New("path conflicts with existing value")

	// ErrCorruptedData is returned when a document file cannot be parsed as a JSON object.
	ErrCorruptedData = errors.New("data corrupted")

	// ErrAttachmentNotFound is returned by GetAttachment for a missing attachment.
	ErrAttachmentNotFound = errors.New("attachment not found")

	// ErrFileTooLarge is returned when an attachment exceeds the configured maximum size.
	ErrFileTooLarge = errors.New("file exceeds maximum attachment size")

	// ErrLocked is returned by Open when another instance owns the data root.
	ErrLocked = fsutil.ErrLocked

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store is closed")
)
