package docstow

// DefaultMaxAttachmentSize bounds a single attachment (512MB).
const DefaultMaxAttachmentSize int64 = 512 * 1024 * 1024

// StoreOption is a function that configures a Store.
type StoreOption func(*storeOptions)

// storeOptions holds configuration options for opening a store.
type storeOptions struct {
	logger            Logger
	collections       map[string]Layout
	watch             bool
	tempDir           string
	maxAttachmentSize int64
	chunkSize         int64
}

func defaultStoreOptions() *storeOptions {
	return &storeOptions{
		logger:            NewDefaultLogger(),
		collections:       make(map[string]Layout),
		maxAttachmentSize: DefaultMaxAttachmentSize,
	}
}

// WithLogger sets a custom logger for the store.
func WithLogger(logger Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithCollection registers a collection and its on-disk layout.
// Operations on unregistered collections fail with ErrUnknownCollection.
//
// Example:
//
//	store, err := docstow.Open(dir,
//		docstow.WithCollection("games", docstow.LayoutDirPerDoc),
//		docstow.WithCollection("collections", docstow.LayoutSingleFile),
//	)
func WithCollection(name string, layout Layout) StoreOption {
	return func(o *storeOptions) {
		o.collections[name] = layout
	}
}

// WithExternalChangeWatch makes the store watch its data root and drop cached
// documents whose files are changed by other programs.
func WithExternalChangeWatch() StoreOption {
	return func(o *storeOptions) {
		o.watch = true
	}
}

// WithTempDir sets where GetAttachment(..., AsFile) places temporary copies.
// Defaults to os.TempDir().
func WithTempDir(dir string) StoreOption {
	return func(o *storeOptions) {
		o.tempDir = dir
	}
}

// WithMaxAttachmentSize sets the maximum attachment size in bytes (0 for unlimited).
func WithMaxAttachmentSize(bytes int64) StoreOption {
	return func(o *storeOptions) {
		o.maxAttachmentSize = bytes
	}
}

// WithChunkSize sets the buffer size used when streaming attachments.
func WithChunkSize(bytes int64) StoreOption {
	return func(o *storeOptions) {
		o.chunkSize = bytes
	}
}

// AttachmentOption is a function that configures a PutAttachment operation.
type AttachmentOption func(*attachmentOptions)

// attachmentOptions holds options for PutAttachment.
type attachmentOptions struct {
	mimeType string
}

// WithMimeType specifies the MIME type of an attachment instead of deriving
// it from the name's extension.
//
// Example:
//
//	store.PutAttachment(ctx, "games", id, "images/cover.webp", r, docstow.WithMimeType("image/webp"))
func WithMimeType(mime string) AttachmentOption {
	return func(o *attachmentOptions) {
		o.mimeType = mime
	}
}
