package docstow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aigotowork/docstow/internal/blob"
	"github.com/aigotowork/docstow/internal/fsutil"
	"github.com/aigotowork/docstow/internal/queue"
)

const defaultMimeType = "application/octet-stream"

// PutAttachment stores r at <collection>/<id>/<name>, replacing any previous content.
func (s *store) PutAttachment(ctx context.Context, collection, id, name string, r io.Reader, opts ...AttachmentOption) (*Attachment, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return nil, err
	}
	file, err := s.attachmentPath(layout, collection, id, name)
	if err != nil {
		return nil, err
	}

	// Apply options
	options := &attachmentOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return queue.Do(ctx, s.queue, file, func() (*Attachment, error) {
		info, err := blob.WriteFile(file, r, s.options.maxAttachmentSize, s.options.chunkSize)
		if errors.Is(err, blob.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %s/%s/%s", ErrFileTooLarge, collection, id, name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to store attachment %s: %w", name, err)
		}

		s.logger.Debug("attachment stored",
			Field{"collection", collection}, Field{"id", id}, Field{"name", name}, Field{"size", info.Size})

		return &Attachment{
			Name:     name,
			Path:     file,
			Size:     info.Size,
			Hash:     info.Hash,
			MimeType: mimeType(name, options.mimeType),
		}, nil
	})
}

// GetAttachment reads an attachment as bytes or as a temporary copy.
func (s *store) GetAttachment(ctx context.Context, collection, id, name string, mode ReadMode) (*Attachment, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return nil, err
	}
	file, err := s.attachmentPath(layout, collection, id, name)
	if err != nil {
		return nil, err
	}

	return queue.Do(ctx, s.queue, file, func() (*Attachment, error) {
		att := &Attachment{Name: name, MimeType: mimeType(name, "")}

		switch mode {
		case AsBuffer:
			data, err := os.ReadFile(file)
			if isNotExist(err) {
				return nil, fmt.Errorf("%w: %s/%s/%s", ErrAttachmentNotFound, collection, id, name)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment %s: %w", name, err)
			}
			att.Data = data
			att.Size = int64(len(data))
			att.Hash = blob.ComputeSHA256FromBytes(data)

		case AsFile:
			info, err := blob.HashFile(file)
			if isNotExist(err) {
				return nil, fmt.Errorf("%w: %s/%s/%s", ErrAttachmentNotFound, collection, id, name)
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment %s: %w", name, err)
			}
			tmp, err := blob.Materialize(file, s.options.tempDir)
			if err != nil {
				return nil, err
			}
			att.Path = tmp
			att.Size = info.Size
			att.Hash = info.Hash

		default:
			return nil, fmt.Errorf("unknown read mode %d", mode)
		}

		return att, nil
	})
}

// RemoveAttachment deletes an attachment if present.
func (s *store) RemoveAttachment(ctx context.Context, collection, id, name string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return err
	}
	file, err := s.attachmentPath(layout, collection, id, name)
	if err != nil {
		return err
	}

	return s.queue.Run(ctx, file, func() error {
		if err := fsutil.RemoveFile(file); err != nil {
			return fmt.Errorf("failed to remove attachment %s: %w", name, err)
		}
		// Drop directories the removal left empty, but keep the document directory.
		fsutil.PruneEmptyDirs(filepath.Dir(file), s.docDir(collection, id))
		return nil
	})
}

// ListAttachments returns attachment names below dir, sorted.
func (s *store) ListAttachments(ctx context.Context, collection, id, dir string) ([]string, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	layout, err := s.checkDoc(collection, id)
	if err != nil {
		return nil, err
	}

	docDir := s.docDir(collection, id)
	walkRoot := docDir
	prefix := ""
	if dir = strings.Trim(dir, "/"); dir != "" {
		if _, err := s.attachmentPath(layout, collection, id, dir); err != nil {
			return nil, err
		}
		walkRoot = filepath.Join(docDir, filepath.FromSlash(dir))
		prefix = dir
	}

	if fsutil.FileExists(walkRoot) {
		if prefix == "" {
			return nil, nil
		}
		return []string{prefix}, nil
	}

	var names []string
	err = fsutil.WalkFiles(walkRoot, nil, func(rel string, _ fs.FileInfo) error {
		name := path.Join(prefix, rel)
		if layout == LayoutDirPerDoc && !strings.Contains(name, "/") && isJSONName(name) {
			return nil
		}
		names = append(names, name)
		return nil
	})
	if isNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list attachments: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

// mimeType returns hint, or the type registered for name's extension.
func mimeType(name, hint string) string {
	if hint != "" {
		return hint
	}
	ext := strings.ToLower(path.Ext(name))
	switch ext {
	case ".webp":
		return "image/webp"
	case "":
		return defaultMimeType
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return defaultMimeType
}
