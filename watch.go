package docstow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aigotowork/docstow/internal/fsutil"
)

// changeWatcher drops cached documents whose files change on disk.
// fsnotify watches are not recursive, so the root, every collection directory
// and every directory document are watched individually; directories created
// later are added as their create events arrive.
type changeWatcher struct {
	store   *store
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

func newChangeWatcher(s *store) (*changeWatcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	w := &changeWatcher{
		store:   s,
		watcher: fw,
		done:    make(chan struct{}),
	}

	if err := w.watchDir(s.root); err != nil {
		fw.Close()
		return nil, err
	}
	for name, layout := range s.collections {
		if layout == LayoutSingleFile {
			continue
		}
		if err := w.watchCollection(name, layout); err != nil {
			fw.Close()
			return nil, err
		}
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// watchCollection watches a collection directory and, for directory
// documents, each document directory. A missing directory is skipped.
func (w *changeWatcher) watchCollection(name string, layout Layout) error {
	dir := w.store.collectionDir(name)
	if !fsutil.DirExists(dir) {
		return nil
	}
	if err := w.watchDir(dir); err != nil {
		return err
	}
	if layout != LayoutDirPerDoc {
		return nil
	}

	ids, err := fsutil.ListDirs(dir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.watchDir(filepath.Join(dir, id)); err != nil {
			return err
		}
	}
	return nil
}

func (w *changeWatcher) watchDir(dir string) error {
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (w *changeWatcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *changeWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.store.logger.Warn("file watcher error", Field{"error", err})
		}
	}
}

func (w *changeWatcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.watchNewDir(event.Name)
			return
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	if fsutil.IsTemp(filepath.Base(event.Name)) || !w.store.isDocumentFile(event.Name) {
		return
	}
	if !w.store.cache.Has(event.Name) {
		return
	}

	// Queue the invalidation behind in-flight operations on the file.
	key := event.Name
	if err := w.store.queue.Run(context.Background(), key, func() error {
		w.store.cache.Invalidate(key)
		return nil
	}); err != nil {
		return
	}
	w.store.logger.Debug("external change detected", Field{"file", w.store.rel(key)})
}

// watchNewDir starts watching a collection or document directory created
// after the watcher started.
func (w *changeWatcher) watchNewDir(dir string) {
	rel, err := filepath.Rel(w.store.root, dir)
	if err != nil {
		return
	}
	segs := strings.Split(filepath.ToSlash(rel), "/")
	if len(segs) > 2 || strings.HasPrefix(rel, "..") {
		return
	}

	layout, ok := w.store.collections[segs[0]]
	if !ok || layout == LayoutSingleFile {
		return
	}

	var watchErr error
	if len(segs) == 1 {
		watchErr = w.watchCollection(segs[0], layout)
	} else if layout == LayoutDirPerDoc {
		watchErr = w.watchDir(dir)
	}
	if watchErr != nil {
		w.store.logger.Warn("failed to watch new directory", Field{"dir", dir}, Field{"error", watchErr})
	}
}
