package library

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/raido/internal/scheduler"
	"github.com/starford/raido/internal/storage"
)

// Watch starts an fsnotify watcher on the library root and imports
// image files as they appear or change, until ctx is cancelled.
//
// New directories created at runtime are automatically added to the
// watch list. Events are debounced so a file written in several chunks
// is imported once; imports go through the normal scheduler path, so
// unchanged content merges instead of duplicating.
func (s *Service) Watch(ctx context.Context, root string, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	// pending accumulates changed paths until the debounce timer
	// fires, then the whole set goes in as one batch.
	pending := make(map[string]struct{})
	var debounce *time.Timer
	var debounceCh <-chan time.Time

	schedule := func() {
		if debounce == nil {
			debounce = time.NewTimer(200 * time.Millisecond)
			debounceCh = debounce.C
		} else {
			debounce.Reset(200 * time.Millisecond)
		}
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)

		sources := make([]scheduler.Source, 0, len(paths))
		for _, rel := range paths {
			sources = append(sources, libSource{fs: s.fs, rel: rel})
		}
		if _, err := s.sched.EnqueueBatch(ctx, sources, nil); err != nil {
			logger.Warn("watcher: enqueue failed", slog.Int("files", len(paths)), slog.String("error", err.Error()))
			return
		}
		logger.Debug("watcher: imported", slog.Int("files", len(paths)))
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-debounceCh:
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories join the watch list; their contents
			// arrive via the pending set like any other create.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if strings.HasPrefix(filepath.Base(absPath), ".") {
						continue
					}
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
						continue
					}
					queueExisting(s.fs, root, absPath, pending)
					schedule()
					continue
				}
			}

			if !storage.IsImage(absPath) {
				continue
			}
			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil || strings.HasPrefix(rel, ".") {
				continue
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				pending[rel] = struct{}{}
				schedule()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds dir and every non-hidden subdirectory to the
// watcher.
func addDirsRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(p)
	})
}

// queueExisting stages image files already present under a newly
// watched directory.
func queueExisting(provider storage.Provider, root, dir string, pending map[string]struct{}) {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return
	}
	files, err := provider.ListImages(rel)
	if err != nil {
		return
	}
	for _, f := range files {
		pending[f.Path] = struct{}{}
	}
}
