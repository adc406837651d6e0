package library

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch invalidates cached documents whose files change until ctx is done.
// ready, when non-nil, is closed once the watcher is registered.
func (l *Library) Watch(ctx context.Context, ready chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	if err := w.Add(l.dir); err != nil {
		return fmt.Errorf("watching %s: %w", l.dir, err)
	}
	if ready != nil {
		close(ready)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if id, ok := idFromPath(ev.Name); ok {
				l.Invalidate(id)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("library watcher error", slog.Any("error", err))
		}
	}
}

func idFromPath(path string) (string, bool) {
	name := filepath.Base(path)
	ext := filepath.Ext(name)
	if !strings.EqualFold(ext, Extension) {
		return "", false
	}
	id := strings.TrimSuffix(name, ext)
	return id, ValidID(id)
}
