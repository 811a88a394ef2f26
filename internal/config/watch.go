package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounceInterval batches rapid rewrites of the document (editor
// save patterns often produce several events) into one log line.
const watchDebounceInterval = 500 * time.Millisecond

// WatchAppConfig watches a local app-config document and logs when it
// changes. The document is consumed once at startup; a change therefore
// only takes effect after a restart, and the log line says so. Remote
// (http) documents are not watchable and return an error.
//
// Blocks until the context is cancelled.
func WatchAppConfig(ctx context.Context, path string, logger *slog.Logger) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolving app config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directory: editors replace files via rename,
	// which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching app config directory: %w", err)
	}

	logger.Info("app config watcher started", slog.String("path", abs))

	var pending bool

	ticker := time.NewTicker(watchDebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if filepath.Clean(event.Name) != abs {
				continue
			}

			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				pending = true
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			logger.Warn("app config watcher error", slog.Any("error", err))

		case <-ticker.C:
			if pending {
				pending = false
				logger.Warn("app config document changed; restart to apply",
					slog.String("path", abs),
				)
			}
		}
	}
}
