package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/entrhq/shutter/pkg/logging"
)

// Watcher reloads a FileStore when its file is edited outside the process.
// Only OS-backed stores can be watched.
type Watcher struct {
	store    *FileStore
	logger   *logging.Logger
	debounce time.Duration
}

// NewWatcher returns a watcher for store.
func NewWatcher(store *FileStore, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	return &Watcher{store: store, logger: logger, debounce: 100 * time.Millisecond}
}

// Run watches until ctx is cancelled. The parent directory is watched so
// editors that replace the file by rename are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.store.Path())
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	target := filepath.Clean(w.store.Path())

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			fire = timer.C
		case <-fire:
			fire = nil
			changed, err := w.store.Reload(ctx)
			if err != nil {
				w.logger.Warnf("config reload failed: %v", err)
				continue
			}
			if changed {
				w.logger.Infof("config file %s changed", target)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("config watcher error: %v", err)
		}
	}
}
