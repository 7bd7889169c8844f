// Package watch re-runs staging whenever the durable index changes.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// Handler is invoked once per settled burst of index writes.
type Handler func(ctx context.Context)

// IndexWatcher watches one file and calls a handler after writes to it have
// been quiet for the debounce delay.
type IndexWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	handler Handler

	// Debouncing
	debounceDelay time.Duration
	tick          time.Duration
	pending       time.Time
}

// NewIndexWatcher creates a watcher for the file at path.
func NewIndexWatcher(path string, handler Handler) (*IndexWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	// Writers replace the file, so the directory is what gets watched.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	return &IndexWatcher{
		watcher:       watcher,
		path:          filepath.Clean(path),
		handler:       handler,
		debounceDelay: 500 * time.Millisecond,
		tick:          100 * time.Millisecond,
	}, nil
}

// SetDebounceDelay sets the debounce delay
func (w *IndexWatcher) SetDebounceDelay(delay time.Duration) {
	w.debounceDelay = delay
}

// Run processes events until ctx is done. The handler runs on this
// goroutine, so runs never overlap.
func (w *IndexWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	log.Info("Watching index", "path", w.path)
	for {
		select {
		case <-ctx.Done():
			log.Info("Index watcher stopped")
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("File watcher error", "err", err)

		case now := <-ticker.C:
			if !w.pending.IsZero() && now.Sub(w.pending) >= w.debounceDelay {
				w.pending = time.Time{}
				w.handler(ctx)
			}
		}
	}
}

func (w *IndexWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	w.pending = time.Now()
	log.Debug("Index change detected", "op", event.Op.String())
}
