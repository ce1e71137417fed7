package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/opswatch/llm-orchestrator/models"
)

// debounceDelay coalesces the burst of filesystem events an editor save
// produces into a single reload
const debounceDelay = 100 * time.Millisecond

// ReloadFunc receives the freshly validated provider set
type ReloadFunc func(specs []models.ProviderSpec)

// Watcher reloads the providers file when it changes on disk. Invalid files
// are logged and ignored; the previous provider set stays active.
type Watcher struct {
	path     string
	onReload ReloadFunc
	logger   *zap.Logger

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	stop     chan struct{}

	mu       sync.Mutex
	debounce *time.Timer
}

// NewWatcher creates a watcher for the given providers file
func NewWatcher(path string, onReload ReloadFunc, logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the parent directory: editors and config tooling replace the
	// file rather than writing it in place, which drops the watch on the
	// file itself.
	dir := filepath.Dir(path)
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Watcher{
		path:     path,
		onReload: onReload,
		logger:   logger,
		watcher:  fsWatcher,
		stop:     make(chan struct{}),
	}, nil
}

// Start runs the watch loop until Stop is called
func (w *Watcher) Start() {
	w.logger.Info("watching providers file", zap.String("path", w.path))

	go func() {
		base := filepath.Base(w.path)
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != base {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				w.scheduleReload()

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("providers file watch error", zap.Error(err))

			case <-w.stop:
				return
			}
		}
	}()
}

// Stop ends the watch loop and releases the inotify handle
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		_ = w.watcher.Close()

		w.mu.Lock()
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.mu.Unlock()

		w.logger.Info("stopped watching providers file")
	})
}

// scheduleReload (re)arms the debounce timer
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(debounceDelay, w.reload)
}

// reload parses and validates the file, handing valid specs to the callback
func (w *Watcher) reload() {
	specs, err := LoadProviders(w.path)
	if err != nil {
		w.logger.Error("providers file reload rejected, keeping previous set",
			zap.String("path", w.path),
			zap.Error(err))
		return
	}

	w.logger.Info("providers file reloaded",
		zap.String("path", w.path),
		zap.Int("providers", len(specs)))
	w.onReload(specs)
}
