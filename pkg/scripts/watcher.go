package scripts

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a Catalog when its manifest file changes on disk.
// The parent directory is watched so editors that replace the file by rename
// are still seen.
type Watcher struct {
	catalog  *Catalog
	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger
	done     chan struct{}
	timer    *time.Timer
	mu       sync.Mutex
	stopOnce sync.Once
	onReload func(error)
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	Debounce time.Duration
	Logger   zerolog.Logger
	OnReload func(error) // optional, called after every reload attempt
}

// NewWatcher creates a watcher for catalog's manifest
func NewWatcher(catalog *Catalog, cfg WatcherConfig) (*Watcher, error) {
	if catalog.Path() == "" {
		return nil, fmt.Errorf("catalog has no manifest path to watch")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 200 * time.Millisecond
	}
	return &Watcher{
		catalog:  catalog,
		watcher:  fw,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With().Str("component", "scripts.watcher").Logger(),
		done:     make(chan struct{}),
		onReload: cfg.OnReload,
	}, nil
}

// Start begins watching
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.catalog.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.eventLoop()

	w.logger.Info().Str("path", w.catalog.Path()).Msg("scripts.watch.start")
	return nil
}

// Stop stops watching; safe to call more than once
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) eventLoop() {
	target := filepath.Clean(w.catalog.Path())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("scripts.watch.error")

		case <-w.done:
			return
		}
	}
}

// schedule coalesces bursts of writes into one reload
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		err := w.catalog.Reload()
		if w.onReload != nil {
			w.onReload(err)
		}
	})
}
