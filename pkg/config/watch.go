package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ChangeFunc receives the previous and the freshly loaded configuration.
type ChangeFunc func(prev, next *Config)

// Watcher reloads a configuration file when it changes on disk.
type Watcher struct {
	path   string
	delay  time.Duration
	logger zerolog.Logger

	mu        sync.RWMutex
	current   *Config
	callbacks []ChangeFunc
}

// NewWatcher creates a watcher for path, starting from the already loaded cfg.
func NewWatcher(path string, cfg *Config, logger zerolog.Logger) *Watcher {
	return &Watcher{
		path:    path,
		delay:   500 * time.Millisecond,
		logger:  logger.With().Str("component", "config-watcher").Logger(),
		current: cfg,
	}
}

// SetDebounce changes how long the watcher waits for writes to settle.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.delay = d
}

// Current returns the last successfully loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnChange registers fn to run after every successful reload.
func (w *Watcher) OnChange(fn ChangeFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// Run watches the file until ctx is done. The parent directory is watched so
// that editors replacing the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(w.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}

	w.logger.Info().Str("path", target).Msg("Watching configuration file")

	var reloadTimer *time.Timer
	defer func() {
		if reloadTimer != nil {
			reloadTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Configuration file changed")

			if reloadTimer != nil {
				reloadTimer.Stop()
			}
			reloadTimer = time.AfterFunc(w.delay, w.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to reload configuration, keeping the previous one")
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	callbacks := append([]ChangeFunc(nil), w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(prev, next)
	}
	w.logger.Info().Msg("Configuration reloaded")
}
