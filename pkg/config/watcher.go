package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a configuration file after writes to it settle.
//
// The containing directory is watched rather than the file, so editors that
// replace the file by rename are still seen. Reloads run on the watch loop,
// one at a time, and never after Stop returns.
type Watcher struct {
	path     string
	abs      string
	fsw      *fsnotify.Watcher
	reload   func(string) error
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewWatcher creates a watcher for path. reload receives path on every
// settled change; Reloader.Reload fits.
func NewWatcher(path string, reload func(string) error, logger *slog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %s: %w", path, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		path:     path,
		abs:      abs,
		fsw:      fsw,
		reload:   reload,
		logger:   logger,
		debounce: 500 * time.Millisecond,
	}, nil
}

// SetDebounce changes the quiet period before a reload. It must be called
// before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start begins watching. The loop ends on Stop or when ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := w.fsw.Add(filepath.Dir(w.abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.abs), err)
	}

	w.running = true
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.loop(ctx, w.stopCh, w.done)

	w.logger.Info("Config watcher started", "config_path", w.path)
	return nil
}

// Stop ends the loop, waits for an in-flight reload and releases the
// underlying notifier.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	stopCh, done := w.stopCh, w.done
	w.mu.Unlock()

	close(stopCh)
	<-done
	return w.fsw.Close()
}

// IsRunning reports whether the watch loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("Config file event detected", "event", event.Op.String(), "file", event.Name)
			timer.Reset(w.debounce)

		case <-timer.C:
			w.apply()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", "error", err)

		case <-stopCh:
			w.logger.Info("Config watcher stopped")
			return

		case <-ctx.Done():
			w.logger.Info("Config watcher context cancelled")
			return
		}
	}
}

// relevant reports whether event changed the watched file's content.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name, err := filepath.Abs(event.Name)
	return err == nil && name == w.abs
}

func (w *Watcher) apply() {
	start := time.Now()
	if err := w.reload(w.path); err != nil {
		w.logger.Error("Config reload failed", "config_path", w.path, "error", err, "duration", time.Since(start))
		return
	}
	w.logger.Info("Config reload completed", "config_path", w.path, "duration", time.Since(start))
}
