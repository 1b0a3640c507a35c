package config

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ReloadObserver receives the outcome of every reload attempt.
type ReloadObserver interface {
	RecordConfigReload(status string)
}

// ApplyFunc applies a freshly loaded configuration to running components.
type ApplyFunc func(next, previous *Config) error

// Reloader loads, validates and applies configuration changes.
type Reloader struct {
	apply    ApplyFunc
	observer ReloadObserver
	logger   *slog.Logger

	mu          sync.Mutex
	current     *Config
	reloadCount int64
	lastReload  time.Time
}

// NewReloader creates a reloader starting from current.
func NewReloader(current *Config, apply ApplyFunc, observer ReloadObserver, logger *slog.Logger) *Reloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reloader{
		apply:    apply,
		observer: observer,
		logger:   logger,
		current:  current,
	}
}

// Reload reads path and applies it. On failure the current configuration is
// kept. Reload has the signature expected by Watcher.
func (r *Reloader) Reload(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next, err := Load(path)
	if err != nil {
		r.record("validation_failed")
		return err
	}

	if err := r.apply(next, r.current); err != nil {
		r.record("application_failed")
		return fmt.Errorf("configuration application failed: %w", err)
	}

	r.current = next
	r.reloadCount++
	r.lastReload = time.Now()
	r.record("success")
	r.logger.Info("Configuration applied", "reload_count", r.reloadCount)
	return nil
}

// Current returns the configuration in effect.
func (r *Reloader) Current() *Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Stats returns the number of successful reloads and the time of the last one.
func (r *Reloader) Stats() (int64, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadCount, r.lastReload
}

func (r *Reloader) record(status string) {
	if r.observer != nil {
		r.observer.RecordConfigReload(status)
	}
}
