package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/syssam/relmap/database/pool"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a configuration file when it changes.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once

	mu      sync.Mutex
	current *Config
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger sets the logger reporting reload failures.
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) {
		w.logger = l
	}
}

// WithDebounce sets how long the watcher waits for writes to settle
// before reloading.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// Watch loads the configuration at path and calls onChange with every
// valid configuration the file is later rewritten with. Invalid rewrites
// are logged and ignored.
func Watch(path string, onChange func(*Config), opts ...WatchOption) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: watch: %w", err)
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		logger:   slog.Default(),
		debounce: defaultDebounce,
		watcher:  fw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		current:  cfg,
	}
	for _, opt := range opts {
		opt(w)
	}
	// Editors replace files on save, so the directory is watched.
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return nil, errors.Join(fmt.Errorf("config: watch: %w", err), fw.Close())
	}
	go w.run()
	return w, nil
}

// Config returns the last valid configuration.
func (w *Watcher) Config() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		<-w.done
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-w.stop:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "path", w.path, "error", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "path", w.path, "error", err)
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.logger.Info("config reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(cfg)
	}
}

// ApplyPool returns an onChange function applying reloaded pool settings
// to p.
func ApplyPool(p *pool.Pool, logger *slog.Logger) func(*Config) {
	return func(cfg *Config) {
		if err := p.Apply(cfg.Pool); err != nil {
			logger.Warn("pool settings rejected", "error", err)
			return
		}
		logger.Info("pool settings applied", "max_size", cfg.Pool.MaxSize, "min_size", cfg.Pool.MinSize)
	}
}
