package configwatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoCodeAlone/modubot"
	"github.com/GoCodeAlone/modubot/config"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 250 * time.Millisecond

var ErrWatcherRunning = errors.New("config watcher already running")

// Watcher reloads the host configuration file when it changes and applies
// the module differences to the host.
type Watcher struct {
	path     string
	host     ModuleHost
	logger   modubot.Logger
	debounce time.Duration
	load     func(path string) (*config.HostConfig, error)
	onApply  func(Diff, error)

	mu      sync.Mutex
	current *config.HostConfig
	running bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the watcher logger.
func WithLogger(logger modubot.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets the settle delay.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithOnApply registers a callback run after every reload attempt.
func WithOnApply(fn func(Diff, error)) Option {
	return func(w *Watcher) {
		w.onApply = fn
	}
}

// New creates a watcher for path. current is the configuration the host was
// started with.
func New(path string, host ModuleHost, current *config.HostConfig, opts ...Option) *Watcher {
	w := &Watcher{
		path:     path,
		host:     host,
		logger:   nopLogger{},
		debounce: DefaultDebounce,
		load:     config.Load,
		current:  current,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Current returns the last configuration applied to the host.
func (w *Watcher) Current() *config.HostConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the configuration file until ctx is done. The parent directory
// is watched so that editors replacing the file by rename are noticed.
func (w *Watcher) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()

	if err = fsw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.logger.Info("Watching host config", "path", abs)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug("Host config changed", "path", abs, "op", event.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", "error", err)
		case <-timer.C:
			_, _ = w.Reload(ctx)
		}
	}
}

// Reload reads the configuration file and applies it. An unreadable or
// invalid file leaves the host untouched.
func (w *Watcher) Reload(ctx context.Context) (Diff, error) {
	next, err := w.load(w.path)
	if err != nil {
		w.logger.Warn("Ignoring invalid host config", "path", w.path, "error", err)
		w.notify(Diff{}, err)
		return Diff{}, err
	}

	w.mu.Lock()
	prev := w.current
	w.mu.Unlock()

	d, err := Apply(ctx, w.host, prev, next)
	switch {
	case err != nil:
		w.logger.Error("Failed to apply host config", "error", err)
	case d.HasChanges():
		w.logger.Info("Applied host config", "added", d.Added, "changed", d.Changed, "removed", d.Removed)
	default:
		w.logger.Debug("Host config reloaded without module changes")
	}

	// The host state follows next even when a batch failed: removed
	// modules are gone and a failed batch leaves its modules unloaded.
	w.mu.Lock()
	w.current = next
	w.mu.Unlock()

	w.notify(d, err)
	return d, err
}

func (w *Watcher) notify(d Diff, err error) {
	if w.onApply != nil {
		w.onApply(d, err)
	}
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Debug(string, ...any) {}
