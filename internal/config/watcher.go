package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kausalhq/kausal/internal/logging"
)

// ReloadCallback receives every successfully loaded config. An error
// from the callback is logged and the watcher keeps running with the
// previous config.
type ReloadCallback func(cfg *Config) error

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// FilePath is the config file to watch.
	FilePath string

	// DebounceMillis coalesces bursts of change events into one
	// reload. Defaults to 500ms.
	DebounceMillis int
}

// Watcher reloads the config file on change with debouncing. Invalid
// configs never replace a valid one.
type Watcher struct {
	cfg      WatcherConfig
	callback ReloadCallback
	cancel   context.CancelFunc
	stopped  chan struct{}
	ready    chan struct{}
	logger   *logging.Logger

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// NewWatcher creates a watcher for the given config file.
func NewWatcher(cfg WatcherConfig, callback ReloadCallback) (*Watcher, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file path is required")
	}
	if callback == nil {
		return nil, fmt.Errorf("callback is required")
	}
	if cfg.DebounceMillis == 0 {
		cfg.DebounceMillis = 500
	}
	return &Watcher{
		cfg:      cfg,
		callback: callback,
		stopped:  make(chan struct{}),
		ready:    make(chan struct{}),
		logger:   logging.GetLogger("config.watcher"),
	}, nil
}

// Start loads the initial config, delivers it to the callback, and
// begins watching. It returns once the file watch is established; an
// initial load or callback failure is fatal.
func (w *Watcher) Start(ctx context.Context) error {
	initial, err := Load(w.cfg.FilePath)
	if err != nil {
		return fmt.Errorf("load initial config: %w", err)
	}
	if err := w.callback(initial); err != nil {
		return fmt.Errorf("initial config callback: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	go w.watchLoop(watchCtx)

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for file watcher to initialize")
	}
}

// Stop stops the watcher and waits for the watch loop to exit.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	select {
	case <-w.stopped:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for watcher to stop")
	}
}

func (w *Watcher) signalReady() {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.ready:
	default:
		close(w.ready)
	}
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.stopped)
	defer w.signalReady()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.ErrorWithErr("creating file watcher failed", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(w.cfg.FilePath); err != nil {
		w.logger.ErrorWithErr("watching %s failed", err, w.cfg.FilePath)
		return
	}
	w.logger.Info("watching %s for changes (debounce %dms)", w.cfg.FilePath, w.cfg.DebounceMillis)
	w.signalReady()

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&relevant == 0 {
				continue
			}
			// Atomic writes replace the inode; re-establish the watch
			// before reloading.
			if event.Op&(fsnotify.Rename|fsnotify.Remove) != 0 {
				time.Sleep(50 * time.Millisecond)
				if err := watcher.Add(w.cfg.FilePath); err != nil {
					w.logger.Warn("re-adding watch after %s failed: %v", event.Op, err)
				}
			}
			w.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error: %v", err)
		}
	}
}

// scheduleReload resets the debounce timer so a burst of events from
// one save produces a single reload.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(
		time.Duration(w.cfg.DebounceMillis)*time.Millisecond,
		w.reload,
	)
}

func (w *Watcher) reload() {
	cfg, err := Load(w.cfg.FilePath)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config: %v", err)
		return
	}
	if err := w.callback(cfg); err != nil {
		w.logger.Warn("config reload callback failed: %v", err)
		return
	}
	w.logger.Info("config reloaded from %s", w.cfg.FilePath)
}
