// Package watch triggers a config reload when the on-disk config file
// changes, calling the same reload path the `reload` RPC method calls.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc re-parses and applies the on-disk config. Errors are logged,
// never fatal — a bad edit on disk must not take down a running daemon.
type ReloadFunc func() error

// Watcher watches a config file's parent directory (editors often
// rename-over-write rather than truncate-in-place, which loses an
// inotify watch held directly on the file) and calls Reload on any event
// naming the config file.
type Watcher struct {
	configPath string
	reload     ReloadFunc
	logger     *slog.Logger
	fsw        *fsnotify.Watcher
	debounce   time.Duration

	mu         sync.Mutex
	lastReload time.Time
}

// New builds a Watcher for configPath. debounce <= 0 defaults to one second.
func New(configPath string, reload ReloadFunc, logger *slog.Logger, debounce time.Duration) (*Watcher, error) {
	if reload == nil {
		return nil, fmt.Errorf("watch: reload func is required")
	}
	if debounce <= 0 {
		debounce = time.Second
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", configPath, err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch: add %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		configPath: abs,
		reload:     reload,
		logger:     logger,
		fsw:        fsw,
		debounce:   debounce,
	}, nil
}

// Run drives the watch loop until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.configPath {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.handle()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if w.logger != nil {
				w.logger.Warn("config watcher error", "error", err)
			}
		}
	}
}

func (w *Watcher) handle() {
	w.mu.Lock()
	if time.Since(w.lastReload) < w.debounce {
		w.mu.Unlock()
		return
	}
	w.lastReload = time.Now()
	w.mu.Unlock()

	if err := w.reload(); err != nil {
		if w.logger != nil {
			w.logger.Error("config reload from file watch failed", "error", err)
		}
		return
	}
	if w.logger != nil {
		w.logger.Info("config reloaded from file watch", "path", w.configPath)
	}
}
