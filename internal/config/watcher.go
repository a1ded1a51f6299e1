package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before its change is
// reported. Editors commonly write, truncate and rename in quick succession.
const DefaultDebounce = 200 * time.Millisecond

// ReloadEvent reports a change to config.yaml or .env in the home directory.
// Op accumulates every operation seen during the debounce window.
type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher observes the home directory and emits one ReloadEvent per burst
// of changes to a watched file.
type Watcher struct {
	homeDir  string
	logger   *slog.Logger
	debounce time.Duration
	events   chan ReloadEvent
}

func NewWatcher(homeDir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir:  homeDir,
		logger:   logger,
		debounce: DefaultDebounce,
		events:   make(chan ReloadEvent, 16),
	}
}

// SetDebounce overrides the quiet window. It must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Events is closed once the watcher stops.
func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func isWatched(path string) bool {
	switch filepath.Base(path) {
	case ConfigFileName, ".env":
		return true
	}
	return false
}

// Start watches the directory rather than the files so a config.yaml
// replaced by rename is still seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.homeDir); err != nil {
		_ = fsw.Close()
		return err
	}
	go w.loop(ctx, fsw)
	return nil
}

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer close(w.events)
	defer fsw.Close()

	pending := map[string]fsnotify.Op{}
	quiet := time.NewTimer(time.Hour)
	quiet.Stop()
	defer quiet.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !isWatched(ev.Name) || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			pending[ev.Name] |= ev.Op
			quiet.Reset(w.debounce)
		case <-quiet.C:
			for path, op := range pending {
				select {
				case w.events <- ReloadEvent{Path: path, Op: op}:
					w.logger.Info("config file changed", "path", path, "op", op.String())
				default:
					w.logger.Warn("config change dropped; reload pending", "path", path)
				}
			}
			clear(pending)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
