package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"
)

// Logger is the logging contract used by the watcher.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Debug(msg string, args ...any)
}

// ChangeFunc receives the paths that changed after a reload.
type ChangeFunc func(changed []string)

const watchDebounce = 250 * time.Millisecond

// Watcher reloads the configuration on a schedule and, optionally, when a
// configuration file changes. Reloads that produce an identical tree are
// ignored; others replace the tree contents and call the change callback.
type Watcher struct {
	loader   *Loader
	tree     *Tree
	cfg      AutoUpdateConfig
	logger   Logger
	onChange ChangeFunc

	mu       sync.Mutex
	reloadMu sync.Mutex
	cron     *cron.Cron
	fs       *fsnotify.Watcher
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher creates a watcher that refreshes tree from loader.
func NewWatcher(loader *Loader, tree *Tree, cfg AutoUpdateConfig, logger Logger, onChange ChangeFunc) *Watcher {
	return &Watcher{
		loader:   loader,
		tree:     tree,
		cfg:      cfg,
		logger:   logger,
		onChange: onChange,
	}
}

// Start schedules periodic reloads and, when enabled, file watching.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return ErrWatcherStarted
	}

	interval := w.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() { w.reload("schedule") }); err != nil {
		return fmt.Errorf("schedule configuration reload: %w", err)
	}

	w.stop = make(chan struct{})
	if w.cfg.Watch {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		for _, dir := range w.loader.Dirs() {
			if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
				continue
			}
			if err := fsw.Add(dir); err != nil {
				w.logger.Warn("Failed to watch configuration directory", "dir", dir, "error", err)
			}
		}
		w.fs = fsw
		w.wg.Add(1)
		go w.watchLoop(ctx, fsw, w.stop)
	}

	c.Start()
	w.cron = c
	w.logger.Info("Configuration auto-update started", "interval", interval.String(), "watch", w.cfg.Watch)
	return nil
}

// Stop halts scheduling and file watching. It waits for a running reload.
func (w *Watcher) Stop() {
	w.mu.Lock()
	c, fsw, stop := w.cron, w.fs, w.stop
	w.cron, w.fs, w.stop = nil, nil, nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	if stop != nil {
		close(stop)
	}
	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
}

// Reload reloads the configuration now and returns the changed paths.
func (w *Watcher) Reload() ([]string, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	data, err := w.loader.LoadMap()
	if err != nil {
		return nil, err
	}
	changed := w.tree.Replace(data)
	if len(changed) > 0 && w.onChange != nil {
		w.onChange(changed)
	}
	return changed, nil
}

func (w *Watcher) reload(trigger string) {
	changed, err := w.Reload()
	if err != nil {
		w.logger.Error("Configuration reload failed", "trigger", trigger, "error", err)
		return
	}
	if len(changed) == 0 {
		w.logger.Debug("Configuration unchanged after reload", "trigger", trigger)
		return
	}
	w.logger.Info("Configuration updated", "trigger", trigger, "changed", changed)
}

func (w *Watcher) watchLoop(ctx context.Context, fsw *fsnotify.Watcher, stop <-chan struct{}) {
	defer w.wg.Done()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if !w.isConfigFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("Configuration file changed", "file", event.Name, "op", event.Op.String())
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() { w.reload("file") })
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", "error", err)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) isConfigFile(path string) bool {
	name := filepath.Base(path)
	if name == ".env" {
		return true
	}
	return strings.HasPrefix(name, w.loader.BaseName())
}
