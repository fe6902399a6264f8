package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const debounceDuration = 100 * time.Millisecond

// Watcher reloads the configuration when the user file or one of the plugin
// files next to it changes, and notifies the registered handlers.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	mu       sync.RWMutex
	current  *Config
	onChange []func(old, updated *Config)
	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads path and prepares to watch its directory. Start must be
// called to begin watching.
func NewWatcher(path string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	// Watch the directory so atomic saves (write then rename) are seen.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:    path,
		watcher: fw,
		logger:  logger.Named("config"),
		current: cfg,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching for configuration changes.
func (w *Watcher) Start() {
	go w.watchLoop()
	w.logger.Info("configuration watcher started", zap.String("path", w.path))
}

// Stop stops watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
		<-w.done
		w.logger.Info("configuration watcher stopped")
	})
}

// OnChange registers a handler called after every successful reload.
func (w *Watcher) OnChange(handler func(old, updated *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, handler)
}

// Current returns the configuration last loaded.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) watchLoop() {
	defer close(w.done)

	var debounceTimer *time.Timer
	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Ext(event.Name) != ".yaml" {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDuration, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.stopCh:
		return
	default:
	}

	updated, err := Load(w.path)
	if err != nil {
		w.logger.Error("invalid configuration, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = updated
	handlers := append([]func(old, updated *Config){}, w.onChange...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", zap.Strings("sources", updated.Sources))
	for _, handler := range handlers {
		handler(old, updated)
	}
}
