package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
	"github.com/phildougherty/mcp-trader-bridge/internal/logging"
)

// Watcher reloads the config file when it changes on disk. The parent
// directory is watched so editors that replace the file are still seen.
type Watcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	logger    *logging.Logger
	delay     time.Duration
	stopCh    chan struct{}
	doneCh    chan struct{}
	started   bool
	stopOnce  sync.Once
}

// NewWatcher prepares a watcher for filePath.
func NewWatcher(filePath string, logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewLogger(constants.DefaultLogLevel)
	}
	abs, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(abs)); err != nil {
		_ = fsWatcher.Close()

		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		path:      abs,
		fsWatcher: fsWatcher,
		logger:    logger,
		delay:     constants.ConfigReloadDelay,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start delivers every successfully reloaded config to onChange. Invalid
// files are logged and skipped; the previous config stays in effect.
func (w *Watcher) Start(onChange func(*BridgeConfig)) {
	w.started = true
	go func() {
		defer close(w.doneCh)
		defer w.fsWatcher.Close()

		var timer *time.Timer
		var fire <-chan time.Time
		for {
			select {
			case <-w.stopCh:
				if timer != nil {
					timer.Stop()
				}

				return
			case event, ok := <-w.fsWatcher.Events:
				if !ok {
					return
				}
				if !w.shouldProcessEvent(event) {
					continue
				}
				w.logger.Debug("Config change detected: %s", event)
				if timer == nil {
					timer = time.NewTimer(w.delay)
				} else {
					timer.Reset(w.delay)
				}
				fire = timer.C
			case err, ok := <-w.fsWatcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("Config watcher error: %v", err)
			case <-fire:
				fire = nil
				cfg, err := LoadConfig(w.path)
				if err != nil {
					w.logger.Warning("Ignoring config reload: %v", err)

					continue
				}
				w.logger.Info("Reloaded configuration from %s", w.path)
				onChange(cfg)
			}
		}
	}()
}

func (w *Watcher) shouldProcessEvent(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}

	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if !w.started {
			_ = w.fsWatcher.Close()
			close(w.doneCh)
		}
	})
	<-w.doneCh
}
