package config

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the configuration when the file changes on disk and hands
// the new Config to listeners. A file that fails to parse keeps the previous
// configuration in effect.
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	logger     *slog.Logger
	reloadChan chan *Config
}

// StartWatcher watches the directory containing path. Editors replace files
// rather than write them in place, so watching the file itself would lose
// the watch after the first save.
func StartWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	w := &Watcher{
		watcher:    watcher,
		configPath: path,
		logger:     logger,
		reloadChan: make(chan *Config, 1),
	}
	go w.watch()
	return w, nil
}

// ReloadChan receives the freshly loaded configuration after each successful
// reload.
func (w *Watcher) ReloadChan() <-chan *Config {
	return w.reloadChan
}

func (w *Watcher) watch() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.handleChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleChange() {
	w.logger.Info("detected configuration change", "path", w.configPath)

	cfg, err := Load(w.configPath)
	if err != nil {
		w.logger.Error("failed to reload configuration, keeping previous",
			"error", err,
			"path", w.configPath,
		)
		return
	}

	select {
	case w.reloadChan <- cfg:
	default:
		// Listener has not drained the previous reload yet.
	}
}

// Stop stops the watcher. The reload channel is not closed; listeners should
// stop on their own context.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
