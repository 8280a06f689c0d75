package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file on change and hands the parsed result
// to a callback. A cooldown suppresses the bursts of write events most
// editors produce.
type Watcher struct {
	Path     string
	Cooldown time.Duration // default 2s
}

// Start blocks until ctx is done, invoking onUpdate with each
// successfully reloaded config. Reload failures are ignored; the
// previous config stays in effect.
func (w Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	cooldown := w.Cooldown
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops
	// a watch set on the file itself.
	if err := watcher.Add(filepath.Dir(w.Path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.Path, err)
	}

	var lastReload time.Time
	target := filepath.Clean(w.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if time.Since(lastReload) < cooldown {
				continue
			}
			lastReload = time.Now()
			if cfg, err := LoadWithEnvOverrides(w.Path); err == nil && onUpdate != nil {
				onUpdate(cfg)
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
		}
	}
}
