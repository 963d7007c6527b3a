package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch calls fn whenever the settings resolved from path change. The parent
// directory is watched rather than the file itself so that editors which
// replace the file by rename are observed. The watcher is registered before
// Watch returns; events are delivered from a background goroutine until ctx
// is done. fn receives a non-nil error when the new file fails to load.
func Watch(ctx context.Context, path string, fn func(Settings, error)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("settings: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: create %s: %w", dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return fmt.Errorf("settings: watch %s: %w", dir, err)
	}

	last, _ := Load(abs)

	go func() {
		defer func() {
			_ = w.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				s, err := Load(abs)
				if err != nil {
					fn(Settings{}, err)
					continue
				}
				if s == last {
					continue
				}
				last = s
				fn(s, nil)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Debug("settings watch error", slog.String("err", err.Error()))
			}
		}
	}()
	return nil
}
