package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watcher turns bursts of filesystem events under a path into single rescan
// triggers once the path has been quiet for the debounce period.
type watcher struct {
	fs       *fsnotify.Watcher
	target   string
	file     bool
	debounce time.Duration
	logger   *slog.Logger
	triggers chan struct{}
}

func newWatcher(path string, debounce time.Duration, logger *slog.Logger) (*watcher, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("MON_WATCH: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("MON_WATCH: %w", err)
	}
	w := &watcher{fs: fw, target: filepath.Clean(path), file: !info.IsDir(), debounce: debounce, logger: logger, triggers: make(chan struct{}, 1)}
	// Editors replace files by rename, so a single file is watched through
	// its directory.
	dir := w.target
	if w.file {
		dir = filepath.Dir(w.target)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("MON_WATCH: %w", err)
	}
	return w, nil
}

func (w *watcher) Close() error {
	return w.fs.Close()
}

func (w *watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if w.file {
		return filepath.Clean(ev.Name) == w.target
	}
	return true
}

func (w *watcher) run(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "err", err)
		case <-fire:
			fire = nil
			select {
			case w.triggers <- struct{}{}:
			default:
			}
		}
	}
}
