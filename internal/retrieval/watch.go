package retrieval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rsrisk/internal/config"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

const watchDebounce = 500 * time.Millisecond

// Watch invalidates the manager's indexes whenever the configured reference
// report or labels file changes. Parent directories are watched so editors
// that replace files atomically are seen. Watch returns once the watcher is
// running; it stops when ctx is done.
func (m *Manager) Watch(ctx context.Context) error {
	return m.watch(ctx, watchDebounce)
}

func (m *Manager) watch(ctx context.Context, debounce time.Duration) error {
	targets := make(map[string]bool)
	for _, p := range []string{m.cfg.ReferenceReport, m.cfg.ReferenceLabels} {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(config.ExpandPath(p))
		if err != nil {
			return fmt.Errorf("resolving %s: %w", p, err)
		}
		targets[abs] = true
	}
	if len(targets) == 0 {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	dirs := make(map[string]bool)
	for p := range targets {
		dir := filepath.Dir(p)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("watching %s: %w", dir, err)
		}
		dirs[dir] = true
	}

	go m.processEvents(ctx, watcher, targets, debounce)
	return nil
}

func (m *Manager) processEvents(ctx context.Context, watcher *fsnotify.Watcher, targets map[string]bool, debounce time.Duration) {
	defer watcher.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !targets[filepath.Clean(event.Name)] {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			m.logger.Debug(ctx, "reference file changed",
				zap.String("path", event.Name), zap.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			if err := m.Invalidate(ctx); err != nil {
				m.logger.Warn(ctx, "invalidating indexes after reference change", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn(ctx, "reference file watcher error", zap.Error(err))
		}
	}
}
