package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/muurk/httpcore/internal/logging"
)

// DebounceInterval groups the burst of events an editor save produces.
var DebounceInterval = 100 * time.Millisecond

// Watch reloads path whenever it is written, created or renamed into place
// and passes each valid configuration to fn. Invalid files are logged and
// skipped. Watch blocks until ctx is done.
//
// The parent directory is watched rather than the file, so replacing the
// file by rename keeps working.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	path = filepath.Clean(path)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	logging.Info("Watching config file", zap.String("path", path))

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if filepath.Clean(ev.Name) != path || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug("Config file event", zap.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(DebounceInterval)
			} else {
				timer.Reset(DebounceInterval)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(path)
			if err != nil {
				logging.Warn("Config reload failed", zap.Error(err))
				continue
			}
			logging.Info("Config reloaded", zap.String("path", path))
			fn(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			logging.Error("Config watcher error", zap.Error(err))
		}
	}
}
