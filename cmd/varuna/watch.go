package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/varunahq/varuna/internal/config"
	"github.com/varunahq/varuna/internal/engine"
)

// watchConfig hot-reloads monitors when the config file changes. The
// watch is on the parent directory because editors replace files via
// rename, which drops a watch on the file itself. A bad config is
// logged and the running configuration stays in effect. Engine tuning
// (workers, timeouts, database) needs a restart; only monitors and
// maintenance windows reload live.
func watchConfig(ctx context.Context, path string, eng *engine.Engine, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("config watcher unavailable", "error", err)
		return
	}
	defer watcher.Close()

	absPath, err := filepath.Abs(path)
	if err != nil {
		logger.Error("resolve config path", "error", err)
		return
	}
	if err := watcher.Add(filepath.Dir(absPath)); err != nil {
		logger.Error("watch config directory", "error", err)
		return
	}

	// Debounce the write/rename bursts editors produce.
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(500 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", "error", err)
		case <-pending:
			pending = nil
			reloadConfig(ctx, absPath, eng, logger)
		}
	}
}

func reloadConfig(ctx context.Context, path string, eng *engine.Engine, logger *slog.Logger) {
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("config reload rejected, keeping previous configuration", "error", err)
		return
	}
	if err := eng.Reload(ctx, engine.SetFromConfig(cfg)); err != nil {
		logger.Error("config reload failed", "error", err)
		return
	}
	logger.Info("configuration reloaded", "monitors", len(cfg.Monitors))
}
