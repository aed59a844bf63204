// Package watch triggers syncs when a backup container is rewritten.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/imthebreezy247/unison-sub001/internal/backup"
	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

// debounceDelay is how long the watcher waits after the last manifest event
// before triggering a sync. Backup tools rewrite Manifest.db with several
// writes in quick succession.
var debounceDelay = 2 * time.Second

// SyncFunc runs a full sync against the watched backup root.
type SyncFunc func(ctx context.Context) error

// Watch starts an fsnotify watcher on the backup root and triggers sync when
// the manifest index is created or rewritten, until ctx is cancelled.
//
// Cooldown and already-running rejections are expected while backups are
// being written repeatedly; they are logged at debug level and dropped, not
// retried.
func Watch(ctx context.Context, root string, logger unison.Logger, sync SyncFunc) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return err
	}

	logger.Info("watcher: started", "root", root)

	// syncTimer debounces manifest rewrites.
	var syncTimer *time.Timer
	var syncCh <-chan time.Time

	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(debounceDelay)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(debounceDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-syncCh:
			runSync(ctx, logger, sync)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != backup.ManifestFileName {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				logger.Debug("watcher: manifest changed", "op", ev.Op.String())
				scheduleSync()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", "error", watchErr.Error())
		}
	}
}

func runSync(ctx context.Context, logger unison.Logger, sync SyncFunc) {
	err := sync(ctx)
	switch {
	case err == nil:
		logger.Info("watcher: sync finished")
	case errors.Is(err, unison.ErrCooldownActive), errors.Is(err, unison.ErrAlreadyRunning):
		logger.Debug("watcher: sync skipped", "reason", err.Error())
	case errors.Is(err, context.Canceled):
	default:
		logger.Error("watcher: sync failed", "error", err.Error())
	}
}
