// Package watch follows the filesystem categories directory so that edits
// made outside the server (an editor, git pull, sync tools) drop stale
// cached responses and reach connected clients.
package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/stash/internal/storage"
)

// DefaultDebounce coalesces bursts of events (atomic rename writes produce
// several) into one notification.
const DefaultDebounce = 200 * time.Millisecond

// Invalidator drops cached data derived from the category files.
type Invalidator interface {
	InvalidateAll() error
}

// Callback is called after each coalesced batch with the changed file names.
type Callback func(files []string)

// Watch starts an fsnotify watcher on dir and processes change events to
// category files until ctx is cancelled. The server's own writes are reported
// too.
func Watch(ctx context.Context, dir string, inv Invalidator, debounce time.Duration, logger *slog.Logger, cb Callback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	logger.Info("watcher: started", slog.String("dir", dir))

	pending := make(map[string]struct{})
	var flushTimer *time.Timer
	var flushCh <-chan time.Time

	schedule := func() {
		if flushTimer == nil {
			flushTimer = time.NewTimer(debounce)
			flushCh = flushTimer.C
		} else {
			flushTimer.Reset(debounce)
		}
	}

	flush := func() {
		files := make([]string, 0, len(pending))
		for f := range pending {
			files = append(files, f)
		}
		clear(pending)
		sort.Strings(files)

		if inv != nil {
			if err := inv.InvalidateAll(); err != nil {
				logger.Warn("watcher: invalidate failed", slog.String("error", err.Error()))
			}
		}
		logger.Debug("watcher: changed", slog.Int("files", len(files)))
		if cb != nil {
			cb(files)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if flushTimer != nil {
				flushTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-flushCh:
			flushTimer = nil
			flushCh = nil
			flush()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, storage.Ext) || strings.HasPrefix(name, ".") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending[name] = struct{}{}
			schedule()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
