package indexer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"tandem/internal/logging"
)

// watchDebounce batches rapid editor write bursts into one re-index.
const watchDebounce = 2 * time.Second

// Watch re-indexes path for (user, session) whenever files under it change.
// It blocks until ctx is done. Only local paths can be watched.
func (ix *Indexer) Watch(ctx context.Context, userID, sessionID, path, category string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := addRecursive(watcher, path); err != nil {
			return err
		}
	} else if err := watcher.Add(path); err != nil {
		return err
	}
	logging.Indexer("watching %s for changes", path)

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// New directories join the watch set as they appear.
			if event.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = addRecursive(watcher, event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryIndexer).Errorf("watch error: %v", err)
		case <-timerC:
			timer = nil
			timerC = nil
			if _, err := ix.IndexPath(ctx, userID, sessionID, path, category); err != nil {
				logging.Get(logging.CategoryIndexer).Errorf("re-index of %s failed: %v", path, err)
			}
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	return filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if base := filepath.Base(p); p != root && (base == ".git" || base == "node_modules" || base == ".tandem") {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}
