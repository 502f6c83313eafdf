package model

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"kuroko/internal/util"
)

// watchSettle delays the load after a filesystem event so the trainer can
// finish renaming the model directory into place.
const watchSettle = 500 * time.Millisecond

// Watch monitors dir for freshly dropped model directories and runs each
// through the gate-checked load path. The offline trainer writes a complete
// model directory elsewhere and renames it under dir, so a create or rename
// event marks a candidate. Blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer util.CloseWithErr(watcher, "model watcher")
	if err := watcher.Add(dir); err != nil {
		return err
	}
	util.Infof("watching for models dir=%s", dir)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			r.tryWatchedLoad(event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			util.Warnf("model watcher error: %v", err)
		}
	}
}

func (r *Registry) tryWatchedLoad(path string) {
	time.Sleep(watchSettle)
	if _, err := os.Stat(filepath.Join(path, modelFile)); err != nil {
		return
	}
	result, err := r.Load(path)
	if err != nil {
		util.Warnf("watched model load failed path=%s err=%v", path, err)
		return
	}
	if result.Accepted {
		util.Infof("watched model installed path=%s version=%s", path, result.Version)
	}
}
