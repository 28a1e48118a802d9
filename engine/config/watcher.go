package config

import (
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/lumen/engine/core"
)

// Watcher reloads the config file when it changes and publishes the live
// toggles. Structural options (mode, frames in flight) are ignored until restart.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	toggles chan Toggles
	done    chan struct{}
	log     *log.Logger
}

func NewWatcher(path string) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Editors replace files on save, so watch the directory.
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, err
	}
	w := &Watcher{
		path:    filepath.Clean(path),
		watcher: fsWatch,
		toggles: make(chan Toggles, 1),
		done:    make(chan struct{}),
		log:     core.NewComponentLogger("config"),
	}
	go w.run()
	return w, nil
}

// Toggles delivers the latest toggles after each successful reload. Only the
// newest value is kept if the consumer falls behind.
func (w *Watcher) Toggles() <-chan Toggles {
	return w.toggles
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case e, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watch failed", "err", err)
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("keeping previous settings", "path", w.path, "err", err)
		return
	}
	t := cfg.Renderer.Toggles()
	select {
	case <-w.toggles:
	default:
	}
	w.toggles <- t
	w.log.Info("reloaded", "path", w.path, "motion_vectors", t.MotionVectors, "max_bounces", t.MaxBounces)
}
