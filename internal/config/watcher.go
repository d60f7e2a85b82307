package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	appLog "lifecal/internal/log"
)

// Watcher reloads the config file whenever it changes on disk.
//
// The parent directory is watched rather than the file: Save replaces the
// file through a rename, which would drop a watch on the old inode.
type Watcher struct {
	path    string
	reloads chan *Config
}

func NewWatcher(path string) *Watcher {
	return &Watcher{
		path:    filepath.Clean(path),
		reloads: make(chan *Config, 4),
	}
}

// Reloads delivers every successfully parsed new config. The channel is
// closed once the watcher stops.
func (w *Watcher) Reloads() <-chan *Config {
	return w.reloads
}

// Start watches until ctx is cancelled. A file that fails to parse is
// logged and skipped; the previous config stays in effect.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		defer close(w.reloads)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != w.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				cfg, err := Load(w.path)
				if err != nil {
					appLog.Error("config reload failed", err, "path", w.path)
					continue
				}
				appLog.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
				select {
				case w.reloads <- cfg:
				default:
					appLog.Warn("config reload dropped, consumer is behind", "path", w.path)
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				appLog.Error("config watcher error", err)
			}
		}
	}()
	return nil
}
