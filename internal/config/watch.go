package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads configuration when either config file changes.
type Watcher struct {
	projectDir string
	globalPath string
	debounce   time.Duration
	onChange   func(*Config)
	onError    func(error)
}

// NewWatcher returns a watcher over the same files LoadFromPaths reads.
// onChange receives every successfully validated reload.
func NewWatcher(projectDir, globalPath string, onChange func(*Config), onError func(error)) *Watcher {
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{
		projectDir: projectDir,
		globalPath: globalPath,
		debounce:   250 * time.Millisecond,
		onChange:   onChange,
		onError:    onError,
	}
}

// Run blocks until ctx is cancelled. Directories are watched rather than
// files so editors that replace the file on save are still seen.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fw.Close()

	targets := map[string]bool{
		filepath.Clean(filepath.Join(w.projectDir, ProjectConfigName)): true,
	}
	dirs := map[string]bool{filepath.Clean(w.projectDir): true}
	if w.globalPath != "" {
		targets[filepath.Clean(w.globalPath)] = true
		if fileExists(filepath.Dir(w.globalPath)) {
			dirs[filepath.Clean(filepath.Dir(w.globalPath))] = true
		}
	}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(ev.Name)] {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			cfg, err := LoadFromPaths(w.projectDir, w.globalPath)
			if err != nil {
				w.onError(err)
				continue
			}
			w.onChange(cfg)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.onError(err)
		}
	}
}
