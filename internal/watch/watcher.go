// Package watch keeps the index synchronized while documents are edited
// by hand. It watches the document tree recursively and fires a debounced
// callback after edits settle, so an editor writing several files in a
// burst triggers one sync, not ten.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher debounces filesystem events under one directory tree.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	debounce time.Duration
	log      *slog.Logger
	onSettle func()
}

// New watches root and all its current subdirectories. onSettle runs on
// the watcher's goroutine after events go quiet for the debounce window.
func New(root string, debounce time.Duration, log *slog.Logger, onSettle func()) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{fsw: fsw, root: root, debounce: debounce, log: log, onSettle: onSettle}
	if err := w.addTree(root); err != nil {
		fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != dir {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run processes events until ctx is cancelled. New subdirectories are
// picked up as they appear, so documents of a newly introduced entity
// type are watched without a restart.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(ev.Name), ".") {
				continue
			}
			if ev.Op.Has(fsnotify.Create) {
				// Best effort: if it is a new directory, watch it too.
				if err := w.addTree(ev.Name); err == nil {
					w.log.Debug("watching new path", "path", ev.Name)
				}
			}
			w.log.Debug("file event", "op", ev.Op.String(), "path", ev.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case <-fire:
			timer = nil
			fire = nil
			w.onSettle()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}
