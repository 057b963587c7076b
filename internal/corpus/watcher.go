package corpus

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

type WatcherOptions struct {
	Extensions []string
	Debounce   time.Duration
	// Paused reports whether events should be dropped, e.g. while a reload
	// is rewriting the mirror itself.
	Paused func() bool
	Logger *slog.Logger
}

// Watcher triggers a reload when corpus files under root change. Bursts of
// events are collapsed into one trigger after Debounce of quiet.
type Watcher struct {
	root    string
	exts    []string
	wait    time.Duration
	paused  func() bool
	trigger func(context.Context) error
	logger  *slog.Logger
}

func NewWatcher(root string, trigger func(context.Context) error, opts WatcherOptions) *Watcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	wait := opts.Debounce
	if wait <= 0 {
		wait = 5 * time.Second
	}
	paused := opts.Paused
	if paused == nil {
		paused = func() bool { return false }
	}
	return &Watcher{
		root:    filepath.Clean(root),
		exts:    exts,
		wait:    wait,
		paused:  paused,
		trigger: trigger,
		logger:  logger,
	}
}

func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addTree(fw, w.root); err != nil {
		return err
	}
	// A reclone removes and recreates the root; the parent watch sees it come
	// back so the tree can be re-armed.
	if parent := filepath.Dir(w.root); parent != w.root {
		if err := fw.Add(parent); err != nil {
			w.logger.Warn("corpus_watch_parent_failed", "path", parent, "error", err.Error())
		}
	}
	w.logger.Info("corpus_watch_start", "root", w.root, "debounce", w.wait.String())

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.handle(fw, ev) || w.paused() {
				continue
			}
			w.logger.Debug("corpus_watch_event", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.wait)
			} else {
				timer.Reset(w.wait)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("corpus_watch_error", "error", err.Error())
		case <-fire:
			fire = nil
			w.logger.Info("corpus_watch_reload")
			if err := w.trigger(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("corpus_watch_reload_failed", "error", err.Error())
			}
		}
	}
}

// handle watches new directories and reports whether ev changes the corpus.
func (w *Watcher) handle(fw *fsnotify.Watcher, ev fsnotify.Event) bool {
	name := filepath.Clean(ev.Name)
	if !w.inTree(name) {
		return false
	}
	if ev.Has(fsnotify.Create) {
		if st, err := os.Stat(name); err == nil && st.IsDir() {
			if err := w.addTree(fw, name); err != nil {
				w.logger.Warn("corpus_watch_add_failed", "path", name, "error", err.Error())
				return false
			}
			if name == w.root {
				// Files written before the watch was re-armed went unseen.
				w.logger.Info("corpus_watch_rearmed", "root", w.root)
				return true
			}
			return false
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return false
	}
	return hasExtension(name, w.exts)
}

func (w *Watcher) inTree(path string) bool {
	if path == w.root {
		return true
	}
	rel, err := filepath.Rel(w.root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// addTree watches dir and every subdirectory except VCS metadata, since
// fsnotify is not recursive.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if d.Name() == ".git" {
			return filepath.SkipDir
		}
		return fw.Add(path)
	})
}
