package session

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/atlas-foundry/xpatch-go/loader"
	"github.com/atlas-foundry/xpatch-go/task"
	"github.com/atlas-foundry/xpatch-go/xmldoc"
)

// DefaultDebounce collapses bursts of saves into one regeneration.
const DefaultDebounce = 500 * time.Millisecond

// Watcher regenerates a session when definition files change on disk.
type Watcher struct {
	s        *Session
	fw       *fsnotify.Watcher
	debounce time.Duration
	logger   *zap.Logger

	// OnReload, when set, is called after every triggered regeneration with its error.
	OnReload func(*xmldoc.Document, error)

	mu      sync.Mutex
	pending bool
	dirs    int
}

// NewWatcher watches every source's Defs tree. Sources without one are skipped.
func NewWatcher(s *Session, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{s: s, fw: fw, debounce: debounce, logger: s.logger}
	for _, src := range s.Sources() {
		root := filepath.Join(src.Dir, loader.DefsDir)
		if err := w.addTree(root); err != nil {
			w.logger.Debug("not watching source", zap.String("source", src.Name), zap.String("dir", root), zap.Error(err))
		}
	}
	return w, nil
}

// addTree watches root and all directories below it; fsnotify is not recursive.
func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fw.Add(path); err != nil {
			return err
		}
		w.mu.Lock()
		w.dirs++
		w.mu.Unlock()
		return nil
	})
}

// Dirs is the number of directories being watched.
func (w *Watcher) Dirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs
}

// Run processes events until ctx is done, then closes the underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fw.Close()
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				w.mu.Lock()
				w.pending = true
				w.mu.Unlock()
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		case <-timer.C:
			if !w.fire(ctx) {
				// a load is still running; try again once it has had time to finish
				timer.Reset(w.debounce)
			}
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addTree(ev.Name); err != nil {
				w.logger.Debug("watching new directory", zap.String("dir", ev.Name), zap.Error(err))
			}
			return true
		}
	}
	return strings.EqualFold(filepath.Ext(ev.Name), ".xml")
}

// fire starts a regeneration if one is pending. It reports false when the session
// was busy and the change must be retried.
func (w *Watcher) fire(ctx context.Context) bool {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return true
	}
	w.pending = false
	w.mu.Unlock()

	_, err := w.s.Regenerate(ctx,
		func(doc *xmldoc.Document) {
			w.logger.Info("definitions reloaded")
			if w.OnReload != nil {
				w.OnReload(doc, nil)
			}
		},
		func(err error) {
			if w.OnReload != nil {
				w.OnReload(nil, err)
			}
		})
	if errors.Is(err, task.ErrBusy) {
		w.mu.Lock()
		w.pending = true
		w.mu.Unlock()
		return false
	}
	return true
}
