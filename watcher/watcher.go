package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// ChangeSource receives create/change/delete notifications for the files it accepts.
type ChangeSource interface {
	Accept(path string) bool
	OnCreate(path string)
	OnChange(path string)
	OnDelete(path string)
}

// Watcher watches directory trees and dispatches debounced file events to the
// ChangeSource registered for the tree.
type Watcher struct {
	log      logr.Logger
	fsw      *fsnotify.Watcher
	delay    time.Duration
	mu       *sync.Mutex
	flushMu  *sync.Mutex
	roots    map[string]ChangeSource
	known    map[string]bool
	pending  map[string]fsnotify.Op
	order    []string
	timer    *time.Timer
	closed   bool
	closeErr error
	once     *sync.Once
}

func New(log logr.Logger, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create file watcher: %w", err)
	}

	return &Watcher{
		log:     log,
		fsw:     fsw,
		delay:   debounce,
		mu:      &sync.Mutex{},
		flushMu: &sync.Mutex{},
		roots:   map[string]ChangeSource{},
		known:   map[string]bool{},
		pending: map[string]fsnotify.Op{},
		once:    &sync.Once{},
	}, nil
}

// Add starts watching root recursively. Files already present in root are
// reported to cs as created.
func (w *Watcher) Add(root string, cs ChangeSource) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("could not get absolute path of %s: %w", root, err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("could not watch %s: watcher is closed", root)
	}
	w.roots[abs] = cs
	w.mu.Unlock()

	_, err = w.addRecursive(abs)
	if err != nil {
		return fmt.Errorf("could not watch %s: %w", root, err)
	}

	return w.Scan(abs)
}

// Scan walks a watched root and reports every accepted file as created.
func (w *Watcher) Scan(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("could not get absolute path of %s: %w", root, err)
	}

	w.mu.Lock()
	cs, found := w.roots[abs]
	w.mu.Unlock()

	if !found {
		return fmt.Errorf("%s is not watched", root)
	}

	return filepath.WalkDir(abs, func(pth string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && cs.Accept(pth) {
			cs.OnCreate(pth)
			w.track(pth, true)
		}
		return nil
	})
}

// Remove stops watching root.
func (w *Watcher) Remove(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("could not get absolute path of %s: %w", root, err)
	}

	w.mu.Lock()
	_, found := w.roots[abs]
	delete(w.roots, abs)
	w.mu.Unlock()

	if !found {
		return fmt.Errorf("%s is not watched", root)
	}

	w.forgetBelow(abs)
	w.unwatchBelow(abs)

	return nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Error(err, "file watcher error")
		}
	}
}

func (w *Watcher) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}

func (w *Watcher) addRecursive(root string) ([]string, error) {
	files := []string{}
	err := filepath.WalkDir(root, func(pth string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return w.fsw.Add(pth)
		}

		files = append(files, pth)
		return nil
	})

	return files, err
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	if event.Has(fsnotify.Create) {
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			files, err := w.addRecursive(event.Name)
			if err != nil {
				w.log.Error(err, "could not watch new directory", "path", event.Name)
			}
			for _, f := range files {
				w.enqueue(f, fsnotify.Create)
			}
			return
		}
	}

	w.enqueue(event.Name, event.Op)
}

func (w *Watcher) enqueue(pth string, op fsnotify.Op) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	_, known := w.pending[pth]
	if !known {
		w.order = append(w.order, pth)
	}
	w.pending[pth] |= op

	if w.delay <= 0 {
		go w.flush()
		return
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.flush)
}

func (w *Watcher) flush() {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	pending := w.pending
	order := w.order
	w.pending = map[string]fsnotify.Op{}
	w.order = nil
	roots := make(map[string]ChangeSource, len(w.roots))
	for k, v := range w.roots {
		roots[k] = v
	}
	w.mu.Unlock()

	for _, pth := range order {
		op := pending[pth]
		if op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename) {
			w.dropDirectory(roots, pth)
		}

		cs := sourceFor(roots, pth)
		if cs == nil || !cs.Accept(pth) {
			continue
		}
		w.track(pth, dispatch(cs, pth, op))
	}
}

// dropDirectory reports every known file below a vanished directory as
// deleted. Moving a directory out of the tree only yields an event for the
// directory itself.
func (w *Watcher) dropDirectory(roots map[string]ChangeSource, dir string) {
	_, err := os.Stat(dir)
	if err == nil {
		return
	}

	gone := w.forgetBelow(dir)
	for _, pth := range gone {
		cs := sourceFor(roots, pth)
		if cs != nil {
			cs.OnDelete(pth)
		}
	}

	w.unwatchBelow(dir)
}

func (w *Watcher) track(pth string, alive bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if alive {
		w.known[pth] = true
		return
	}
	delete(w.known, pth)
}

// forgetBelow drops the known files under dir and returns them sorted.
func (w *Watcher) forgetBelow(dir string) []string {
	prefix := dir + string(filepath.Separator)

	w.mu.Lock()
	defer w.mu.Unlock()

	gone := []string{}
	for pth := range w.known {
		if strings.HasPrefix(pth, prefix) {
			gone = append(gone, pth)
			delete(w.known, pth)
		}
	}
	sort.Strings(gone)
	return gone
}

func (w *Watcher) unwatchBelow(dir string) {
	for _, watched := range w.fsw.WatchList() {
		if watched == dir || strings.HasPrefix(watched, dir+string(filepath.Separator)) {
			err := w.fsw.Remove(watched)
			if err != nil {
				w.log.V(1).Info("could not remove watch", "path", watched, "error", err.Error())
			}
		}
	}
}

// dispatch decides on the final state of the file, the last event wins. It
// reports whether the file still exists.
func dispatch(cs ChangeSource, pth string, op fsnotify.Op) bool {
	_, err := os.Stat(pth)
	switch {
	case err != nil:
		cs.OnDelete(pth)
		return false
	case op.Has(fsnotify.Create) && !op.Has(fsnotify.Remove) && !op.Has(fsnotify.Rename):
		cs.OnCreate(pth)
	default:
		cs.OnChange(pth)
	}
	return true
}

// sourceFor returns the source of the deepest root containing pth.
func sourceFor(roots map[string]ChangeSource, pth string) ChangeSource {
	keys := make([]string, 0, len(roots))
	for k := range roots {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })

	for _, root := range keys {
		if pth == root || strings.HasPrefix(pth, root+string(filepath.Separator)) {
			return roots[root]
		}
	}
	return nil
}
