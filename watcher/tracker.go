package watcher

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/draganm/lean-mustache/mustache"
	"github.com/go-logr/logr"
)

const bundleTemplatesDir = "templates"

// Bundle is a named file system carrying templates under templates/.
type Bundle struct {
	Name string
	FS   fs.FS
}

type fsHolder struct {
	fsys atomic.Pointer[fs.FS]
}

func (h *fsHolder) get() fs.FS {
	p := h.fsys.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (h *fsHolder) set(fsys fs.FS) {
	h.fsys.Store(&fsys)
}

type trackedBundle struct {
	holder    *fsHolder
	templates []*mustache.Template
}

// Tracker feeds the templates of bundles to the collector. Bundles are zip
// archives in a directory or file systems handed over directly.
type Tracker struct {
	binding
	snapshot
	log     logr.Logger
	dir     string
	mu      *sync.Mutex
	bundles map[string]*trackedBundle
}

// NewTracker creates a bundle tracker. Without a directory only bundles
// handed over with AddBundle are tracked.
func NewTracker(log logr.Logger, dir string, c *mustache.Collector) (*Tracker, error) {
	t := &Tracker{
		snapshot: newSnapshot(),
		log:      log,
		mu:       &sync.Mutex{},
		bundles:  map[string]*trackedBundle{},
	}

	if dir != "" {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("could not get absolute path of %s: %w", dir, err)
		}
		t.dir = abs
		t.log = log.WithValues("bundleDir", abs)
	}

	t.Bind(c)
	return t, nil
}

func (t *Tracker) Dir() string {
	return t.dir
}

func (t *Tracker) Start(w *Watcher) error {
	if t.dir == "" {
		return errors.New("no bundle directory configured")
	}

	err := os.MkdirAll(t.dir, 0o755)
	if err != nil {
		return fmt.Errorf("could not create bundle directory %s: %w", t.dir, err)
	}

	return w.Add(t.dir, t)
}

func (t *Tracker) Stop(w *Watcher) {
	err := w.Remove(t.dir)
	if err != nil {
		t.log.V(1).Info("could not stop watching bundle directory", "error", err.Error())
	}
}

// Bundles returns the names of the tracked bundles.
func (t *Tracker) Bundles() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.bundles))
	for n := range t.bundles {
		names = append(names, n)
	}
	return names
}

// Templates returns the templates contributed by a bundle.
func (t *Tracker) Templates(bundle string) []*mustache.Template {
	t.mu.Lock()
	defer t.mu.Unlock()

	tb, found := t.bundles[bundle]
	if !found {
		return nil
	}
	return append([]*mustache.Template(nil), tb.templates...)
}

func (t *Tracker) Accept(pth string) bool {
	return strings.HasSuffix(pth, ".zip")
}

func (t *Tracker) OnCreate(pth string) {
	if t.bound() == nil {
		return
	}

	b, err := openBundle(pth)
	if err != nil {
		t.log.Error(err, "could not open bundle", "path", pth)
		return
	}

	t.AddBundle(b)
	t.record(pth)
}

func (t *Tracker) OnChange(pth string) {
	if t.bound() == nil {
		return
	}

	b, err := openBundle(pth)
	if err != nil {
		t.log.Error(err, "could not open bundle", "path", pth)
		return
	}

	t.ModifyBundle(b)
	t.record(pth)
}

func (t *Tracker) OnDelete(pth string) {
	if t.bound() == nil {
		return
	}

	t.RemoveBundle(bundleName(pth))
	t.forget(pth)
}

// Resync reconciles the tracked bundles with the bundle directory.
func (t *Tracker) Resync() error {
	if t.bound() == nil || t.dir == "" {
		return nil
	}

	_, _, _, err := resync(t.dir, t, t.snapshot)
	return err
}

// AddBundle registers every template of the bundle. Adding a bundle that is
// already tracked modifies it.
func (t *Tracker) AddBundle(b Bundle) []*mustache.Template {
	c := t.bound()
	if c == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tb, found := t.bundles[b.Name]
	if found {
		return t.modify(c, tb, b)
	}
	return t.add(c, b)
}

// ModifyBundle swaps the file system of a tracked bundle. Templates still
// present are invalidated, vanished ones are deleted and new ones added.
func (t *Tracker) ModifyBundle(b Bundle) []*mustache.Template {
	c := t.bound()
	if c == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	tb, found := t.bundles[b.Name]
	if !found {
		return t.add(c, b)
	}
	return t.modify(c, tb, b)
}

func (t *Tracker) add(c *mustache.Collector, b Bundle) []*mustache.Template {
	tb := &trackedBundle{holder: &fsHolder{}}
	tb.holder.set(b.FS)

	for _, p := range t.entries(b) {
		tb.templates = append(tb.templates, c.AddTemplate(t.source(b.Name, p, tb.holder)))
	}

	t.bundles[b.Name] = tb
	t.log.Info("bundle added", "bundle", b.Name, "templates", len(tb.templates))

	return append([]*mustache.Template(nil), tb.templates...)
}

func (t *Tracker) modify(c *mustache.Collector, tb *trackedBundle, b Bundle) []*mustache.Template {
	tb.holder.set(b.FS)

	current := map[string]string{}
	for _, p := range t.entries(b) {
		current[t.source(b.Name, p, tb.holder).Location()] = p
	}

	kept := []*mustache.Template{}
	for _, tmpl := range tb.templates {
		_, still := current[tmpl.Location()]
		if !still {
			c.DeleteTemplate(tmpl)
			continue
		}
		delete(current, tmpl.Location())
		kept = append(kept, c.UpdateTemplate(tmpl))
	}

	for _, p := range current {
		kept = append(kept, c.AddTemplate(t.source(b.Name, p, tb.holder)))
	}

	tb.templates = kept
	t.log.Info("bundle modified", "bundle", b.Name, "templates", len(kept))

	return append([]*mustache.Template(nil), kept...)
}

// RemoveBundle deletes every template of the bundle.
func (t *Tracker) RemoveBundle(name string) {
	c := t.bound()

	t.mu.Lock()
	tb, found := t.bundles[name]
	delete(t.bundles, name)
	t.mu.Unlock()

	if !found {
		return
	}

	if c != nil {
		for _, tmpl := range tb.templates {
			c.DeleteTemplate(tmpl)
		}
	}

	tb.holder.set(nil)
	t.log.Info("bundle removed", "bundle", name)
}

func (t *Tracker) source(bundle, p string, holder *fsHolder) mustache.FSSource {
	return mustache.FSSource{
		Bundle: bundle,
		Path:   p,
		FS:     holder.get,
	}
}

// entries lists the template paths below templates/ of the bundle.
func (t *Tracker) entries(b Bundle) []string {
	found := []string{}

	if b.FS == nil {
		return found
	}

	err := fs.WalkDir(b.FS, bundleTemplatesDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		matched, _ := path.Match("*.mst*", path.Base(p))
		if matched && mustache.IsTemplate(p) {
			found = append(found, p)
		}
		return nil
	})
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		t.log.Error(err, "could not list bundle templates", "bundle", b.Name)
	}

	return found
}

func openBundle(pth string) (Bundle, error) {
	data, err := os.ReadFile(pth)
	if err != nil {
		return Bundle{}, fmt.Errorf("could not read bundle %s: %w", pth, err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Bundle{}, fmt.Errorf("could not open bundle %s: %w", pth, err)
	}

	return Bundle{Name: bundleName(pth), FS: zr}, nil
}

func bundleName(pth string) string {
	return strings.TrimSuffix(filepath.Base(pth), ".zip")
}
