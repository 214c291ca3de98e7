package watcher

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/draganm/lean-mustache/mustache"
)

// binding holds the collector a change source forwards to. Without a bound
// collector all notifications are dropped.
type binding struct {
	collector atomic.Pointer[mustache.Collector]
}

func (b *binding) Bind(c *mustache.Collector) {
	b.collector.Store(c)
}

func (b *binding) Unbind() {
	b.collector.Store(nil)
}

func (b *binding) bound() *mustache.Collector {
	return b.collector.Load()
}

// snapshot remembers the modification time of every file a change source
// has handed to its collector.
type snapshot struct {
	mu    *sync.Mutex
	files map[string]time.Time
}

func newSnapshot() snapshot {
	return snapshot{
		mu:    &sync.Mutex{},
		files: map[string]time.Time{},
	}
}

func (s snapshot) record(pth string) {
	modTime := time.Now()
	info, err := os.Stat(pth)
	if err == nil {
		modTime = info.ModTime()
	}

	s.mu.Lock()
	s.files[pth] = modTime
	s.mu.Unlock()
}

func (s snapshot) forget(pth string) {
	s.mu.Lock()
	delete(s.files, pth)
	s.mu.Unlock()
}

func (s snapshot) copy() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := make(map[string]time.Time, len(s.files))
	for k, v := range s.files {
		res[k] = v
	}
	return res
}

// resync walks dir and reports the difference to the snapshot to cs: new
// files as created, newer files as changed and vanished files as deleted.
func resync(dir string, cs ChangeSource, s snapshot) (created, changed, deleted int, err error) {
	known := s.copy()

	err = filepath.WalkDir(dir, func(pth string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !cs.Accept(pth) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		seen, found := known[pth]
		delete(known, pth)

		switch {
		case !found:
			cs.OnCreate(pth)
			created++
		case info.ModTime().After(seen):
			cs.OnChange(pth)
			changed++
		}

		return nil
	})
	if err != nil {
		return created, changed, deleted, fmt.Errorf("could not walk %s: %w", dir, err)
	}

	for pth := range known {
		cs.OnDelete(pth)
		deleted++
	}

	return created, changed, deleted, nil
}
