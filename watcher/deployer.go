package watcher

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/draganm/lean-mustache/mustache"
	"github.com/go-logr/logr"
)

// Deployer feeds the template files of a directory to the collector.
type Deployer struct {
	binding
	snapshot
	log logr.Logger
	dir string
}

func NewDeployer(log logr.Logger, dir string, c *mustache.Collector) (*Deployer, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("could not get absolute path of %s: %w", dir, err)
	}

	d := &Deployer{
		snapshot: newSnapshot(),
		log:      log.WithValues("dir", abs),
		dir:      abs,
	}
	d.Bind(c)
	return d, nil
}

func (d *Deployer) Dir() string {
	return d.dir
}

// Start creates the template directory when missing and starts watching it.
func (d *Deployer) Start(w *Watcher) error {
	err := os.MkdirAll(d.dir, 0o755)
	if err != nil {
		return fmt.Errorf("could not create template directory %s: %w", d.dir, err)
	}

	err = w.Add(d.dir, d)
	if err != nil {
		return err
	}

	d.log.Info("template directory deployed")
	return nil
}

func (d *Deployer) Stop(w *Watcher) {
	err := w.Remove(d.dir)
	if err != nil {
		d.log.V(1).Info("could not stop watching template directory", "error", err.Error())
	}
}

func (d *Deployer) Accept(pth string) bool {
	return mustache.IsTemplate(filepath.Base(pth))
}

func (d *Deployer) OnCreate(pth string) {
	c := d.bound()
	if c == nil {
		return
	}
	c.AddTemplate(mustache.FileSource(pth))
	d.record(pth)
}

func (d *Deployer) OnChange(pth string) {
	c := d.bound()
	if c == nil {
		return
	}
	c.UpdateTemplate(mustache.FileSource(pth))
	d.record(pth)
}

func (d *Deployer) OnDelete(pth string) {
	c := d.bound()
	if c == nil {
		return
	}
	c.DeleteTemplate(mustache.FileSource(pth))
	d.forget(pth)
}

// Resync reconciles the collector with the directory contents.
func (d *Deployer) Resync() error {
	if d.bound() == nil {
		return nil
	}

	created, changed, deleted, err := resync(d.dir, d, d.snapshot)
	if err != nil {
		return err
	}

	if created+changed+deleted > 0 {
		d.log.Info("template directory resynced", "created", created, "changed", changed, "deleted", deleted)
	}

	return nil
}
