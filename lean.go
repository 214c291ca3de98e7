package lean

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"sync"

	"github.com/draganm/lean-mustache/config"
	"github.com/draganm/lean-mustache/cron"
	"github.com/draganm/lean-mustache/metrics"
	"github.com/draganm/lean-mustache/mustache"
	"github.com/draganm/lean-mustache/registry"
	"github.com/draganm/lean-mustache/watcher"
	"github.com/draganm/lean-mustache/web"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine serves the templates found in the template directory and in bundles.
type Engine struct {
	http.Handler

	log       logr.Logger
	registry  *registry.Registry
	collector *mustache.Collector
	deployer  *watcher.Deployer
	tracker   *watcher.Tracker
	watcher   *watcher.Watcher
	closeOnce *sync.Once
	closeErr  error
}

// Construct starts an engine for cfg. Bundles, the given ones and those in
// the bundle directory, are registered before the template directory is
// scanned, so directory templates win on equal names.
func Construct(ctx context.Context, cfg config.Config, log logr.Logger, bundles ...watcher.Bundle) (*Engine, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mustache.SetStrict(cfg.Strict)

	reg := registry.New()
	reg.AddListener(func(e registry.Event) {
		log.V(1).Info("template service event", "event", e.Type.String(), "name", e.Registration.Properties()["name"])
	})

	collector := mustache.NewCollector(log, reg)

	w, err := watcher.New(log, cfg.Debounce)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		log:       log,
		registry:  reg,
		collector: collector,
		watcher:   w,
		closeOnce: &sync.Once{},
	}

	// from here on Close releases everything built so far
	defer func() {
		if err != nil {
			e.Close()
		}
	}()

	e.tracker, err = watcher.NewTracker(log, cfg.BundleDir, collector)
	if err != nil {
		return nil, fmt.Errorf("could not create bundle tracker: %w", err)
	}

	for _, b := range bundles {
		e.tracker.AddBundle(b)
	}

	cronBuilder := cron.NewBuilder()

	if cfg.BundleDir != "" {
		err = e.tracker.Start(w)
		if err != nil {
			return nil, fmt.Errorf("could not track bundle directory: %w", err)
		}
		cronBuilder.Add("bundles", cfg.Rescan, e.tracker)
	}

	e.deployer, err = watcher.NewDeployer(log, cfg.TemplateDir, collector)
	if err != nil {
		return nil, fmt.Errorf("could not create template deployer: %w", err)
	}

	err = e.deployer.Start(w)
	if err != nil {
		return nil, fmt.Errorf("could not deploy template directory: %w", err)
	}

	cronBuilder.Add("templates", cfg.Rescan, e.deployer)

	go func() {
		err := w.Run(ctx)
		if err != nil {
			log.Error(err, "template watcher failed")
		}
	}()

	err = cronBuilder.Start(ctx, log)
	if err != nil {
		return nil, fmt.Errorf("could not start rescan jobs: %w", err)
	}

	metricsErr := metrics.Start(ctx, log, prometheus.DefaultRegisterer, collector)
	if metricsErr != nil {
		log.Error(metricsErr, "could not register template metrics")
	}

	e.Handler, err = web.NewBuilder(reg).WithMetrics(promhttp.Handler()).Create(log)
	if err != nil {
		return nil, fmt.Errorf("could not create web handler: %w", err)
	}

	go func() {
		<-ctx.Done()
		e.Close()
	}()

	log.Info("template engine started", "templateDir", e.deployer.Dir(), "templates", len(collector.Templates()))

	return e, nil
}

func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

func (e *Engine) Collector() *mustache.Collector {
	return e.collector
}

// Lookup returns the template currently registered under name.
func (e *Engine) Lookup(name string) (*mustache.Template, bool) {
	return e.collector.Lookup(name)
}

// AddBundle registers the templates of an in-memory bundle, for example an
// embedded file system.
func (e *Engine) AddBundle(name string, fsys fs.FS) []*mustache.Template {
	return e.tracker.AddBundle(watcher.Bundle{Name: name, FS: fsys})
}

func (e *Engine) RemoveBundle(name string) {
	e.tracker.RemoveBundle(name)
}

// Close stops watching, removes every template and closes the registry.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		if e.deployer != nil {
			e.deployer.Unbind()
		}
		if e.tracker != nil {
			e.tracker.Unbind()
		}

		err := e.watcher.Close()
		if err != nil {
			e.closeErr = fmt.Errorf("could not close template watcher: %w", err)
		}

		e.collector.Shutdown()
		e.registry.Close()

		e.log.Info("template engine closed")
	})
	return e.closeErr
}
