package metrics

import (
	"context"
	"fmt"
	"sort"

	"github.com/draganm/lean-mustache/mustache"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registeredDesc = prometheus.NewDesc(
		"mustache_registered_templates",
		"Number of registered templates per mime type",
		[]string{"mimetype"},
		nil,
	)

	cachedDesc = prometheus.NewDesc(
		"mustache_cached_templates",
		"Number of compiled templates held by the factory",
		nil,
		nil,
	)

	fragmentsDesc = prometheus.NewDesc(
		"mustache_cached_fragments",
		"Number of compiled partials held by the factory",
		nil,
		nil,
	)
)

// Source exposes the templates whose state is reported.
type Source interface {
	Templates() []*mustache.Template
	Factory() *mustache.Factory
}

// Start registers the template collector with reg and unregisters it once
// ctx is done.
func Start(ctx context.Context, log logr.Logger, reg prometheus.Registerer, src Source) error {

	c := collector{
		func() []prometheus.Metric {
			perMime := map[string]int{
				mustache.MimeHTML:  0,
				mustache.MimeJSON:  0,
				mustache.MimeXML:   0,
				mustache.MimePlain: 0,
			}
			for _, t := range src.Templates() {
				perMime[t.MimeType()]++
			}

			mimes := make([]string, 0, len(perMime))
			for m := range perMime {
				mimes = append(mimes, m)
			}
			sort.Strings(mimes)

			res := make([]prometheus.Metric, 0, len(mimes))
			for _, m := range mimes {
				res = append(res, prometheus.MustNewConstMetric(registeredDesc, prometheus.GaugeValue, float64(perMime[m]), m))
			}
			return res
		},
		func() []prometheus.Metric {
			cached, fragments := src.Factory().Stats()
			return []prometheus.Metric{
				prometheus.MustNewConstMetric(cachedDesc, prometheus.GaugeValue, float64(cached)),
				prometheus.MustNewConstMetric(fragmentsDesc, prometheus.GaugeValue, float64(fragments)),
			}
		},
	}

	err := reg.Register(c)
	if err != nil {
		return fmt.Errorf("could not register template metrics: %w", err)
	}

	go func() {
		<-ctx.Done()
		if !reg.Unregister(c) {
			log.V(1).Info("template metrics were not registered")
		}
	}()

	return nil
}
