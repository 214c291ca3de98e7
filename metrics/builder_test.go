package metrics_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/draganm/lean-mustache/metrics"
	"github.com/draganm/lean-mustache/mustache"
	"github.com/draganm/lean-mustache/registry"
	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func findMetrics(t *testing.T, g prometheus.Gatherer, name string, mt dto.MetricType) []*dto.Metric {
	require := require.New(t)
	families, err := g.Gather()
	require.NoError(err)
	for _, f := range families {
		if *f.Name == name && *f.Type == mt {
			return f.Metric
		}
	}
	return nil
}

func fixture(name string) mustache.FileSource {
	return mustache.FileSource(filepath.Join("..", "mustache", "testdata", "templates", name))
}

func gaugeFor(metrics []*dto.Metric, mime string) float64 {
	for _, m := range metrics {
		for _, l := range m.Label {
			if l.GetName() == "mimetype" && l.GetValue() == mime {
				return m.GetGauge().GetValue()
			}
		}
	}
	return -1
}

func TestTemplateMetrics(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	c := mustache.NewCollector(testr.New(t), registry.New())
	require.NoError(metrics.Start(ctx, testr.New(t), reg, c))

	c.AddTemplate(fixture("kitten1.mst"))
	c.AddTemplate(fixture("kitten2.mst.json"))
	c.AddTemplate(fixture("kitten3.mst.html"))
	page := c.AddTemplate(fixture("mustache/base.mst.html"))
	c.AddTemplate(fixture("mustache/user.mst.html"))

	_, err := page.Render(context.Background(), mustache.RequestScope{}, map[string]any{
		"names": []map[string]any{{"name": "tom"}},
	})
	require.NoError(err)

	registered := findMetrics(t, reg, "mustache_registered_templates", dto.MetricType_GAUGE)
	require.Len(registered, 4)
	require.Equal(float64(1), gaugeFor(registered, mustache.MimePlain))
	require.Equal(float64(1), gaugeFor(registered, mustache.MimeJSON))
	require.Equal(float64(3), gaugeFor(registered, mustache.MimeHTML))
	require.Equal(float64(0), gaugeFor(registered, mustache.MimeXML))

	cached := findMetrics(t, reg, "mustache_cached_templates", dto.MetricType_GAUGE)
	require.Len(cached, 1)
	require.Equal(float64(2), cached[0].GetGauge().GetValue())

	fragments := findMetrics(t, reg, "mustache_cached_fragments", dto.MetricType_GAUGE)
	require.Len(fragments, 1)
	require.Equal(float64(1), fragments[0].GetGauge().GetValue())
}

func TestTemplateMetricsAreUnregistered(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())

	reg := prometheus.NewRegistry()
	c := mustache.NewCollector(testr.New(t), registry.New())
	require.NoError(metrics.Start(ctx, testr.New(t), reg, c))
	require.Error(metrics.Start(ctx, testr.New(t), reg, c))

	cancel()

	require.Eventually(func() bool {
		return findMetrics(t, reg, "mustache_registered_templates", dto.MetricType_GAUGE) == nil
	}, 5*time.Second, 10*time.Millisecond)
}
