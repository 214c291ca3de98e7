package web_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/draganm/lean-mustache/mustache"
	"github.com/draganm/lean-mustache/registry"
	"github.com/draganm/lean-mustache/web"
	"github.com/go-logr/logr/testr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func findMetrics(t *testing.T, name string, mt dto.MetricType) []*dto.Metric {
	require := require.New(t)
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(err)
	for _, f := range families {
		if *f.Name == name && *f.Type == mt {
			return f.Metric
		}
	}
	return nil
}

type fixture struct {
	handler   http.Handler
	collector *mustache.Collector
	dir       string
}

func newFixture(t *testing.T, templates map[string]string) *fixture {
	require := require.New(t)

	reg := registry.New()
	c := mustache.NewCollector(testr.New(t), reg)
	dir := filepath.Join(t.TempDir(), "templates")

	for name, content := range templates {
		pth := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(os.MkdirAll(filepath.Dir(pth), 0o755))
		require.NoError(os.WriteFile(pth, []byte(content), 0o644))
		c.AddTemplate(mustache.FileSource(pth))
	}

	h, err := web.NewBuilder(reg).WithMetrics(promhttp.Handler()).Create(testr.New(t))
	require.NoError(err)

	return &fixture{handler: h, collector: c, dir: dir}
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestListTemplates(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"cats.mst.json":       `[{{#items}}"{{name}}"{{/items}}]`,
		"mail/welcome.mst":    "Welcome {{name}}",
		"page/index.mst.html": "<h1>{{title}}</h1>",
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/templates", nil))
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("application/json", rec.Header().Get("content-type"))

	list := []map[string]string{}
	require.NoError(json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(list, 3)

	names := []string{}
	for _, p := range list {
		require.Equal("mustache", p["engine"])
		names = append(names, p["name"])
	}
	require.ElementsMatch([]string{"cats", "mail/welcome", "page/index"}, names)
}

func TestRenderWithQueryParameters(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"mail/welcome.mst.html": "<p>Welcome {{name}}</p>",
	})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/render/mail/welcome?name=Wisdom", nil))
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("text/html; charset=utf-8", rec.Header().Get("content-type"))
	require.Equal("<p>Welcome Wisdom</p>", rec.Body.String())
}

func TestRenderWithJSONBody(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"cats.mst.json": `[{{#items}}"{{name}}",{{/items}}]`,
	})

	req := httptest.NewRequest(http.MethodPost, "/render/cats", strings.NewReader(`{"vars": {"items": [{"name": "romeo"}, {"name": "tom"}]}}`))
	req.Header.Set("content-type", "application/json")

	rec := f.do(req)
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("application/json; charset=utf-8", rec.Header().Get("content-type"))
	require.Equal(`["romeo","tom",]`, rec.Body.String())
}

func TestRenderWithBadJSONBody(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"cats.mst.json": `[]`,
	})

	req := httptest.NewRequest(http.MethodPost, "/render/cats", strings.NewReader(`{"vars": `))
	req.Header.Set("content-type", "application/json")

	require.Equal(http.StatusBadRequest, f.do(req).Code)
}

func TestRenderWithSessionAndFlash(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"var.mst": "{{user}}:{{notice}}",
	})

	req := httptest.NewRequest(http.MethodGet, "/render/var", nil)
	req.AddCookie(&http.Cookie{Name: web.SessionCookie, Value: web.EncodeCookieValues(map[string]string{"user": "romeo"})})
	req.AddCookie(&http.Cookie{Name: web.FlashCookie, Value: web.EncodeCookieValues(map[string]string{"notice": "saved & done"})})

	rec := f.do(req)
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("romeo:saved &amp; done", rec.Body.String())

	cookies := rec.Result().Cookies()
	require.Len(cookies, 1)
	require.Equal(web.FlashCookie, cookies[0].Name)
	require.Equal(-1, cookies[0].MaxAge)
}

func TestRenderSetsOutgoingFlash(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"var.mst": "{{notice}}",
	})

	req := httptest.NewRequest(http.MethodPost, "/render/var", strings.NewReader(`{"flash": {"notice": "created"}}`))
	req.Header.Set("content-type", "application/json")
	req.AddCookie(&http.Cookie{Name: web.FlashCookie, Value: web.EncodeCookieValues(map[string]string{"notice": "stale"})})

	rec := f.do(req)
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("created", rec.Body.String())

	cookies := rec.Result().Cookies()
	require.Len(cookies, 1)
	values, err := url.ParseQuery(cookies[0].Value)
	require.NoError(err)
	require.Equal("created", values.Get("notice"))
}

func TestRenderWithFormParameters(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"tags.mst": "{{#tag}}[{{.}}]{{/tag}}",
	})

	req := httptest.NewRequest(http.MethodPost, "/render/tags", strings.NewReader("tag=a&tag=b"))
	req.Header.Set("content-type", "application/x-www-form-urlencoded")

	rec := f.do(req)
	require.Equal(http.StatusOK, rec.Code)
	require.Equal("[a][b]", rec.Body.String())
}

func TestRenderErrors(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"broken.mst":  "{{#items}}never closed",
		"partial.mst": "{{> missing}}",
	})

	require.Equal(http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/render/nope", nil)).Code)
	require.Equal(http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/render/", nil)).Code)
	require.Equal(http.StatusInternalServerError, f.do(httptest.NewRequest(http.MethodGet, "/render/broken", nil)).Code)
	require.Equal(http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/render/partial", nil)).Code)
}

func TestRenderAfterDeletion(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"gone.mst": "here",
	})

	require.Equal(http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/render/gone", nil)).Code)

	f.collector.DeleteTemplate(mustache.FileSource(filepath.Join(f.dir, "gone.mst")))
	require.Equal(http.StatusNotFound, f.do(httptest.NewRequest(http.MethodGet, "/render/gone", nil)).Code)
}

func TestWebMetrics(t *testing.T) {
	require := require.New(t)
	f := newFixture(t, map[string]string{
		"hello.mst": "hello",
	})

	require.Equal(http.StatusOK, f.do(httptest.NewRequest(http.MethodGet, "/render/hello", nil)).Code)

	require.NotEmpty(findMetrics(t, "mustache_web_response_duration", dto.MetricType_SUMMARY))
	require.NotEmpty(findMetrics(t, "mustache_web_response_status_count", dto.MetricType_COUNTER))

	sizes := findMetrics(t, "mustache_web_response_size_bytes", dto.MetricType_SUMMARY)
	require.NotEmpty(sizes)
	var rendered *dto.Metric
	for _, m := range sizes {
		for _, l := range m.Label {
			if l.GetName() == "path" && l.GetValue() == "/render" {
				rendered = m
			}
		}
	}
	require.NotNil(rendered)
	require.GreaterOrEqual(rendered.GetSummary().GetSampleSum(), float64(len("hello")))

	rec := f.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(http.StatusOK, rec.Code)
	require.Contains(rec.Body.String(), "mustache_web_response_status_count")
}

func TestCreateWithoutRegistry(t *testing.T) {
	_, err := web.NewBuilder(nil).Create(testr.New(t))
	require.Error(t, err)
}
