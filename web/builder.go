package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/draganm/lean-mustache/mustache"
	"github.com/draganm/lean-mustache/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Builder struct {
	registry       *registry.Registry
	metricsHandler http.Handler
}

func NewBuilder(reg *registry.Registry) *Builder {
	return &Builder{
		registry: reg,
	}
}

// WithMetrics exposes h under /metrics.
func (b *Builder) WithMetrics(h http.Handler) *Builder {
	b.metricsHandler = h
	return b
}

func (b *Builder) Create(log logr.Logger) (http.Handler, error) {
	if b.registry == nil {
		return nil, fmt.Errorf("could not create web handler: registry is not set")
	}

	r := chi.NewMux()

	r.Get("/templates", instrument(log, "/templates", b.listTemplates))
	r.Get("/render/*", instrument(log, "/render", b.render))
	r.Post("/render/*", instrument(log, "/render", b.render))

	if b.metricsHandler != nil {
		r.Handle("/metrics", b.metricsHandler)
	}

	return otelhttp.NewHandler(r, "lean-mustache"), nil
}

func instrument(log logr.Logger, requestPath string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := log.WithValues("method", r.Method, "handlerPath", requestPath)
		r = r.WithContext(logr.NewContext(ctx, log))
		startTime := time.Now()
		crw := newCapturingResponseWriter(w)

		defer func() {
			duration := time.Since(startTime)
			durationMetric, err := responseDurations.GetMetricWithLabelValues(r.Method, requestPath)
			if err != nil {
				log.Error(err, "could not find duration metric")

			} else {
				durationMetric.Observe(duration.Seconds())
			}

			sizeMetric, err := responseSizes.GetMetricWithLabelValues(r.Method, requestPath)
			if err != nil {
				log.Error(err, "could not find size metric")
			} else {
				sizeMetric.Observe(float64(crw.written))
			}

			statusString := fmt.Sprintf("%d", crw.status)
			statusMetric, err := responseStatusCount.GetMetricWithLabelValues(statusString, r.Method, requestPath)
			if err != nil {
				log.Error(err, "could not find status metric")

			} else {
				statusMetric.Add(1)
			}
		}()
		handler(crw, r)
	}
}

func (b *Builder) listTemplates(w http.ResponseWriter, r *http.Request) {
	regs := b.registry.Find(registry.Properties{"engine": mustache.Engine})

	res := make([]registry.Properties, 0, len(regs))
	for _, reg := range regs {
		res = append(res, reg.Properties())
	}

	w.Header().Set("content-type", "application/json")
	err := json.NewEncoder(w).Encode(res)
	if err != nil {
		logr.FromContextOrDiscard(r.Context()).Error(err, "could not encode template list")
	}
}

func (b *Builder) render(w http.ResponseWriter, r *http.Request) {
	log := logr.FromContextOrDiscard(r.Context())

	name := strings.Trim(chi.URLParam(r, "*"), "/")
	if name == "" {
		http.Error(w, "template name is missing", http.StatusNotFound)
		return
	}

	reg, found := b.registry.FindLatest(registry.Properties{"engine": mustache.Engine, "name": name})
	if !found {
		http.Error(w, fmt.Sprintf("template %s not found", name), http.StatusNotFound)
		return
	}

	renderer, isRenderer := reg.Service().(Renderer)
	if !isRenderer {
		log.Info("registered service is not a renderer", "template", name)
		http.Error(w, fmt.Sprintf("template %s not found", name), http.StatusNotFound)
		return
	}

	body := RenderRequest{}
	if r.Method == http.MethodPost && strings.HasPrefix(r.Header.Get("content-type"), "application/json") {
		err := json.NewDecoder(r.Body).Decode(&body)
		if err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, fmt.Sprintf("could not decode request: %s", err.Error()), http.StatusBadRequest)
			return
		}
	}

	scope := scopeFromRequest(r)
	scope.OutgoingFlash = body.Flash

	res, err := renderer.Render(r.Context(), scope, body.Vars)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, mustache.ErrTemplateNotFound) {
			status = http.StatusNotFound
		}
		log.Error(err, "could not render template", "template", name)
		http.Error(w, err.Error(), status)
		return
	}

	writeFlash(w, scope.IncomingFlash, scope.OutgoingFlash)

	w.Header().Set("content-type", res.MimeType+"; charset=utf-8")
	_, err = io.WriteString(w, res.Body)
	if err != nil {
		log.Error(err, "could not write response")
	}
}
