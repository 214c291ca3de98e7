package web

import (
	"context"

	"github.com/draganm/lean-mustache/mustache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	responseDurations = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "mustache_web_response_duration",
		Help: "HTTP Response Duration",
	}, []string{"method", "path"})

	responseSizes = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "mustache_web_response_size_bytes",
		Help: "HTTP Response body size",
	}, []string{"method", "path"})

	responseStatusCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mustache_web_response_status_count",
		Help: "HTTP Status per response",
	}, []string{"status", "method", "path"})
)

const (
	SessionCookie = "session"
	FlashCookie   = "flash"
)

// Renderer is what the registry hands out for a template name.
type Renderer interface {
	Render(ctx context.Context, scope mustache.RequestScope, vars map[string]any) (mustache.Rendered, error)
}

// RenderRequest is the optional JSON body of a POST to /render.
type RenderRequest struct {
	Vars  map[string]any    `json:"vars"`
	Flash map[string]string `json:"flash"`
}
