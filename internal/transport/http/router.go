package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"bookmarks/internal/platform/health"
	"bookmarks/pkg/platform/middleware/request"
)

// RouterDeps are the pieces the router mounts.
type RouterDeps struct {
	Logger    *slog.Logger
	Latency   *request.Metrics
	Health    *health.Handler
	Metrics   http.Handler
	Admission func(http.Handler) http.Handler
	Account   *AccountHandler
}

// NewRouter wires all public endpoints with middleware. Probes and /metrics
// sit outside admission; everything else is authenticated and rate limited.
func NewRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(request.Recovery(d.Logger))
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(request.ClientIP)
	r.Use(request.Logger(d.Logger))
	r.Use(request.LatencyMiddleware(d.Latency))

	if d.Health != nil {
		d.Health.Register(r)
	}
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	// Admission runs inside the group so it sees the matched route pattern.
	r.Group(func(r chi.Router) {
		r.Use(d.Admission)
		d.Account.Register(r)
	})

	return r
}
