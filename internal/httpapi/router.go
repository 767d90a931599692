package httpapi

import (
	"context"
	"net/http"
	"time"

	"expense_sync/internal/queue"
	"expense_sync/internal/syncer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type queueService interface {
	Count(ctx context.Context) (int64, error)
	CountByStatus(ctx context.Context) (map[queue.Status]int64, error)
	ListPending(ctx context.Context) ([]queue.Item, error)
	ListFailed(ctx context.Context) ([]queue.Item, error)
	Requeue(ctx context.Context, id string) error
}

type drainer interface {
	Drain(ctx context.Context) (syncer.Result, error)
	Trigger()
	Draining() bool
}

type Params struct {
	Store    pinger
	Queue    queueService
	Engine   drainer
	Registry *prometheus.Registry
}

// NewRouter serves the local status API. It is meant for loopback use and
// carries no authentication.
func NewRouter(p Params) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
		requestLogger,
	)

	r.Get("/healthz", health(p.Store))

	r.Route("/queue", func(r chi.Router) {
		r.Get("/", queueSummary(p.Queue, p.Engine))
		r.Get("/failed", queueFailed(p.Queue))
		r.Post("/{id}/requeue", queueRequeue(p.Queue, p.Engine))
	})

	r.Post("/sync", syncNow(p.Engine))

	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
