package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"notify-pipeline/internal/handler/http/delivery"
	"notify-pipeline/internal/handler/http/media"
	"notify-pipeline/internal/handler/http/requestid"
	"notify-pipeline/internal/handler/http/schedule"
	"notify-pipeline/internal/observability/tracing"
)

// RouterConfig carries the use cases behind the ops API. A nil Schedules
// leaves the schedule routes unmounted.
type RouterConfig struct {
	Logger         *slog.Logger
	Health         *HealthHandler
	Dispatcher     delivery.Dispatcher
	Recaller       delivery.Recaller
	Callbacks      delivery.Callbacks
	Schedules      schedule.Manager
	Uploader       media.Uploader
	RequestTimeout time.Duration
	MaxBodyBytes   int64
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	r := chi.NewRouter()
	r.Use(requestid.Middleware)
	r.Use(tracing.Middleware)
	r.Use(Recover(logger))
	r.Use(Logging(logger))
	r.Use(MetricsMiddleware)

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Live)
		r.Get("/health/ready", cfg.Health.Ready)
	}
	r.Handle("/metrics", MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(LimitRequestBody(cfg.MaxBodyBytes))

		delivery.Register(r, cfg.Dispatcher, cfg.Recaller, cfg.Callbacks)
		if cfg.Schedules != nil {
			schedule.Register(r, cfg.Schedules)
		}
		if cfg.Uploader != nil {
			media.Register(r, cfg.Uploader)
		}
	})
	return r
}
