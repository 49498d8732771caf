// Package httptransport is the ops HTTP surface: probes, metrics and operator
// actions. It delegates to services and holds no business logic.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"supporterhub/internal/jobs"
	"supporterhub/internal/platform/metrics"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/middleware/admin"
	"supporterhub/pkg/platform/middleware/requesttime"
)

// Check is one readiness dependency.
type Check struct {
	Name  string
	Probe func(ctx context.Context) error
}

type JobTrigger interface {
	Trigger(ctx context.Context, name string) (jobs.Summary, error)
}

type Merger interface {
	Merge(ctx context.Context, sourceID, targetID id.SupporterID, actor, reason string) (*models.Supporter, error)
}

type Handler struct {
	jobs    JobTrigger
	merger  Merger
	checks  []Check
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type HandlerOption func(*Handler)

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

func NewHandler(jobs JobTrigger, merger Merger, checks []Check, logger *slog.Logger, opts ...HandlerOption) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{jobs: jobs, merger: merger, checks: checks, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter mounts the probes openly and the /admin routes behind the admin
// token.
func NewRouter(h *Handler, adminToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdminToken(adminToken, h.logger, h.metrics))
		r.Use(middleware.Timeout(5 * time.Minute))
		r.Post("/jobs/{job}/run", h.handleRunJob)
		r.Post("/supporters/{targetID}/merge", h.handleMerge)
	})
	return r
}
