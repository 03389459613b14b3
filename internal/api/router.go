package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hackgods/teleconsult-scheduling/internal/availability"
	"github.com/hackgods/teleconsult-scheduling/internal/reservation"
	"github.com/hackgods/teleconsult-scheduling/internal/tzconv"
)

// Service is the part of reservation.Service the HTTP layer uses.
type Service interface {
	ProposeSlots(ctx context.Context, in reservation.ProposeInput) (*reservation.Reservation, error)
	Approve(ctx context.Context, id uuid.UUID, chosen time.Time, durationMinutes int) (*reservation.Reservation, error)
	AcceptProposal(ctx context.Context, id uuid.UUID, chosen time.Time) (*reservation.Reservation, error)
	RequestChange(ctx context.Context, id uuid.UUID, in reservation.ProposeInput) (*reservation.Reservation, error)
	Resubmit(ctx context.Context, id uuid.UUID, in reservation.ProposeInput) (*reservation.Reservation, error)
	Reject(ctx context.Context, id uuid.UUID, reasonCode, reasonText string) (*reservation.Reservation, error)
	UndoApproval(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	MarkNoShow(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	AvailabilityForDate(ctx context.Context, date tzconv.LocalDate, tz string) (*availability.Range, error)
	AvailabilityRangesForDate(ctx context.Context, date tzconv.LocalDate, tz string) ([]availability.Range, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*reservation.Reservation, error)
	ListReservations(ctx context.Context, filter reservation.ListFilter) ([]reservation.Reservation, error)
}

type RouterConfig struct {
	Service                Service
	Logger                 *zap.Logger
	Gatherer               prometheus.Gatherer
	Checks                 []Check
	Env                    string
	Version                string
	DefaultDurationMinutes int
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(ActorMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	h := &handlers{svc: cfg.Service, logger: logger, defaultDuration: cfg.DefaultDurationMinutes}

	r.Get("/availability", h.availability)

	// Reservation endpoints
	r.Route("/reservations", func(r chi.Router) {
		r.Post("/", h.propose)
		r.Get("/", h.list)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/approve", h.approve)
			r.Post("/accept", h.accept)
			r.Post("/reject", h.reject)
			r.Post("/request-change", h.requestChange)
			r.Post("/resubmit", h.resubmit)
			r.Post("/undo-approval", h.undoApproval)
			r.Post("/complete", h.complete)
			r.Post("/no-show", h.noShow)
		})
	})

	return r
}
