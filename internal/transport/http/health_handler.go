package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"gmflicense/pkg/contracts"
	api "gmflicense/pkg/contracts/api/v1"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusAlive     = "alive"
)

const readinessTimeout = 2 * time.Second

// HealthHandler handles health-related HTTP requests
type HealthHandler struct {
	checker HealthChecker
	logger  *slog.Logger
	now     func() time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checker HealthChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		logger:  logger.With(slog.String("handler", "health")),
		now:     time.Now,
	}
}

// Routes sets up the health routes
func (h *HealthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.HealthCheck)
	r.Get("/live", h.LivenessCheck)
	r.Get("/ready", h.ReadinessCheck)
	return r
}

// HealthCheck handles GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.ReadinessCheck(w, r)
}

// LivenessCheck handles GET /api/health/live
func (h *HealthHandler) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, api.HealthResponse{
		Status:    StatusAlive,
		Version:   contracts.Version,
		Timestamp: h.now().UTC(),
	})
}

// ReadinessCheck handles GET /api/health/ready. An unreachable store makes the
// service unavailable; an unreachable cache only degrades it.
func (h *HealthHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	storeErr, cacheErr := h.checker.Ping(ctx)

	resp := api.HealthResponse{
		Status:     StatusHealthy,
		Version:    contracts.Version,
		Timestamp:  h.now().UTC(),
		Components: map[string]string{"store": StatusHealthy, "cache": StatusHealthy},
	}

	if cacheErr != nil {
		resp.Status = StatusDegraded
		resp.Components["cache"] = StatusUnhealthy
		h.logger.WarnContext(ctx, "cache health check failed", slog.String("error", cacheErr.Error()))
	}
	if storeErr != nil {
		resp.Status = StatusUnhealthy
		resp.Components["store"] = StatusUnhealthy
		h.logger.ErrorContext(ctx, "store health check failed", slog.String("error", storeErr.Error()))
		render.Status(r, http.StatusServiceUnavailable)
	}

	render.JSON(w, r, resp)
}

// Version handles GET /api/version
func (h *HealthHandler) Version(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, contracts.GetVersionInfo())
}
