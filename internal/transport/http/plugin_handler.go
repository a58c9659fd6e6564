package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "gmflicense/internal/errors"
	"gmflicense/internal/middleware"
	api "gmflicense/pkg/contracts/api/v1"
)

// PluginHandler serves plugin activation and status
type PluginHandler struct {
	service      PluginService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewPluginHandler creates a new plugin handler
func NewPluginHandler(service PluginService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *PluginHandler {
	return &PluginHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "plugins")),
	}
}

// Routes sets up the plugin routes
func (h *PluginHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/activate", h.Activate)
	r.Get("/status/{licenseKey}/{pluginId}", h.Status)
	return r
}

// Activate handles POST /api/plugins/activate
func (h *PluginHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req api.ActivatePluginRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ent, err := h.service.ActivatePlugin(r.Context(), req.LicenseKey, req.PluginID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.NewPluginActivationResponse(ent))
}

// Status handles GET /api/plugins/status/{licenseKey}/{pluginId}
func (h *PluginHandler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.PluginStatus(r.Context(), chi.URLParam(r, "licenseKey"), chi.URLParam(r, "pluginId"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, st)
}
