package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "gmflicense/internal/errors"
	"gmflicense/internal/license"
	"gmflicense/internal/middleware"
	api "gmflicense/pkg/contracts/api/v1"
)

// PublicHandler serves the endpoints client machines call
type PublicHandler struct {
	service      PublicService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewPublicHandler creates a new public handler
func NewPublicHandler(service PublicService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "public")),
	}
}

// Routes sets up the public routes
func (h *PublicHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/validate", h.Validate)
	r.Post("/info", h.Info)
	r.Post("/heartbeat", h.Heartbeat)
	r.Post("/consume-token", h.ConsumeToken)
	return r
}

// Validate handles POST /api/public/validate
func (h *PublicHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	snap, err := h.service.Validate(r.Context(), req.LicenseKey, req.MachineID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.NewValidateResponse(snap))
}

// Info handles POST /api/public/info
func (h *PublicHandler) Info(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	snap, err := h.service.Info(r.Context(), req.LicenseKey, req.MachineID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.NewInfoResponse(snap))
}

// Heartbeat handles POST /api/public/heartbeat
func (h *PublicHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.LicenseRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	res, err := h.service.Heartbeat(r.Context(), req.LicenseKey, req.MachineID)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.HeartbeatResponse{Status: res.Status})
}

// ConsumeToken handles POST /api/public/consume-token
func (h *PublicHandler) ConsumeToken(w http.ResponseWriter, r *http.Request) {
	var req api.ConsumeTokenRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	res, err := h.service.Consume(r.Context(), license.ConsumeRequest{
		LicenseKey:     req.LicenseKey,
		MachineID:      req.MachineID,
		Tokens:         req.Tokens,
		Reason:         req.Reason,
		AdditionalInfo: req.AdditionalInfo,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.ConsumeTokenResponse{
		TokensConsumed:  res.TokensConsumed,
		TokensRemaining: res.TokensRemaining,
	})
}
