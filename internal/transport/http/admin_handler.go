package http

import (
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "gmflicense/internal/errors"
	"gmflicense/internal/license"
	"gmflicense/internal/middleware"
	api "gmflicense/pkg/contracts/api/v1"
	"gmflicense/pkg/contracts/domain"
)

// Listing bounds for GET /api/admin/licenses
const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxPage         = 100000
)

// AdminHandler serves license administration
type AdminHandler struct {
	service      AdminService
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service AdminService, validator *middleware.Validator, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "admin")),
	}
}

// Routes sets up the admin routes. Authentication is applied by the caller.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/licenses", h.List)
	r.Post("/licenses", h.Generate)
	r.Post("/licenses/free-trial", h.FreeTrial)
	r.Get("/licenses/{key}", h.Get)
	r.Post("/licenses/{key}/revoke", h.Revoke)
	r.Get("/licenses/{key}/history", h.History)
	return r
}

// Generate handles POST /api/admin/licenses
func (h *AdminHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req api.GenerateLicenseRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	lic, err := h.service.Generate(r.Context(), license.GenerateRequest{
		PlanID:         req.PlanID,
		ExpirationDate: req.ExpirationDate,
		CustomerID:     req.CustomerID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "license generated",
		slog.String("license_id", lic.ID),
		slog.String("plan_id", lic.PlanID))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.NewLicenseResponse(lic))
}

// FreeTrial handles POST /api/admin/licenses/free-trial
func (h *AdminHandler) FreeTrial(w http.ResponseWriter, r *http.Request) {
	var req api.FreeTrialRequest
	if err := h.validator.Decode(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	lic, err := h.service.CreateFreeTrial(r.Context(), license.FreeTrialRequest{
		PlanID:         req.PlanID,
		Email:          req.Email,
		Name:           req.Name,
		AdditionalInfo: req.AdditionalInfo,
		DurationDays:   req.DurationDays,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, api.FreeTrialResponse{
		LicenseKey:     lic.Key,
		ExpirationDate: lic.ExpirationDate,
		PlanID:         lic.PlanID,
		Tokens:         lic.TokensRemaining,
		DurationDays:   int(math.Round(lic.ExpirationDate.Sub(lic.CreatedAt).Hours() / 24)),
	})
}

// List handles GET /api/admin/licenses?status=&planId=&page=&limit=
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := middleware.QueryInt(r, "page", 1, maxPage, 1)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	limit, err := middleware.QueryInt(r, "limit", 1, maxPageSize, defaultPageSize)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}
	rawStatus, err := middleware.QueryEnum(r, "status", []string{
		string(domain.LicenseStatusActive),
		string(domain.LicenseStatusExpired),
		string(domain.LicenseStatusRevoked),
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	var status *domain.LicenseStatus
	if rawStatus != "" {
		s := domain.LicenseStatus(rawStatus)
		status = &s
	}

	result, err := h.service.ListLicenses(r.Context(), status, r.URL.Query().Get("planId"), page, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.NewLicenseListResponse(result))
}

// Get handles GET /api/admin/licenses/{key}
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	lic, err := h.service.GetLicense(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.NewLicenseResponse(lic))
}

// Revoke handles POST /api/admin/licenses/{key}/revoke. The body is optional.
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	var req api.RevokeLicenseRequest
	if r.ContentLength > 0 {
		if err := h.validator.Decode(r, &req); err != nil {
			h.errorHandler.HandleError(w, r, err)
			return
		}
	}

	lic, err := h.service.Revoke(r.Context(), chi.URLParam(r, "key"), req.Reason)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.NewLicenseResponse(lic))
}

// History handles GET /api/admin/licenses/{key}/history?limit=
func (h *AdminHandler) History(w http.ResponseWriter, r *http.Request) {
	limit, err := middleware.QueryInt(r, "limit", 1, license.MaxHistoryLimit, 0)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	key := chi.URLParam(r, "key")
	events, err := h.service.History(r.Context(), key, limit)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.NewUsageHistoryResponse(key, events))
}
