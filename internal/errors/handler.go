package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"gmflicense/internal/license"
)

// Problem types following RFC 7807
const (
	TypeValidation   = "/errors/validation"
	TypeNotFound     = "/errors/not-found"
	TypeUnauthorized = "/errors/unauthorized"
	TypeForbidden    = "/errors/forbidden"
	TypeRateLimit    = "/errors/rate-limit"
	TypeInternal     = "/errors/internal"
	TypeServiceDown  = "/errors/service-unavailable"
	TypeTimeout      = "/errors/timeout"
	TypeConflict     = "/errors/conflict"
)

// License problem types
const (
	TypeMalformedKey       = "/errors/license/malformed-key"
	TypeLicenseNotFound    = "/errors/license/not-found"
	TypeLicenseRevoked     = "/errors/license/revoked"
	TypeLicenseExpired     = "/errors/license/expired"
	TypeInvalidState       = "/errors/license/invalid-state"
	TypeInsufficientTokens = "/errors/license/insufficient-tokens"
	TypeAlreadyEntitled    = "/errors/license/already-entitled"
)

// ErrorHandler provides centralized error handling
type ErrorHandler struct {
	logger       *slog.Logger
	includeStack bool
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *slog.Logger, includeStack bool) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger.With(slog.String("component", "error_handler")),
		includeStack: includeStack,
	}
}

// HandleError converts any error to RFC 7807 format and responds
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}

	reqID := middleware.GetReqID(r.Context())
	problem := h.ErrorToProblem(err, r)
	problem.WithExtension("trace_id", reqID)

	attrs := []any{
		slog.String("error", err.Error()),
		slog.Int("status", problem.Status),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	}
	if problem.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", attrs...)
		if h.includeStack {
			problem.WithExtension("stack", getStackTrace())
		}
	} else {
		h.logger.InfoContext(r.Context(), "request rejected", attrs...)
	}

	_ = render.Render(w, r, problem)
}

// HandleRateLimited responds 429 with a Retry-After header rounded up to whole seconds
func (h *ErrorHandler) HandleRateLimited(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}

	problem := h.ErrorToProblem(license.ErrRateLimited, r).
		WithExtension("retry_after", seconds).
		WithExtension("trace_id", middleware.GetReqID(r.Context()))

	h.logger.WarnContext(r.Context(), "request rate limited",
		slog.String("path", r.URL.Path),
		slog.String("remote_addr", r.RemoteAddr),
		slog.Int("retry_after_seconds", seconds))

	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	_ = render.Render(w, r, problem)
}

// StatusFor returns the HTTP status an error maps to
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, license.ErrMalformedKey), errors.Is(err, license.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, license.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, license.ErrInsufficientTokens):
		return http.StatusPaymentRequired
	case errors.Is(err, license.ErrAlreadyEntitled):
		return http.StatusConflict
	case errors.Is(err, license.ErrRevoked), errors.Is(err, license.ErrExpired), errors.Is(err, license.ErrInvalidState):
		return http.StatusForbidden
	case errors.Is(err, license.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, license.ErrTransient):
		return http.StatusServiceUnavailable
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return http.StatusInternalServerError
}

// ErrorToProblem converts an error to RFC 7807 Problem Details
func (h *ErrorHandler) ErrorToProblem(err error, r *http.Request) *ProblemDetails {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return h.apiErrorToProblem(apiErr, r)
	}

	instance := r.URL.Path
	status := StatusFor(err)
	code := license.ErrorCode(err)

	var problem *ProblemDetails
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		problem = NewProblemDetails(status, TypeTimeout, "Request Timeout",
			"The request took too long to process and was cancelled", instance)
		code = "TIMEOUT"

	case errors.Is(err, context.Canceled):
		problem = NewProblemDetails(status, TypeServiceDown, "Request Cancelled",
			"The request was cancelled before it completed", instance)

	case errors.Is(err, license.ErrMalformedKey):
		problem = NewProblemDetails(status, TypeMalformedKey, "Malformed License Key",
			"License keys have the form GMF-YYYY-XXX-HHHHHHHH", instance)

	case errors.Is(err, license.ErrLicenseNotFound):
		problem = NewProblemDetails(status, TypeLicenseNotFound, "License Not Found",
			"No license exists for this key", instance)

	case errors.Is(err, license.ErrNotFound):
		problem = NewProblemDetails(status, TypeNotFound, "Resource Not Found", err.Error(), instance)

	case errors.Is(err, license.ErrInsufficientTokens):
		problem = NewProblemDetails(status, TypeInsufficientTokens, "Insufficient Tokens",
			"The license does not hold enough tokens for this request", instance)
		var shortfall *license.ShortfallError
		if errors.As(err, &shortfall) {
			problem.WithExtension("available", shortfall.Available).
				WithExtension("requested", shortfall.Requested)
		}

	case errors.Is(err, license.ErrAlreadyEntitled):
		problem = NewProblemDetails(status, TypeAlreadyEntitled, "Already Entitled", err.Error(), instance)

	case errors.Is(err, license.ErrInvalidState):
		problem = NewProblemDetails(status, TypeInvalidState, "Invalid License State", err.Error(), instance)

	case errors.Is(err, license.ErrRevoked):
		problem = NewProblemDetails(status, TypeLicenseRevoked, "License Revoked",
			"This license has been revoked", instance)

	case errors.Is(err, license.ErrExpired):
		problem = NewProblemDetails(status, TypeLicenseExpired, "License Expired",
			"Your license has expired. Please renew to continue.", instance)

	case errors.Is(err, license.ErrInvalidRequest):
		problem = NewProblemDetails(status, TypeValidation, "Invalid Request", err.Error(), instance)

	case errors.Is(err, license.ErrRateLimited):
		problem = NewProblemDetails(status, TypeRateLimit, "Rate Limit Exceeded",
			"Too many requests. Please try again later.", instance)

	case errors.Is(err, license.ErrTransient):
		problem = NewProblemDetails(status, TypeServiceDown, "Service Unavailable",
			"A backing service is temporarily unavailable. The request may be retried.", instance)
		problem.WithExtension("retryable", true)

	default:
		problem = NewProblemDetails(http.StatusInternalServerError, TypeInternal, "Internal Server Error",
			"An unexpected error occurred while processing your request", instance)
	}

	return problem.WithExtension("error_code", code)
}

// apiErrorToProblem converts APIError to ProblemDetails
func (h *ErrorHandler) apiErrorToProblem(apiErr *APIError, r *http.Request) *ProblemDetails {
	problemType := TypeInternal
	switch apiErr.StatusCode {
	case http.StatusBadRequest:
		problemType = TypeValidation
	case http.StatusUnauthorized:
		problemType = TypeUnauthorized
	case http.StatusForbidden:
		problemType = TypeForbidden
	case http.StatusNotFound:
		problemType = TypeNotFound
	case http.StatusConflict:
		problemType = TypeConflict
	case http.StatusTooManyRequests:
		problemType = TypeRateLimit
	case http.StatusServiceUnavailable:
		problemType = TypeServiceDown
	}

	problem := NewProblemDetails(
		apiErr.StatusCode,
		problemType,
		http.StatusText(apiErr.StatusCode),
		apiErr.Message,
		r.URL.Path,
	).WithExtension("error_code", apiErr.ErrorCode)

	if apiErr.Details != nil {
		problem.WithExtension("details", apiErr.Details)
	}

	return problem
}

// HandlePanic reports a recovered panic as a 500 problem
func (h *ErrorHandler) HandlePanic(w http.ResponseWriter, r *http.Request, recovered interface{}) {
	reqID := middleware.GetReqID(r.Context())

	h.logger.ErrorContext(r.Context(), "panic recovered",
		slog.Any("panic", recovered),
		slog.String("request_id", reqID),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)

	problem := NewProblemDetails(
		http.StatusInternalServerError,
		TypeInternal,
		"Internal Server Error",
		"An unexpected error occurred",
		r.URL.Path,
	).WithExtension("trace_id", reqID).
		WithExtension("error_code", license.CodeInternal)

	if h.includeStack {
		problem.WithExtension("panic", fmt.Sprintf("%v", recovered))
		problem.WithExtension("stack", getStackTrace())
	}

	_ = render.Render(w, r, problem)
}

// NotFound returns a standard 404 error
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusNotFound,
		TypeNotFound,
		"Not Found",
		"The requested resource was not found",
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	_ = render.Render(w, r, problem)
}

// MethodNotAllowed returns a standard 405 error
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	problem := NewProblemDetails(
		http.StatusMethodNotAllowed,
		TypeInternal,
		"Method Not Allowed",
		fmt.Sprintf("Method %s is not allowed for this endpoint", r.Method),
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))

	_ = render.Render(w, r, problem)
}

// getStackTrace returns the current stack trace
func getStackTrace() string {
	buf := make([]byte, 1024*8)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
