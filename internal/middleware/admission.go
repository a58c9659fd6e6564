package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	apierrors "gmflicense/internal/errors"
	"gmflicense/internal/ratelimit"
)

// Rate limit response headers
const (
	HeaderRateLimitLimit     = "RateLimit-Limit"
	HeaderRateLimitRemaining = "RateLimit-Remaining"
	HeaderRateLimitReset     = "RateLimit-Reset"
)

// AdminKeyHeader carries the administrator key on admin routes
const AdminKeyHeader = "X-Admin-Key"

// Admission locks out clients whose failed credential attempts have filled
// their sliding window. Passing requests are not counted; the credential
// check reports failures through Fail. Locked-out clients are answered before
// the protected handler runs.
type Admission struct {
	window       *ratelimit.SlidingWindow
	errorHandler *apierrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdmission wraps window as chi middleware
func NewAdmission(window *ratelimit.SlidingWindow, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) *Admission {
	return &Admission{
		window:       window,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("component", "admission_guard")),
	}
}

// Handler implements the admission middleware
func (a *Admission) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ClientIP(r)
		decision := a.window.Peek(client)
		setRateLimitHeaders(w.Header(), decision)

		if !decision.Allowed {
			a.logger.WarnContext(r.Context(), "admission rejected",
				slog.String("client", client),
				slog.String("path", r.URL.Path),
				slog.Duration("retry_after", decision.RetryAfter))
			a.errorHandler.HandleRateLimited(w, r, decision.RetryAfter)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Fail counts a failed credential attempt against the client of r and
// refreshes the rate limit headers on w
func (a *Admission) Fail(w http.ResponseWriter, r *http.Request) {
	if a == nil {
		return
	}
	decision := a.window.Allow(ClientIP(r))
	setRateLimitHeaders(w.Header(), decision)
}

func setRateLimitHeaders(h http.Header, d ratelimit.Decision) {
	h.Set(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	if !d.Reset.IsZero() {
		h.Set(HeaderRateLimitReset, strconv.FormatInt(d.Reset.Unix(), 10))
	}
}

// ClientIP returns the host part of RemoteAddr, which RealIP has already
// rewritten from proxy headers when present.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// AdminKey rejects requests whose X-Admin-Key does not match the bcrypt hash.
// An empty hash disables the admin surface entirely. Missing and wrong keys
// are counted by admission when it is non-nil.
func AdminKey(hash string, admission *Admission, errorHandler *apierrors.ErrorHandler, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "admin_guard"))
	hashed := []byte(hash)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(AdminKeyHeader)
			if len(hashed) == 0 || presented == "" {
				admission.Fail(w, r)
				errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
				return
			}

			if err := bcrypt.CompareHashAndPassword(hashed, []byte(presented)); err != nil {
				logger.WarnContext(r.Context(), "admin key rejected",
					slog.String("client", ClientIP(r)),
					slog.String("path", r.URL.Path))
				admission.Fail(w, r)
				errorHandler.HandleError(w, r, apierrors.ErrUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
