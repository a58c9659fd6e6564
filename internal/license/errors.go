package license

import (
	"context"
	"errors"
	"fmt"
)

// Domain errors returned by the engine
var (
	ErrMalformedKey       = errors.New("license key is malformed")
	ErrNotFound           = errors.New("not found")
	ErrRevoked            = errors.New("license has been revoked")
	ErrExpired            = errors.New("license has expired")
	ErrInsufficientTokens = errors.New("insufficient tokens")
	ErrAlreadyEntitled    = errors.New("already entitled")
	ErrInvalidState       = errors.New("license is not in a valid state for this operation")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrTransient          = errors.New("temporarily unavailable")
)

// Refinements of the domain errors. Each matches its parent with errors.Is.
var (
	ErrLicenseNotFound = fmt.Errorf("license %w", ErrNotFound)
	ErrPlanNotFound    = fmt.Errorf("plan %w", ErrNotFound)
	ErrPluginNotFound  = fmt.Errorf("plugin %w", ErrNotFound)
	ErrNoPluginVersion = fmt.Errorf("plugin has no released version: %w", ErrInvalidState)
	ErrPlanInactive    = fmt.Errorf("plan is not active: %w", ErrInvalidState)
	ErrTrialExists     = fmt.Errorf("an active trial exists for this email: %w", ErrAlreadyEntitled)
)

var domainErrors = []error{
	ErrMalformedKey,
	ErrNotFound,
	ErrRevoked,
	ErrExpired,
	ErrInsufficientTokens,
	ErrAlreadyEntitled,
	ErrInvalidState,
	ErrInvalidRequest,
	ErrRateLimited,
	ErrTransient,
}

// ShortfallError reports a consumption the balance could not cover
type ShortfallError struct {
	Available int64
	Requested int64
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("insufficient tokens: available %d, requested %d", e.Available, e.Requested)
}

// Is makes a ShortfallError match ErrInsufficientTokens
func (e *ShortfallError) Is(target error) bool {
	return target == ErrInsufficientTokens
}

// IsDomainError reports whether err carries one of the engine's domain errors
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the caller may safely retry the operation
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound reports whether err is a not-found outcome
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// storeError classifies an error returned by the store. Domain outcomes pass
// through unchanged, everything else becomes ErrTransient.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// Stable machine-readable codes for the domain errors
const (
	CodeOK                 = "OK"
	CodeMalformedKey       = "MALFORMED_KEY"
	CodeNotFound           = "NOT_FOUND"
	CodeRevoked            = "LICENSE_REVOKED"
	CodeExpired            = "LICENSE_EXPIRED"
	CodeInsufficientTokens = "INSUFFICIENT_TOKENS"
	CodeAlreadyEntitled    = "ALREADY_ENTITLED"
	CodeInvalidState       = "INVALID_STATE"
	CodeInvalidRequest     = "INVALID_REQUEST"
	CodeRateLimited        = "RATE_LIMITED"
	CodeTransient          = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// ErrorCode maps err to its stable code. A nil error maps to CodeOK.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrMalformedKey):
		return CodeMalformedKey
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrInsufficientTokens):
		return CodeInsufficientTokens
	case errors.Is(err, ErrAlreadyEntitled):
		return CodeAlreadyEntitled
	case errors.Is(err, ErrInvalidState):
		return CodeInvalidState
	case errors.Is(err, ErrRevoked):
		return CodeRevoked
	case errors.Is(err, ErrExpired):
		return CodeExpired
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return CodeTransient
	default:
		return CodeInternal
	}
}
