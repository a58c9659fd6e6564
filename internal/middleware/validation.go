package middleware

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "gmflicense/internal/errors"
	"gmflicense/internal/license"
)

// DefaultMaxBodySize bounds decoded request bodies
const DefaultMaxBodySize = 1 << 20

// Validator decodes and validates request payloads using struct tags
type Validator struct {
	validate    *validator.Validate
	maxBodySize int64
}

// NewValidator creates a validator with the license specific tags registered
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("licensekey", isLicenseKey)
	_ = v.RegisterValidation("machineid", isMachineID)

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Validator{
		validate:    v,
		maxBodySize: DefaultMaxBodySize,
	}
}

// Decode reads a JSON body into dst and validates it
func (m *Validator) Decode(r *http.Request, dst interface{}) error {
	if r.Body == nil || r.Body == http.NoBody {
		return apierrors.InvalidRequestWithError(errors.New("request body is required"))
	}
	r.Body = http.MaxBytesReader(nil, r.Body, m.maxBodySize)

	if err := render.DecodeJSON(r.Body, dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apierrors.NewWithDetails(http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE",
				"Request body exceeds maximum allowed size", map[string]interface{}{"max_size": m.maxBodySize})
		case errors.Is(err, io.EOF):
			return apierrors.InvalidRequestWithError(errors.New("request body is required"))
		default:
			return apierrors.InvalidRequestWithError(err)
		}
	}

	return m.Struct(dst)
}

// Struct validates v. A malformed license key is reported as the license
// error so clients see the same code the engine would return.
func (m *Validator) Struct(v interface{}) error {
	err := m.validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	validationErrors := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() == "licensekey" {
			return fmt.Errorf("%s: %w", fe.Field(), license.ErrMalformedKey)
		}
		validationErrors = append(validationErrors, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}

	return apierrors.NewValidationErrors(validationErrors)
}

// formatValidationError formats validation error messages
func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "uuid", "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", field)
	case "machineid":
		return fmt.Sprintf("%s must be 1-255 printable characters", field)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, param)
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, param)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// isLicenseKey validates the GMF-YYYY-PPP-XXXXXXXX key format
func isLicenseKey(fl validator.FieldLevel) bool {
	return license.IsValidKey(fl.Field().String())
}

// isMachineID accepts non-empty identifiers without control characters
func isMachineID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" || len(id) > 255 {
		return false
	}
	for _, ch := range id {
		if ch < 0x20 || ch == 0x7f {
			return false
		}
	}
	return true
}

// QueryInt parses an optional integer query parameter bounded by [min, max]
func QueryInt(r *http.Request, param string, min, max, defaultValue int) (int, error) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, apierrors.ErrValidation(param, fmt.Sprintf("%s must be a valid integer", param))
	}
	if n < min || n > max {
		return 0, apierrors.ErrValidation(param, fmt.Sprintf("%s must be between %d and %d", param, min, max))
	}

	return n, nil
}

// QueryEnum parses an optional query parameter restricted to allowed values
func QueryEnum(r *http.Request, param string, allowed []string) (string, error) {
	value := r.URL.Query().Get(param)
	if value == "" {
		return "", nil
	}

	for _, a := range allowed {
		if value == a {
			return value, nil
		}
	}

	return "", apierrors.ErrValidation(param, fmt.Sprintf("%s must be one of: %s", param, strings.Join(allowed, ", ")))
}
