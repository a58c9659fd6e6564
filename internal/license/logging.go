package license

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startOp opens a span for an engine operation
func (s *Service) startOp(ctx context.Context, op, licenseKey string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "license."+op, trace.WithAttributes(
		attribute.String("license.operation", op),
		attribute.String("license.key_masked", maskLicenseKey(licenseKey)),
		attribute.String("license.key_hash", hashLicenseKey(licenseKey)),
	))
}

// endOp closes the span and records the outcome in metrics and logs
func (s *Service) endOp(ctx context.Context, span trace.Span, op, licenseKey string, start time.Time, err error, attrs ...slog.Attr) {
	duration := time.Since(start)
	code := ErrorCode(err)

	span.SetAttributes(attribute.String("license.outcome", code))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()

	s.metrics.operation(ctx, op, code, duration.Seconds())

	all := []slog.Attr{
		slog.String("operation", op),
		slog.String("outcome", code),
		slog.Duration("duration", duration),
		slog.String("license_key_masked", maskLicenseKey(licenseKey)),
		slog.String("license_key_hash", hashLicenseKey(licenseKey)),
	}
	all = append(all, attrs...)

	switch code {
	case CodeOK:
		s.logger.LogAttrs(ctx, slog.LevelDebug, "license operation completed", all...)
	case CodeTransient, CodeInternal:
		all = append(all, slog.String("error", err.Error()))
		s.logger.LogAttrs(ctx, slog.LevelError, "license operation failed", all...)
	default:
		all = append(all, slog.String("error", err.Error()))
		s.logger.LogAttrs(ctx, slog.LevelInfo, "license operation rejected", all...)
	}
}

// maskLicenseKey masks the license key for logs
func maskLicenseKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// hashLicenseKey returns a short stable digest of the key for audit correlation
func hashLicenseKey(key string) string {
	if key == "" {
		return ""
	}
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])[:16]
}

// maskEmail masks the local part of an email address, keeping the domain
func maskEmail(email string) string {
	if email == "" {
		return ""
	}

	at := strings.Index(email, "@")
	if at == -1 {
		return "****"
	}

	user, domain := email[:at], email[at:]
	if len(user) <= 2 {
		return "**" + domain
	}
	return user[:1] + "****" + user[len(user)-1:] + domain
}
