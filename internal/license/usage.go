package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gmflicense/pkg/contracts/domain"
)

// Recorder appends usage events to the audit log. Events are never updated
// or deleted, and a failed append is never retried.
type Recorder struct {
	store   UsageStore
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewRecorder creates a recorder over store
func NewRecorder(store UsageStore, logger *slog.Logger, metrics *Metrics, now func() time.Time) *Recorder {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		logger:  logger.With(slog.String("component", "usage_recorder")),
		metrics: metrics,
		now:     now,
	}
}

// Record appends one event for licenseID. tokens is nil for non-consuming actions.
func (r *Recorder) Record(ctx context.Context, licenseID string, action domain.UsageAction, machineID string, tokens *int64, metadata map[string]interface{}) (*domain.UsageEvent, error) {
	now := r.now()
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	if _, ok := metadata["timestamp"]; !ok {
		metadata["timestamp"] = now.Format(time.RFC3339Nano)
	}

	event := &domain.UsageEvent{
		ID:        uuid.NewString(),
		LicenseID: licenseID,
		Action:    action,
		MachineID: machineID,
		Tokens:    tokens,
		Metadata:  metadata,
		CreatedAt: now,
	}

	if err := r.store.AppendUsage(ctx, event); err != nil {
		r.metrics.usageAppendFailed(ctx, string(action))
		r.logger.ErrorContext(ctx, "failed to append usage event",
			slog.String("license_id", licenseID),
			slog.String("action", string(action)),
			slog.String("machine_id", machineID),
			slog.String("error", err.Error()))
		return nil, storeError("append usage", err)
	}

	return event, nil
}

// RecordFailure audits a rejected operation. Errors are logged, not returned.
func (r *Recorder) RecordFailure(ctx context.Context, licenseID string, action domain.UsageAction, machineID string, cause error) {
	_, _ = r.Record(ctx, licenseID, action, machineID, nil, map[string]interface{}{
		"success": false,
		"error":   ErrorCode(cause),
	})
}

// History returns up to limit events for licenseID, newest first
func (r *Recorder) History(ctx context.Context, licenseID string, limit int) ([]domain.UsageEvent, error) {
	events, err := r.store.ListUsage(ctx, licenseID, limit)
	if err != nil {
		return nil, storeError("list usage", err)
	}
	return events, nil
}
