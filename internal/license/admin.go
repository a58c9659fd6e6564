package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gmflicense/pkg/contracts/domain"
)

// DefaultRevokeReason is recorded when a revocation gives no reason
const DefaultRevokeReason = "License revoked by admin"

// maxKeyAttempts bounds retries when a generated key collides with an existing one
const maxKeyAttempts = 5

// GenerateRequest describes a license to issue
type GenerateRequest struct {
	PlanID         string
	ExpirationDate time.Time
	CustomerID     *string
	Metadata       map[string]interface{}
}

// FreeTrialRequest describes a trial license to issue
type FreeTrialRequest struct {
	PlanID         string
	Email          string
	Name           string
	AdditionalInfo string
	DurationDays   int
}

// Generate issues a new ACTIVE license on an active plan with the plan's token quota.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (lic *domain.License, err error) {
	ctx, span := s.startOp(ctx, "generate", "")
	start := time.Now()
	defer func() {
		key := ""
		if lic != nil {
			key = lic.Key
		}
		s.endOp(ctx, span, "generate", key, start, err, slog.String("plan_id", req.PlanID))
	}()

	if req.PlanID == "" {
		return nil, fmt.Errorf("%w: plan id is required", ErrInvalidRequest)
	}
	if !req.ExpirationDate.After(s.clock()) {
		return nil, fmt.Errorf("%w: expiration date must be in the future", ErrInvalidRequest)
	}

	plan, err := s.activePlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	return s.issue(ctx, plan, req.ExpirationDate, req.CustomerID, req.Metadata)
}

// CreateFreeTrial issues a time-limited license to email unless an active trial
// already exists for it.
func (s *Service) CreateFreeTrial(ctx context.Context, req FreeTrialRequest) (lic *domain.License, err error) {
	ctx, span := s.startOp(ctx, "free_trial", "")
	start := time.Now()
	defer func() {
		key := ""
		if lic != nil {
			key = lic.Key
		}
		s.endOp(ctx, span, "free_trial", key, start, err,
			slog.String("plan_id", req.PlanID),
			slog.String("email_masked", maskEmail(req.Email)))
	}()

	if req.PlanID == "" || req.Email == "" {
		return nil, fmt.Errorf("%w: plan id and email are required", ErrInvalidRequest)
	}
	days := req.DurationDays
	if days <= 0 {
		days = s.trialDays
	}

	plan, err := s.activePlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	sctx, cancel := s.storeCtx(ctx)
	existing, err := s.store.FindActiveTrial(sctx, req.Email, now)
	cancel()
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, storeError("find active trial", err)
	}
	if existing != nil {
		return nil, ErrTrialExists
	}

	metadata := map[string]interface{}{
		"trialCreatedFor": req.Email,
		"customerName":    req.Name,
		"isTrial":         true,
		"createdAt":       now.Format(time.RFC3339Nano),
	}
	if req.AdditionalInfo != "" {
		metadata["additionalInfo"] = req.AdditionalInfo
	}

	lic, err = s.issue(ctx, plan, now.AddDate(0, 0, days), nil, metadata)
	if err != nil {
		return nil, err
	}

	if _, rerr := s.record(ctx, lic.ID, domain.UsageFreeTrialCreated, domain.SystemMachineID, nil, map[string]interface{}{
		"email": req.Email,
		"name":  req.Name,
	}); rerr != nil {
		s.logger.ErrorContext(ctx, "trial issued without usage event", slog.String("license_id", lic.ID))
	}

	return lic, nil
}

// Revoke moves an ACTIVE license to REVOKED and drops every cached snapshot
// of it so the next validation reads the store.
func (s *Service) Revoke(ctx context.Context, key, reason string) (lic *domain.License, err error) {
	ctx, span := s.startOp(ctx, "revoke", key)
	start := time.Now()
	defer func() {
		s.endOp(ctx, span, "revoke", key, start, err)
	}()

	if err = ValidateKeyFormat(key); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = DefaultRevokeReason
	}

	current, err := s.getLicense(ctx, key)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	lic, err = s.store.RevokeLicense(sctx, current.ID)
	cancel()
	if err != nil {
		return nil, storeError("revoke license", err)
	}

	removed := s.cache.Invalidate(ctx, key)
	s.metrics.revoked(ctx)
	s.logger.InfoContext(ctx, "license revoked",
		slog.String("license_id", lic.ID),
		slog.String("reason", reason),
		slog.Int("cache_entries_removed", removed))

	if _, rerr := s.record(ctx, lic.ID, domain.UsageRevoke, domain.SystemMachineID, nil, map[string]interface{}{
		"reason": reason,
	}); rerr != nil {
		s.logger.ErrorContext(ctx, "license revoked without usage event", slog.String("license_id", lic.ID))
	}

	return lic, nil
}

// History returns the usage events of key, newest first. A non-positive limit
// uses the configured default.
func (s *Service) History(ctx context.Context, key string, limit int) ([]domain.UsageEvent, error) {
	if err := ValidateKeyFormat(key); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = s.historyLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	lic, err := s.getLicense(ctx, key)
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.recorder.History(sctx, lic.ID, limit)
}

// GetLicense returns the stored record of key without applying transitions
func (s *Service) GetLicense(ctx context.Context, key string) (*domain.License, error) {
	if err := ValidateKeyFormat(key); err != nil {
		return nil, err
	}
	return s.getLicense(ctx, key)
}

// ListLicenses returns one page of licenses. page is 1-based.
func (s *Service) ListLicenses(ctx context.Context, status *domain.LicenseStatus, planID string, page, limit int) (*domain.LicensePage, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	if status != nil && !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, *status)
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	items, total, err := s.store.ListLicenses(sctx, domain.LicenseFilter{
		Status: status,
		PlanID: planID,
		Offset: (page - 1) * limit,
		Limit:  limit,
	})
	if err != nil {
		return nil, storeError("list licenses", err)
	}

	return &domain.LicensePage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (s *Service) activePlan(ctx context.Context, planID string) (*domain.Plan, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	plan, err := s.store.GetPlan(sctx, planID)
	if err != nil {
		return nil, storeError("load plan", err)
	}
	if !plan.IsActive {
		return nil, ErrPlanInactive
	}
	return plan, nil
}

// issue creates the license row, regenerating the key on collision
func (s *Service) issue(ctx context.Context, plan *domain.Plan, expiration time.Time, customerID *string, metadata map[string]interface{}) (*domain.License, error) {
	now := s.clock()
	if metadata == nil {
		metadata = map[string]interface{}{}
	}

	for attempt := 1; ; attempt++ {
		key, err := GenerateKey(plan.Identifier, now)
		if err != nil {
			return nil, err
		}

		lic := &domain.License{
			ID:              uuid.NewString(),
			Key:             key,
			PlanID:          plan.ID,
			Status:          domain.LicenseStatusActive,
			ExpirationDate:  expiration.UTC(),
			TokensRemaining: plan.Tokens,
			CustomerID:      customerID,
			Metadata:        metadata,
			CreatedAt:       now,
			UpdatedAt:       now,
		}

		sctx, cancel := s.storeCtx(ctx)
		err = s.store.CreateLicense(sctx, lic)
		cancel()
		if err == nil {
			s.logger.InfoContext(ctx, "license issued",
				slog.String("license_id", lic.ID),
				slog.String("license_key_masked", maskLicenseKey(lic.Key)),
				slog.String("plan", plan.Identifier))
			return lic, nil
		}
		if errors.Is(err, ErrAlreadyEntitled) && attempt < maxKeyAttempts {
			continue
		}
		return nil, storeError("create license", err)
	}
}
