package license

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gmflicense/pkg/contracts/domain"
)

// transition is the state change a read implies for a license
type transition int

const (
	transitionNone transition = iota
	transitionExpire
)

// assessLicense decides, without side effects, whether l is usable at now
// and which status transition the observation implies.
func assessLicense(l *domain.License, now time.Time) (transition, error) {
	switch l.Status {
	case domain.LicenseStatusRevoked:
		return transitionNone, ErrRevoked
	case domain.LicenseStatusExpired:
		return transitionNone, ErrExpired
	case domain.LicenseStatusActive:
		if l.ExpiredAt(now) {
			return transitionExpire, ErrExpired
		}
		return transitionNone, nil
	default:
		return transitionNone, fmt.Errorf("%w: unknown status %q", ErrInvalidState, l.Status)
	}
}

// Validate returns the entitlement snapshot of key for machineID.
func (s *Service) Validate(ctx context.Context, key, machineID string) (*domain.EntitlementSnapshot, error) {
	return s.resolve(ctx, "validate", SnapshotValidate, domain.UsageValidate, key, machineID)
}

// Info returns the entitlement snapshot of key including the plan feature map.
// It records an INFO_REQUEST event and consumes nothing.
func (s *Service) Info(ctx context.Context, key, machineID string) (*domain.EntitlementSnapshot, error) {
	return s.resolve(ctx, "info", SnapshotInfo, domain.UsageInfoRequest, key, machineID)
}

func (s *Service) resolve(ctx context.Context, op string, kind SnapshotKind, action domain.UsageAction, key, machineID string) (snap *domain.EntitlementSnapshot, err error) {
	ctx, span := s.startOp(ctx, op, key)
	start := time.Now()
	cached := false
	defer func() {
		s.endOp(ctx, span, op, key, start, err,
			slog.String("machine_id", machineID),
			slog.Bool("cached", cached))
	}()

	if err = ValidateKeyFormat(key); err != nil {
		return nil, err
	}
	if machineID == "" {
		return nil, fmt.Errorf("%w: machine id is required", ErrInvalidRequest)
	}

	if hit, ok := s.cache.Get(ctx, kind, key, machineID); ok {
		cached = true
		return hit, nil
	}

	lic, err := s.loadUsable(ctx, key)
	if err != nil {
		s.auditFailure(ctx, lic, action, machineID, err)
		return nil, err
	}

	snap, err = s.buildSnapshot(ctx, lic, kind == SnapshotInfo)
	if err != nil {
		return nil, err
	}

	if _, err = s.record(ctx, lic.ID, action, machineID, nil, map[string]interface{}{"success": true}); err != nil {
		return nil, err
	}

	s.cache.Put(ctx, kind, key, machineID, snap)
	return snap, nil
}

// getLicense reads the license fresh from the store
func (s *Service) getLicense(ctx context.Context, key string) (*domain.License, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	lic, err := s.store.GetLicenseByKey(sctx, key)
	if err != nil {
		return nil, storeError("load license", err)
	}
	return lic, nil
}

// loadUsable reads the license fresh and applies any lazy transition. The
// license is returned alongside a rejection so callers can audit it.
func (s *Service) loadUsable(ctx context.Context, key string) (*domain.License, error) {
	lic, err := s.getLicense(ctx, key)
	if err != nil {
		return nil, err
	}
	return lic, s.applyTransition(ctx, lic)
}

// applyTransition performs the conditional write implied by assessLicense.
// A failed write leaves the license to be expired by the next read; the
// verdict still stands but carries ErrTransient so callers see the store fault.
func (s *Service) applyTransition(ctx context.Context, lic *domain.License) error {
	now := s.clock()
	next, verdict := assessLicense(lic, now)
	if next != transitionExpire {
		return verdict
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	changed, err := s.store.ExpireLicense(sctx, lic.ID, now)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist license expiration",
			slog.String("license_id", lic.ID),
			slog.String("error", err.Error()))
		return fmt.Errorf("%w: %w", verdict, storeError("persist expiration", err))
	}

	lic.Status = domain.LicenseStatusExpired
	if changed {
		s.metrics.expired(ctx)
		s.logger.InfoContext(ctx, "license expired",
			slog.String("license_id", lic.ID),
			slog.Time("expiration_date", lic.ExpirationDate))
	}
	return verdict
}

// buildSnapshot assembles the entitlement answer for an ACTIVE, unexpired license
func (s *Service) buildSnapshot(ctx context.Context, lic *domain.License, withFeatures bool) (*domain.EntitlementSnapshot, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	plan, err := s.store.GetPlan(sctx, lic.PlanID)
	if err != nil {
		return nil, storeError("load plan", err)
	}

	entitlements, err := s.store.ListPluginEntitlements(sctx, lic.ID)
	if err != nil {
		return nil, storeError("load plugin entitlements", err)
	}

	now := s.clock()
	plugins := make([]domain.PluginGrant, 0, len(entitlements))
	for i := range entitlements {
		e := &entitlements[i]
		if !e.ActiveAt(now) {
			continue
		}
		status := domain.EntitlementActive
		if !e.VersionActive {
			status = domain.EntitlementInactive
		}
		plugins = append(plugins, domain.PluginGrant{
			ID:      e.PluginID,
			Name:    e.PluginName,
			Version: e.Version,
			Status:  status,
		})
	}

	snap := &domain.EntitlementSnapshot{
		IsValid:         true,
		Type:            plan.Identifier,
		TokensRemaining: lic.TokensRemaining,
		ExpirationDate:  lic.ExpirationDate.UTC(),
		Plugins:         plugins,
	}
	if withFeatures {
		snap.Features = make(map[string]interface{}, len(plan.Features))
		for k, v := range plan.Features {
			snap.Features[k] = v
		}
	}
	return snap, nil
}

// record appends a usage event under the store timeout
func (s *Service) record(ctx context.Context, licenseID string, action domain.UsageAction, machineID string, tokens *int64, metadata map[string]interface{}) (*domain.UsageEvent, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.recorder.Record(sctx, licenseID, action, machineID, tokens, metadata)
}

// auditFailure records a rejected operation when failure auditing is enabled
func (s *Service) auditFailure(ctx context.Context, lic *domain.License, action domain.UsageAction, machineID string, cause error) {
	if !s.auditFailures || lic == nil || IsRetryable(cause) {
		return
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	s.recorder.RecordFailure(sctx, lic.ID, action, machineID, cause)
}
