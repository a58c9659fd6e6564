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

// ActivatePlugin grants the license access to the latest version of a plugin.
//
// The grant copies the license's current expiration date and is not updated
// if the license is later extended. A second activation of the same pair
// fails with ErrAlreadyEntitled.
func (s *Service) ActivatePlugin(ctx context.Context, key, pluginID string) (ent *domain.PluginEntitlement, err error) {
	ctx, span := s.startOp(ctx, "activate_plugin", key)
	start := time.Now()
	defer func() {
		s.endOp(ctx, span, "activate_plugin", key, start, err, slog.String("plugin_id", pluginID))
	}()

	if err = ValidateKeyFormat(key); err != nil {
		return nil, err
	}
	if pluginID == "" {
		return nil, fmt.Errorf("%w: plugin id is required", ErrInvalidRequest)
	}

	lic, err := s.loadUsable(ctx, key)
	if err != nil {
		if errors.Is(err, ErrRevoked) || errors.Is(err, ErrExpired) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidState, err)
		}
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	plugin, err := s.store.GetPlugin(sctx, pluginID)
	if err != nil {
		return nil, storeError("load plugin", err)
	}

	version, err := s.store.LatestPluginVersion(sctx, plugin.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNoPluginVersion
		}
		return nil, storeError("load plugin version", err)
	}

	expiration := lic.ExpirationDate.UTC()
	ent = &domain.PluginEntitlement{
		ID:             uuid.NewString(),
		LicenseID:      lic.ID,
		PluginID:       plugin.ID,
		PluginName:     plugin.Name,
		VersionID:      version.ID,
		Version:        version.Version,
		VersionActive:  version.IsActive,
		ExpirationDate: &expiration,
		CreatedAt:      s.clock(),
	}

	// The store's uniqueness constraint decides concurrent activations.
	if err = s.store.CreatePluginEntitlement(sctx, ent); err != nil {
		return nil, storeError("create plugin entitlement", err)
	}

	s.metrics.pluginActivated(ctx)
	s.logger.InfoContext(ctx, "plugin activated",
		slog.String("license_id", lic.ID),
		slog.String("plugin_id", plugin.ID),
		slog.String("plugin_name", plugin.Name),
		slog.String("version", version.Version))

	return ent, nil
}

// PluginStatus reports whether the license's grant for pluginID is live. It is
// computed from current store state on every call and never cached. A missing
// license or grant reports IsActive false.
func (s *Service) PluginStatus(ctx context.Context, key, pluginID string) (st *domain.PluginStatus, err error) {
	ctx, span := s.startOp(ctx, "plugin_status", key)
	start := time.Now()
	defer func() {
		s.endOp(ctx, span, "plugin_status", key, start, err, slog.String("plugin_id", pluginID))
	}()

	if err = ValidateKeyFormat(key); err != nil {
		return nil, err
	}

	lic, err := s.getLicense(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return &domain.PluginStatus{IsActive: false}, nil
	}
	if err != nil {
		return nil, err
	}

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	ent, err := s.store.GetPluginEntitlement(sctx, lic.ID, pluginID)
	if errors.Is(err, ErrNotFound) {
		return &domain.PluginStatus{IsActive: false}, nil
	}
	if err != nil {
		return nil, storeError("load plugin entitlement", err)
	}

	now := s.clock()
	version := ent.Version
	return &domain.PluginStatus{
		IsActive:       lic.Status == domain.LicenseStatusActive && !lic.ExpiredAt(now) && ent.ActiveAt(now),
		Version:        &version,
		ExpirationDate: ent.ExpirationDate,
	}, nil
}
