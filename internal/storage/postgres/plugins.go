package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"gmflicense/internal/license"
	"gmflicense/pkg/contracts/domain"
)

const entitlementSelect = `
	SELECT pl.id, pl.license_id, pl.plugin_id, p.name, pl.version_id, v.version, v.is_active,
	       pl.expiration_date, pl.created_at
	FROM plugin_licenses pl
	JOIN plugins p ON p.id = pl.plugin_id
	JOIN plugin_versions v ON v.id = pl.version_id`

func scanEntitlement(row rowScanner) (*domain.PluginEntitlement, error) {
	var (
		e          domain.PluginEntitlement
		expiration sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.LicenseID, &e.PluginID, &e.PluginName, &e.VersionID, &e.Version,
		&e.VersionActive, &expiration, &e.CreatedAt); err != nil {
		return nil, err
	}
	if expiration.Valid {
		t := expiration.Time.UTC()
		e.ExpirationDate = &t
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// GetPlugin returns a plugin by id
func (s *Store) GetPlugin(ctx context.Context, id string) (*domain.Plugin, error) {
	var p domain.Plugin
	err := s.db.QueryRowContext(ctx, `SELECT id, name, identifier, is_active FROM plugins WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Identifier, &p.IsActive)
	if err != nil {
		return nil, mapError(err, license.ErrPluginNotFound)
	}
	return &p, nil
}

// LatestPluginVersion returns the most recently created version of a plugin
func (s *Store) LatestPluginVersion(ctx context.Context, pluginID string) (*domain.PluginVersion, error) {
	var v domain.PluginVersion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, plugin_id, version, is_active, created_at
		FROM plugin_versions
		WHERE plugin_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, pluginID).
		Scan(&v.ID, &v.PluginID, &v.Version, &v.IsActive, &v.CreatedAt)
	if err != nil {
		return nil, mapError(err, license.ErrNotFound)
	}
	return &v, nil
}

// ListPluginEntitlements returns the grants of a license with the current
// state of their pinned version
func (s *Store) ListPluginEntitlements(ctx context.Context, licenseID string) ([]domain.PluginEntitlement, error) {
	rows, err := s.db.QueryContext(ctx, entitlementSelect+` WHERE pl.license_id = $1 ORDER BY pl.created_at`, licenseID)
	if err != nil {
		return nil, mapError(err, license.ErrLicenseNotFound)
	}
	defer rows.Close()

	out := make([]domain.PluginEntitlement, 0)
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// GetPluginEntitlement returns the grant of one plugin to one license
func (s *Store) GetPluginEntitlement(ctx context.Context, licenseID, pluginID string) (*domain.PluginEntitlement, error) {
	row := s.db.QueryRowContext(ctx, entitlementSelect+` WHERE pl.license_id = $1 AND pl.plugin_id = $2`, licenseID, pluginID)
	e, err := scanEntitlement(row)
	if err != nil {
		return nil, mapError(err, license.ErrNotFound)
	}
	return e, nil
}

// CreatePluginEntitlement inserts a grant. The unique (license_id, plugin_id)
// constraint turns a concurrent duplicate into ErrAlreadyEntitled.
func (s *Store) CreatePluginEntitlement(ctx context.Context, e *domain.PluginEntitlement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_licenses (id, license_id, plugin_id, version_id, expiration_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.LicenseID, e.PluginID, e.VersionID, e.ExpirationDate, e.CreatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return license.ErrAlreadyEntitled
	case isForeignKeyViolation(err):
		return license.ErrNotFound
	default:
		return mapError(err, license.ErrNotFound)
	}
}

// CreatePlugin registers a plugin. Used by tooling; the service never writes plugins.
func (s *Store) CreatePlugin(ctx context.Context, p *domain.Plugin) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugins (id, name, identifier, is_active) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Identifier, p.IsActive)
	if isUniqueViolation(err) {
		return license.ErrAlreadyEntitled
	}
	return err
}

// CreatePluginVersion releases a plugin version. Used by tooling.
func (s *Store) CreatePluginVersion(ctx context.Context, v *domain.PluginVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plugin_versions (id, plugin_id, version, is_active, created_at) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.PluginID, v.Version, v.IsActive, v.CreatedAt)
	switch {
	case isUniqueViolation(err):
		return license.ErrAlreadyEntitled
	case isForeignKeyViolation(err):
		return license.ErrPluginNotFound
	}
	return err
}
