package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gmflicense/internal/license"
	"gmflicense/pkg/contracts/domain"
)

const licenseColumns = `id, key, plan_id, status, expiration_date, tokens_remaining,
	customer_id, metadata, created_at, updated_at`

const planColumns = `id, name, identifier, tokens, price, is_active, features`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*domain.License, error) {
	var (
		l          domain.License
		customerID sql.NullString
		metadata   []byte
	)
	if err := row.Scan(&l.ID, &l.Key, &l.PlanID, &l.Status, &l.ExpirationDate, &l.TokensRemaining,
		&customerID, &metadata, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if customerID.Valid {
		l.CustomerID = &customerID.String
	}
	if err := decodeJSON(metadata, &l.Metadata); err != nil {
		return nil, fmt.Errorf("license %s metadata: %w", l.ID, err)
	}
	l.ExpirationDate = l.ExpirationDate.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	return &l, nil
}

func scanPlan(row rowScanner) (*domain.Plan, error) {
	var (
		p        domain.Plan
		features []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Identifier, &p.Tokens, &p.Price, &p.IsActive, &features); err != nil {
		return nil, err
	}
	if err := decodeJSON(features, &p.Features); err != nil {
		return nil, fmt.Errorf("plan %s features: %w", p.ID, err)
	}
	return &p, nil
}

func encodeJSON(v map[string]interface{}) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(v)
}

func decodeJSON(data []byte, dst *map[string]interface{}) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// GetLicenseByKey returns the license with key
func (s *Store) GetLicenseByKey(ctx context.Context, key string) (*domain.License, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+licenseColumns+` FROM licenses WHERE key = $1`, key)
	l, err := scanLicense(row)
	if err != nil {
		return nil, mapError(err, license.ErrLicenseNotFound)
	}
	return l, nil
}

// GetPlan returns a plan by id
func (s *Store) GetPlan(ctx context.Context, id string) (*domain.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM license_plans WHERE id = $1`, id)
	p, err := scanPlan(row)
	if err != nil {
		return nil, mapError(err, license.ErrPlanNotFound)
	}
	return p, nil
}

// GetPlanByIdentifier returns a plan by its product code
func (s *Store) GetPlanByIdentifier(ctx context.Context, identifier string) (*domain.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planColumns+` FROM license_plans WHERE identifier = $1`, identifier)
	p, err := scanPlan(row)
	if err != nil {
		return nil, mapError(err, license.ErrPlanNotFound)
	}
	return p, nil
}

// ListPlans returns every plan ordered by token quota
func (s *Store) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+planColumns+` FROM license_plans ORDER BY tokens, identifier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

// CreateLicense inserts l. A duplicate key yields ErrAlreadyEntitled and an
// unknown plan ErrPlanNotFound.
func (s *Store) CreateLicense(ctx context.Context, l *domain.License) error {
	metadata, err := encodeJSON(l.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO licenses (`+licenseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		l.ID, l.Key, l.PlanID, l.Status, l.ExpirationDate, l.TokensRemaining,
		l.CustomerID, metadata, l.CreatedAt, l.UpdatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return license.ErrAlreadyEntitled
	case isForeignKeyViolation(err):
		return license.ErrPlanNotFound
	default:
		return mapError(err, license.ErrPlanNotFound)
	}
}

// ListLicenses returns a page of licenses, newest first, and the total match count
func (s *Store) ListLicenses(ctx context.Context, filter domain.LicenseFilter) ([]domain.License, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.PlanID != "" {
		args = append(args, filter.PlanID)
		conds = append(conds, fmt.Sprintf("plan_id::text = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM licenses`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + licenseColumns + ` FROM licenses` + where + ` ORDER BY created_at DESC, key`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]domain.License, 0)
	for rows.Next() {
		l, err := scanLicense(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, *l)
	}
	return items, total, rows.Err()
}

// ExpireLicense moves an ACTIVE license whose expiration has passed to EXPIRED
func (s *Store) ExpireLicense(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE licenses SET status = 'EXPIRED', updated_at = $2
		WHERE id = $1 AND status = 'ACTIVE' AND expiration_date <= $2`, id, now)
	if err != nil {
		return false, mapError(err, license.ErrLicenseNotFound)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	if err := s.ensureLicense(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// RevokeLicense moves an ACTIVE license to REVOKED
func (s *Store) RevokeLicense(ctx context.Context, id string) (*domain.License, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE licenses SET status = 'REVOKED', updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+licenseColumns, id)
	l, err := scanLicense(row)
	if err == nil {
		return l, nil
	}
	if err != sql.ErrNoRows {
		return nil, mapError(err, license.ErrLicenseNotFound)
	}
	if err := s.ensureLicense(ctx, id); err != nil {
		return nil, err
	}
	return nil, license.ErrInvalidState
}

// DecrementTokens subtracts amount from an ACTIVE license holding enough tokens.
// The check and the write are one statement; a miss is classified afterwards.
func (s *Store) DecrementTokens(ctx context.Context, id string, amount int64) (int64, error) {
	var remaining int64
	err := s.db.QueryRowContext(ctx, `
		UPDATE licenses
		SET tokens_remaining = tokens_remaining - $2, updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE' AND tokens_remaining >= $2
		RETURNING tokens_remaining`, id, amount).Scan(&remaining)
	if err == nil {
		return remaining, nil
	}
	if err != sql.ErrNoRows {
		return 0, mapError(err, license.ErrLicenseNotFound)
	}

	var status domain.LicenseStatus
	var available int64
	err = s.db.QueryRowContext(ctx, `SELECT status, tokens_remaining FROM licenses WHERE id = $1`, id).
		Scan(&status, &available)
	if err != nil {
		return 0, mapError(err, license.ErrLicenseNotFound)
	}

	switch status {
	case domain.LicenseStatusRevoked:
		return 0, license.ErrRevoked
	case domain.LicenseStatusExpired:
		return 0, license.ErrExpired
	default:
		return 0, &license.ShortfallError{Available: available, Requested: amount}
	}
}

// FindActiveTrial returns an ACTIVE, unexpired trial issued to email
func (s *Store) FindActiveTrial(ctx context.Context, email string, now time.Time) (*domain.License, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+licenseColumns+` FROM licenses
		WHERE status = 'ACTIVE'
		  AND expiration_date > $2
		  AND metadata ? 'trialCreatedFor'
		  AND metadata ->> 'trialCreatedFor' = $1
		  AND metadata -> 'isTrial' = 'true'::jsonb
		ORDER BY created_at DESC
		LIMIT 1`, email, now)
	l, err := scanLicense(row)
	if err != nil {
		return nil, mapError(err, license.ErrLicenseNotFound)
	}
	return l, nil
}

// ensureLicense returns ErrLicenseNotFound unless a license with id exists
func (s *Store) ensureLicense(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM licenses WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return mapError(err, license.ErrLicenseNotFound)
	}
	if !exists {
		return license.ErrLicenseNotFound
	}
	return nil
}
