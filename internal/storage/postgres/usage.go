package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gmflicense/internal/license"
	"gmflicense/pkg/contracts/domain"
)

// UsageRecord is a usage event joined with the key of its license
type UsageRecord struct {
	domain.UsageEvent
	LicenseKey string
}

func scanUsage(row rowScanner, extra ...any) (*domain.UsageEvent, error) {
	var (
		e        domain.UsageEvent
		tokens   sql.NullInt64
		metadata []byte
	)
	dest := append([]any{&e.ID, &e.LicenseID, &e.Action, &e.MachineID, &tokens, &metadata, &e.CreatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if tokens.Valid {
		n := tokens.Int64
		e.Tokens = &n
	}
	if err := decodeJSON(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("usage %s metadata: %w", e.ID, err)
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

// AppendUsage appends one event
func (s *Store) AppendUsage(ctx context.Context, e *domain.UsageEvent) error {
	metadata, err := encodeJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode usage metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO license_usage (id, license_id, action, machine_id, tokens, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.LicenseID, e.Action, e.MachineID, e.Tokens, metadata, e.CreatedAt)
	if isForeignKeyViolation(err) {
		return license.ErrLicenseNotFound
	}
	return err
}

// ListUsage returns up to limit events for a license, newest first. A
// non-positive limit returns every event.
func (s *Store) ListUsage(ctx context.Context, licenseID string, limit int) ([]domain.UsageEvent, error) {
	query := `
		SELECT id, license_id, action, machine_id, tokens, metadata, created_at
		FROM license_usage
		WHERE license_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{licenseID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, license.ErrLicenseNotFound)
	}
	defer rows.Close()

	out := make([]domain.UsageEvent, 0)
	for rows.Next() {
		e, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// UsageSince returns events recorded at or after since across all licenses,
// oldest first, for reporting.
func (s *Store) UsageSince(ctx context.Context, since time.Time, limit int) ([]UsageRecord, error) {
	query := `
		SELECT u.id, u.license_id, u.action, u.machine_id, u.tokens, u.metadata, u.created_at, l.key
		FROM license_usage u
		JOIN licenses l ON l.id = u.license_id
		WHERE u.created_at >= $1
		ORDER BY u.created_at, u.id`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UsageRecord
	for rows.Next() {
		var key string
		e, err := scanUsage(rows, &key)
		if err != nil {
			return nil, err
		}
		out = append(out, UsageRecord{UsageEvent: *e, LicenseKey: key})
	}
	return out, rows.Err()
}
