package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/repairhub/intake/internal/services/offline/domain"
	"github.com/repairhub/intake/internal/services/offline/storage"
)

// PutCredential stores a cached credential, replacing any prior entry for
// the same employee.
func (s *Store) PutCredential(ctx context.Context, cred domain.CachedCredential) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	cred.EmployeeID = strings.TrimSpace(cred.EmployeeID)
	if cred.EmployeeID == "" {
		return fmt.Errorf("employee id is required")
	}
	if len(cred.PINHash) == 0 {
		return fmt.Errorf("pin hash is required")
	}
	if cred.CachedAt.IsZero() {
		cred.CachedAt = time.Now().UTC()
	}
	if cred.ExpiresAt.IsZero() {
		return fmt.Errorf("expiry is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO cached_credentials (
	employee_id,
	name,
	role,
	pin_hash,
	cached_at,
	expires_at
) VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(employee_id) DO UPDATE SET
	name = excluded.name,
	role = excluded.role,
	pin_hash = excluded.pin_hash,
	cached_at = excluded.cached_at,
	expires_at = excluded.expires_at
`,
		cred.EmployeeID,
		cred.Name,
		cred.Role,
		cred.PINHash,
		toMillis(cred.CachedAt),
		toMillis(cred.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("put credential: %w", err)
	}
	return nil
}

// ListCredentials returns every cached credential, including expired ones;
// expiry filtering is the credential cache's concern.
func (s *Store) ListCredentials(ctx context.Context) ([]domain.CachedCredential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT employee_id, name, role, pin_hash, cached_at, expires_at
FROM cached_credentials
ORDER BY employee_id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []domain.CachedCredential{}
	for rows.Next() {
		var cred domain.CachedCredential
		var cachedAt int64
		var expiresAt int64
		if err := rows.Scan(
			&cred.EmployeeID,
			&cred.Name,
			&cred.Role,
			&cred.PINHash,
			&cachedAt,
			&expiresAt,
		); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		cred.CachedAt = fromMillis(cachedAt)
		cred.ExpiresAt = fromMillis(expiresAt)
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}
	return creds, nil
}

// DeleteCredential removes one cached credential.
func (s *Store) DeleteCredential(ctx context.Context, employeeID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}

	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return fmt.Errorf("employee id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cached_credentials WHERE employee_id = ?`, employeeID)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteExpiredCredentials prunes entries expired at the given instant.
func (s *Store) DeleteExpiredCredentials(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cached_credentials WHERE expires_at <= ?`, toMillis(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired credentials: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired rows affected: %w", err)
	}
	return int(rowsAffected), nil
}
