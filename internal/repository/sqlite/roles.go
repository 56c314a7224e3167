package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"credential-registry/internal/model"
)

func (s *Store) GetRoleGrant(ctx context.Context, universityID uint64, address string, role model.Role) (model.RoleGrant, error) {
	g := model.RoleGrant{UniversityID: universityID, Address: address, Role: role}
	var (
		authorized int
		checkedAt  string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT authorized, checked_at FROM role_cache
		WHERE university_id = ? AND address = ? AND role = ?
	`, int64(universityID), address, string(role)).Scan(&authorized, &checkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return g, fmt.Errorf("role %s of %s at %d: %w", role, address, universityID, model.ErrNotFound)
	}
	if err != nil {
		return g, fmt.Errorf("read role cache: %w", err)
	}
	g.Authorized = authorized == 1
	g.CheckedAt = parseTime(checkedAt)
	return g, nil
}

func (s *Store) PutRoleGrant(ctx context.Context, grant model.RoleGrant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO role_cache (university_id, address, role, authorized, checked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(university_id, address, role) DO UPDATE SET
			authorized = excluded.authorized,
			checked_at = excluded.checked_at
	`, int64(grant.UniversityID), grant.Address, string(grant.Role), boolToInt(grant.Authorized), formatTime(grant.CheckedAt))
	if err != nil {
		return fmt.Errorf("write role cache: %w", err)
	}
	return nil
}
