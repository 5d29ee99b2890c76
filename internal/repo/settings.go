package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"reviewflow/internal/domain"
)

func (r Repo) GetSettings(ctx context.Context) (domain.AutoAssignmentSettings, error) {
	return getSettings(ctx, r.DB)
}

func (r Repo) GetSettingsTx(ctx context.Context, tx *sql.Tx) (domain.AutoAssignmentSettings, error) {
	return getSettings(ctx, tx)
}

func getSettings(ctx context.Context, q queryer) (domain.AutoAssignmentSettings, error) {
	var s domain.AutoAssignmentSettings
	var enabled int
	var roles, depts string
	var cursor, updatedBy sql.NullString
	err := q.QueryRowContext(ctx, `SELECT enabled,strategy_type,eligible_roles_json,eligible_departments_json,round_robin_cursor,version,updated_by,updated_at
FROM auto_assignment_settings WHERE id=1`).Scan(&enabled, &s.StrategyType, &roles, &depts, &cursor, &s.Version, &updatedBy, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Enabled = enabled == 1
	s.RoundRobinCursor = cursor.String
	s.UpdatedBy = updatedBy.String
	if err := json.Unmarshal([]byte(roles), &s.EligibleRoles); err != nil {
		return s, fmt.Errorf("decode eligible roles: %w", err)
	}
	if err := json.Unmarshal([]byte(depts), &s.EligibleDepartments); err != nil {
		return s, fmt.Errorf("decode eligible departments: %w", err)
	}
	return s, nil
}

// EnsureSettings seeds the singleton record if it does not exist yet. An
// existing record is left alone so runtime updates survive restarts.
func (r Repo) EnsureSettings(ctx context.Context, defaults domain.AutoAssignmentSettings, now string) (bool, error) {
	roles, depts, err := marshalFilters(defaults)
	if err != nil {
		return false, err
	}
	res, err := r.DB.ExecContext(ctx, `INSERT INTO auto_assignment_settings(id,enabled,strategy_type,eligible_roles_json,eligible_departments_json,round_robin_cursor,version,updated_by,updated_at)
VALUES (1,?,?,?,?,NULL,1,?,?) ON CONFLICT(id) DO NOTHING`,
		boolInt(defaults.Enabled), defaults.StrategyType, roles, depts, nullable(defaults.UpdatedBy), now)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// UpdateSettingsTx replaces the settings if the stored version equals
// expectedVersion. The round-robin cursor is kept.
func (r Repo) UpdateSettingsTx(ctx context.Context, tx *sql.Tx, s domain.AutoAssignmentSettings, expectedVersion int64) error {
	roles, depts, err := marshalFilters(s)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `UPDATE auto_assignment_settings SET enabled=?, strategy_type=?, eligible_roles_json=?, eligible_departments_json=?, version=version+1, updated_by=?, updated_at=?
WHERE id=1 AND version=?`,
		boolInt(s.Enabled), s.StrategyType, roles, depts, nullable(s.UpdatedBy), s.UpdatedAt, expectedVersion)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

// SetRoundRobinCursorTx records the last reviewer picked by round_robin. It
// does not bump the settings version.
func (r Repo) SetRoundRobinCursorTx(ctx context.Context, tx *sql.Tx, reviewerID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE auto_assignment_settings SET round_robin_cursor=? WHERE id=1`, nullable(reviewerID))
	return err
}

func marshalFilters(s domain.AutoAssignmentSettings) (string, string, error) {
	roles := s.EligibleRoles
	if roles == nil {
		roles = []string{}
	}
	depts := s.EligibleDepartments
	if depts == nil {
		depts = []string{}
	}
	rb, err := json.Marshal(roles)
	if err != nil {
		return "", "", err
	}
	db, err := json.Marshal(depts)
	if err != nil {
		return "", "", err
	}
	return string(rb), string(db), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
