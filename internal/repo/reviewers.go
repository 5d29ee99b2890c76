package repo

import (
	"context"
	"database/sql"
	"strings"

	"reviewflow/internal/domain"
)

// openCountExpr counts the non-terminal items a reviewer is assigned to.
const openCountExpr = `(SELECT COUNT(*) FROM item_assignees ia JOIN items i ON i.id = ia.item_id
 WHERE ia.reviewer_id = r.id AND i.status IN ('pending','assigned','in_progress'))`

func (r Repo) UpsertReviewerTx(ctx context.Context, tx *sql.Tx, rv domain.Reviewer, now string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO reviewers(id,display_name,role,department,active,created_at,updated_at) VALUES (?,?,?,?,1,?,?)
ON CONFLICT(id) DO UPDATE SET display_name=excluded.display_name, role=excluded.role, department=excluded.department, active=1, updated_at=excluded.updated_at`,
		rv.ID, rv.DisplayName, rv.Role, rv.Department, now, now)
	return err
}

// DeactivateReviewersExceptTx hides every reviewer not in keep from the directory.
func (r Repo) DeactivateReviewersExceptTx(ctx context.Context, tx *sql.Tx, keep []string, now string) error {
	if len(keep) == 0 {
		_, err := tx.ExecContext(ctx, `UPDATE reviewers SET active=0, updated_at=? WHERE active=1`, now)
		return err
	}
	args := []any{now}
	for _, id := range keep {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx, `UPDATE reviewers SET active=0, updated_at=? WHERE active=1 AND id NOT IN (`+placeholders(len(keep))+`)`, args...)
	return err
}

type ReviewerFilters struct {
	Roles       []string
	Departments []string
}

// ListReviewers returns active reviewers matching the filters, with their open
// assignment counts, ordered by id. Empty filter sets do not restrict.
func (r Repo) ListReviewers(ctx context.Context, f ReviewerFilters) ([]domain.Reviewer, error) {
	return listReviewers(ctx, r.DB, f)
}

func (r Repo) ListReviewersTx(ctx context.Context, tx *sql.Tx, f ReviewerFilters) ([]domain.Reviewer, error) {
	return listReviewers(ctx, tx, f)
}

func listReviewers(ctx context.Context, q queryer, f ReviewerFilters) ([]domain.Reviewer, error) {
	clauses := []string{"r.active=1"}
	var args []any
	if len(f.Roles) > 0 {
		clauses = append(clauses, "r.role IN ("+placeholders(len(f.Roles))+")")
		for _, v := range f.Roles {
			args = append(args, v)
		}
	}
	if len(f.Departments) > 0 {
		clauses = append(clauses, "r.department IN ("+placeholders(len(f.Departments))+")")
		for _, v := range f.Departments {
			args = append(args, v)
		}
	}
	return queryReviewers(ctx, q, `SELECT r.id, r.display_name, r.role, r.department, `+openCountExpr+`
FROM reviewers r WHERE `+strings.Join(clauses, " AND ")+` ORDER BY r.id`, args...)
}

// LookupReviewers returns the active reviewers among ids; unknown ids are
// simply absent from the result.
func (r Repo) LookupReviewers(ctx context.Context, ids []string) ([]domain.Reviewer, error) {
	return lookupReviewers(ctx, r.DB, ids)
}

func (r Repo) LookupReviewersTx(ctx context.Context, tx *sql.Tx, ids []string) ([]domain.Reviewer, error) {
	return lookupReviewers(ctx, tx, ids)
}

func lookupReviewers(ctx context.Context, q queryer, ids []string) ([]domain.Reviewer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return queryReviewers(ctx, q, `SELECT r.id, r.display_name, r.role, r.department, `+openCountExpr+`
FROM reviewers r WHERE r.active=1 AND r.id IN (`+placeholders(len(ids))+`) ORDER BY r.id`, args...)
}

func queryReviewers(ctx context.Context, q queryer, query string, args ...any) ([]domain.Reviewer, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Reviewer
	for rows.Next() {
		var rv domain.Reviewer
		if err := rows.Scan(&rv.ID, &rv.DisplayName, &rv.Role, &rv.Department, &rv.OpenAssignmentCount); err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
