package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"reviewflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStale is returned by compare-and-set writes whose expected revision
	// no longer matches the stored one.
	ErrStale = errors.New("stale revision")
	// ErrDuplicate is returned when the open-item unique index rejects an insert.
	ErrDuplicate = errors.New("duplicate open item")
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

const itemColumns = `id,module_type,module_id,title,description,priority,status,due_date,feedback,validation_result_json,expert_feedback,completed_at,revision,created_by,created_at,updated_at`

func scanItem(row rowScanner) (domain.Item, error) {
	var it domain.Item
	var desc, dueDate, feedback, validation, expertFeedback, completedAt sql.NullString
	err := row.Scan(&it.ID, &it.ModuleType, &it.ModuleID, &it.Title, &desc, &it.Priority, &it.Status, &dueDate,
		&feedback, &validation, &expertFeedback, &completedAt, &it.Revision, &it.CreatedBy, &it.CreatedAt, &it.UpdatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Description = desc.String
	it.Feedback = feedback.String
	it.ExpertFeedback = expertFeedback.String
	if dueDate.Valid {
		it.DueDate = &dueDate.String
	}
	if completedAt.Valid {
		it.CompletedAt = &completedAt.String
	}
	if validation.Valid && validation.String != "" {
		var vr domain.ValidationResult
		if err := json.Unmarshal([]byte(validation.String), &vr); err != nil {
			return it, fmt.Errorf("decode validation result for %s: %w", it.ID, err)
		}
		it.ValidationResult = &vr
	}
	return it, nil
}

// InsertItemTx stores a new item and its assignee rows.
func (r Repo) InsertItemTx(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	validation, err := marshalValidation(it.ValidationResult)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, it.ModuleType, it.ModuleID, it.Title, nullable(it.Description), it.Priority, it.Status, nullableStringPtr(it.DueDate),
		nullable(it.Feedback), validation, nullable(it.ExpertFeedback), nullableStringPtr(it.CompletedAt), it.Revision,
		it.CreatedBy, it.CreatedAt, it.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert item: %w", err)
	}
	return replaceAssignees(ctx, tx, it.ID, it.Assignees)
}

// UpdateItemTx writes it if the stored revision still equals expectedRevision
// and returns the item with its new revision.
func (r Repo) UpdateItemTx(ctx context.Context, tx *sql.Tx, it domain.Item, expectedRevision int64) (domain.Item, error) {
	validation, err := marshalValidation(it.ValidationResult)
	if err != nil {
		return it, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE items SET status=?, feedback=?, validation_result_json=?, expert_feedback=?, completed_at=?, due_date=?, revision=revision+1, updated_at=?
WHERE id=? AND revision=?`,
		it.Status, nullable(it.Feedback), validation, nullable(it.ExpertFeedback), nullableStringPtr(it.CompletedAt),
		nullableStringPtr(it.DueDate), it.UpdatedAt, it.ID, expectedRevision)
	if err != nil {
		if isUniqueViolation(err) {
			return it, ErrDuplicate
		}
		return it, fmt.Errorf("update item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := getItem(ctx, tx, it.ID); err != nil {
			return it, err
		}
		return it, ErrStale
	}
	if err := replaceAssignees(ctx, tx, it.ID, it.Assignees); err != nil {
		return it, err
	}
	return getItem(ctx, tx, it.ID)
}

func (r Repo) GetItem(ctx context.Context, id string) (domain.Item, error) {
	return getItem(ctx, r.DB, id)
}

func (r Repo) GetItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.Item, error) {
	return getItem(ctx, tx, id)
}

func getItem(ctx context.Context, q queryer, id string) (domain.Item, error) {
	it, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id=?`, id))
	if err != nil {
		return it, err
	}
	it.Assignees, err = listAssignees(ctx, q, it.ID)
	return it, err
}

// FindOpenItem returns the non-terminal item for the module pair, or ErrNotFound.
func (r Repo) FindOpenItem(ctx context.Context, moduleType domain.ModuleType, moduleID string) (domain.Item, error) {
	return findOpenItem(ctx, r.DB, moduleType, moduleID)
}

func (r Repo) FindOpenItemTx(ctx context.Context, tx *sql.Tx, moduleType domain.ModuleType, moduleID string) (domain.Item, error) {
	return findOpenItem(ctx, tx, moduleType, moduleID)
}

func findOpenItem(ctx context.Context, q queryer, moduleType domain.ModuleType, moduleID string) (domain.Item, error) {
	it, err := scanItem(q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items
WHERE module_type=? AND module_id=? AND status IN ('pending','assigned','in_progress') LIMIT 1`, moduleType, moduleID))
	if err != nil {
		return it, err
	}
	it.Assignees, err = listAssignees(ctx, q, it.ID)
	return it, err
}

type ItemFilters struct {
	Status          domain.Status
	ModuleType      domain.ModuleType
	ModuleID        string
	AssigneeID      string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListItems(ctx context.Context, f ItemFilters) ([]domain.Item, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ModuleType != "" {
		clauses = append(clauses, "module_type=?")
		args = append(args, f.ModuleType)
	}
	if f.ModuleID != "" {
		clauses = append(clauses, "module_id=?")
		args = append(args, f.ModuleID)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "id IN (SELECT item_id FROM item_assignees WHERE reviewer_id=?)")
		args = append(args, f.AssigneeID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + itemColumns + ` FROM items ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		res = append(res, it)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	for i := range res {
		if res[i].Assignees, err = listAssignees(ctx, r.DB, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// CountItemsByStatus backs the status summary.
func (r Repo) CountItemsByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM items GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var s domain.Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		res[s] = n
	}
	return res, rows.Err()
}

func listAssignees(ctx context.Context, q queryer, itemID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT reviewer_id FROM item_assignees WHERE item_id=? ORDER BY position ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

func replaceAssignees(ctx context.Context, tx *sql.Tx, itemID string, reviewerIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM item_assignees WHERE item_id=?`, itemID); err != nil {
		return err
	}
	for i, id := range reviewerIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO item_assignees(item_id, reviewer_id, position) VALUES (?,?,?)`, itemID, id, i); err != nil {
			return fmt.Errorf("insert assignee %s: %w", id, err)
		}
	}
	return nil
}

func marshalValidation(v *domain.ValidationResult) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
