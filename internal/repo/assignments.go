package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"reviewflow/internal/domain"
)

func (r Repo) InsertAssignmentTx(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	to, err := json.Marshal(a.AssignedTo)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assignments(id,item_id,assigned_to_json,strategy_used,assigned_by,assigned_at,note) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.ItemID, string(to), a.StrategyUsed, a.AssignedBy, a.AssignedAt, nullable(a.Note))
	if err != nil {
		return fmt.Errorf("insert assignment: %w", err)
	}
	return nil
}

// ListAssignments returns the audit trail of an item, oldest first.
func (r Repo) ListAssignments(ctx context.Context, itemID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,item_id,assigned_to_json,strategy_used,assigned_by,assigned_at,note
FROM assignments WHERE item_id=? ORDER BY assigned_at ASC, rowid ASC`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Assignment{}
	for rows.Next() {
		var a domain.Assignment
		var to string
		var note sql.NullString
		if err := rows.Scan(&a.ID, &a.ItemID, &to, &a.StrategyUsed, &a.AssignedBy, &a.AssignedAt, &note); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(to), &a.AssignedTo); err != nil {
			return nil, fmt.Errorf("decode assignment %s: %w", a.ID, err)
		}
		a.Note = note.String
		res = append(res, a)
	}
	return res, rows.Err()
}
