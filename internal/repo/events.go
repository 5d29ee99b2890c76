package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"reviewflow/internal/domain"
)

const eventColumns = `id,ts,type,item_id,actor_id,old_status,new_status,assignees_json,payload_json`

type EventFilters struct {
	ItemID  string
	Type    string
	AfterID int64
	Limit   int
}

// ListEvents returns events in id order after f.AfterID.
func (r Repo) ListEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id > ?`
	args := []any{f.AfterID}
	if f.ItemID != "" {
		query += " AND item_id=?"
		args = append(args, f.ItemID)
	}
	if f.Type != "" {
		query += " AND type=?"
		args = append(args, f.Type)
	}
	query += " ORDER BY id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return r.queryEvents(ctx, query, args...)
}

// LatestEvents returns the newest limit events, oldest first.
func (r Repo) LatestEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	evs, err := r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(evs)-1; i < j; i, j = i+1, j-1 {
		evs[i], evs[j] = evs[j], evs[i]
	}
	return evs, nil
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var itemID, oldStatus, newStatus sql.NullString
		var assignees string
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &itemID, &e.ActorID, &oldStatus, &newStatus, &assignees, &e.Payload); err != nil {
			return nil, err
		}
		e.ItemID = itemID.String
		e.OldStatus = domain.Status(oldStatus.String)
		e.NewStatus = domain.Status(newStatus.String)
		if err := json.Unmarshal([]byte(assignees), &e.Assignees); err != nil {
			return nil, fmt.Errorf("decode event %d assignees: %w", e.ID, err)
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// DeliveryCursor returns the last event id delivered to sink, and false when
// the sink has never been seen.
func (r Repo) DeliveryCursor(ctx context.Context, sink string) (int64, bool, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_event_id FROM delivery_cursors WHERE sink=?`, sink).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r Repo) SetDeliveryCursor(ctx context.Context, sink string, lastEventID int64, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO delivery_cursors(sink,last_event_id,updated_at) VALUES (?,?,?)
ON CONFLICT(sink) DO UPDATE SET last_event_id=excluded.last_event_id, updated_at=excluded.updated_at`, sink, lastEventID, now)
	return err
}
