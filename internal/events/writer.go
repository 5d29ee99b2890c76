package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"reviewflow/internal/domain"
)

// Writer appends to the events table, which doubles as the notification
// outbox. Append must run inside the transaction of the change it describes.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Transition describes one state-affecting change.
type Transition struct {
	Type      string
	ItemID    string
	ActorID   string
	OldStatus domain.Status
	NewStatus domain.Status
	Assignees []string
	Payload   EventPayload
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, t Transition) (int64, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if t.Payload == nil {
		t.Payload = EventPayload{}
	}
	if t.Assignees == nil {
		t.Assignees = []string{}
	}
	data, err := json.Marshal(t.Payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event payload: %w", err)
	}
	assignees, err := json.Marshal(t.Assignees)
	if err != nil {
		return 0, fmt.Errorf("marshal event assignees: %w", err)
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(ts,type,item_id,actor_id,old_status,new_status,assignees_json,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, t.Type, nullable(t.ItemID), t.ActorID, nullable(string(t.OldStatus)), nullable(string(t.NewStatus)), string(assignees), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
