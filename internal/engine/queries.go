package engine

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"reviewflow/internal/domain"
	"reviewflow/internal/repo"
	"reviewflow/internal/workflow"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type ItemQuery struct {
	Status     domain.Status
	ModuleType domain.ModuleType
	ModuleID   string
	AssigneeID string
	Limit      int
	// Cursor is the NextCursor of a previous page.
	Cursor string
}

type ItemPage struct {
	Items      []domain.Item `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

// ListItems returns items newest first, one page at a time.
func (e Engine) ListItems(ctx context.Context, q ItemQuery) (ItemPage, error) {
	if q.Status != "" && !knownStatus(q.Status) {
		return ItemPage{}, domain.InvalidInputError{Field: "status", Reason: fmt.Sprintf("unknown status %q", q.Status)}
	}
	if q.ModuleType != "" && !q.ModuleType.Valid() {
		return ItemPage{}, domain.InvalidInputError{Field: "moduleType", Reason: fmt.Sprintf("unknown module type %q", q.ModuleType)}
	}
	limit := pageLimit(q.Limit)
	f := repo.ItemFilters{
		Status:     q.Status,
		ModuleType: q.ModuleType,
		ModuleID:   strings.TrimSpace(q.ModuleID),
		AssigneeID: q.AssigneeID,
		Limit:      limit + 1,
	}
	if q.Cursor != "" {
		createdAt, id, err := decodeCursor(q.Cursor)
		if err != nil {
			return ItemPage{}, err
		}
		f.CursorCreatedAt, f.CursorID = createdAt, id
	}
	items, err := e.Repo.ListItems(ctx, f)
	if err != nil {
		return ItemPage{}, err
	}
	page := ItemPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.ID)
	}
	if page.Items == nil {
		page.Items = []domain.Item{}
	}
	return page, nil
}

func encodeCursor(createdAt, id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(createdAt + "|" + id))
}

func decodeCursor(c string) (string, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return "", "", domain.InvalidInputError{Field: "cursor", Reason: "malformed"}
	}
	createdAt, id, ok := strings.Cut(string(raw), "|")
	if !ok || createdAt == "" || id == "" {
		return "", "", domain.InvalidInputError{Field: "cursor", Reason: "malformed"}
	}
	return createdAt, id, nil
}

// ListEvents returns outbox events after afterID.
func (e Engine) ListEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	f.Limit = pageLimit(f.Limit)
	return e.Repo.ListEvents(ctx, f)
}

// pageLimit defaults a non-positive limit and clamps large ones.
func pageLimit(n int) int {
	if n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return n
}

// Summary counts items per status.
func (e Engine) Summary(ctx context.Context) (map[domain.Status]int, error) {
	counts, err := e.Repo.CountItemsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range workflow.Approval.Statuses() {
		if _, ok := counts[s]; !ok {
			counts[s] = 0
		}
	}
	return counts, nil
}
