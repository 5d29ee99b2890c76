package server

import (
	"encoding/json"

	"reviewflow/internal/domain"
)

// Request payloads

type SubmitItemRequest struct {
	ModuleType  string  `json:"module_type" enum:"risk_assessment,system_registration,document,training"`
	ModuleID    string  `json:"module_id" minLength:"1"`
	Title       string  `json:"title" minLength:"1"`
	Description *string `json:"description,omitempty"`
	Priority    *string `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate     *string `json:"due_date,omitempty"`
}

type AssignRequest struct {
	ReviewerIDs      []string `json:"reviewer_ids"`
	Note             *string  `json:"note,omitempty"`
	ExpectedRevision *int64   `json:"expected_revision,omitempty"`
}

type AutoAssignRequest struct {
	ForceAssign bool `json:"force_assign,omitempty"`
}

type UpdateStatusRequest struct {
	Status           string  `json:"status" enum:"pending,assigned,in_progress,completed,rejected"`
	Feedback         *string `json:"feedback,omitempty"`
	ExpectedRevision *int64  `json:"expected_revision,omitempty"`
}

type SettingsRequest struct {
	Enabled             bool     `json:"enabled"`
	StrategyType        string   `json:"strategy_type"`
	EligibleRoles       []string `json:"eligible_roles,omitempty"`
	EligibleDepartments []string `json:"eligible_departments,omitempty"`
	ExpectedVersion     *int64   `json:"expected_version,omitempty"`
}

type ExpertReviewRequest struct {
	ModuleID string  `json:"module_id" minLength:"1"`
	Title    string  `json:"title" minLength:"1"`
	Text     string  `json:"text" minLength:"1"`
	Context  *string `json:"context,omitempty"`
	Priority *string `json:"priority,omitempty" enum:"low,medium,high"`
	DueDate  *string `json:"due_date,omitempty"`
}

type CompleteExpertReviewRequest struct {
	Feedback         string `json:"feedback" minLength:"1"`
	ExpectedRevision *int64 `json:"expected_revision,omitempty"`
}

// Responses

type ItemResponse struct {
	ID               string                   `json:"id"`
	ModuleType       string                   `json:"module_type"`
	ModuleID         string                   `json:"module_id"`
	Title            string                   `json:"title"`
	Description      string                   `json:"description,omitempty"`
	Priority         string                   `json:"priority" enum:"low,medium,high"`
	Status           string                   `json:"status" enum:"pending,assigned,in_progress,completed,rejected"`
	Assignees        []string                 `json:"assignees"`
	DueDate          *string                  `json:"due_date,omitempty" format:"date-time"`
	Feedback         string                   `json:"feedback,omitempty"`
	Revision         int64                    `json:"revision"`
	CreatedBy        string                   `json:"created_by"`
	CreatedAt        string                   `json:"created_at" format:"date-time"`
	UpdatedAt        string                   `json:"updated_at" format:"date-time"`
	ValidationResult *domain.ValidationResult `json:"validation_result,omitempty"`
	ExpertFeedback   string                   `json:"expert_feedback,omitempty"`
	CompletedAt      *string                  `json:"completed_at,omitempty" format:"date-time"`
}

type ExistsResponse struct {
	Exists bool   `json:"exists"`
	ItemID string `json:"item_id,omitempty"`
	Status string `json:"status,omitempty"`
}

type AssignmentResponse struct {
	ID           string   `json:"id"`
	ItemID       string   `json:"item_id"`
	AssignedTo   []string `json:"assigned_to"`
	StrategyUsed string   `json:"strategy_used"`
	AssignedBy   string   `json:"assigned_by"`
	AssignedAt   string   `json:"assigned_at" format:"date-time"`
	Note         string   `json:"note,omitempty"`
}

type ReviewerResponse struct {
	ID                  string `json:"id"`
	DisplayName         string `json:"display_name"`
	Role                string `json:"role"`
	Department          string `json:"department"`
	OpenAssignmentCount int    `json:"open_assignment_count"`
}

type SettingsResponse struct {
	Enabled             bool     `json:"enabled"`
	StrategyType        string   `json:"strategy_type" enum:"workload_balanced,round_robin,department_based,expertise_based"`
	EligibleRoles       []string `json:"eligible_roles"`
	EligibleDepartments []string `json:"eligible_departments"`
	Version             int64    `json:"version"`
	UpdatedBy           string   `json:"updated_by,omitempty"`
	UpdatedAt           string   `json:"updated_at,omitempty" format:"date-time"`
}

type EventResponse struct {
	ID        int64          `json:"id"`
	TS        string         `json:"ts" format:"date-time"`
	Type      string         `json:"type"`
	ItemID    string         `json:"item_id,omitempty"`
	ActorID   string         `json:"actor_id"`
	OldStatus string         `json:"old_status,omitempty"`
	NewStatus string         `json:"new_status,omitempty"`
	Assignees []string       `json:"assignees"`
	Payload   map[string]any `json:"payload"`
}

type HealthResponse struct {
	Status string         `json:"status"`
	Items  map[string]int `json:"items,omitempty"`
}

type paginatedItems struct {
	Items      []ItemResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

func itemResponse(it domain.Item) ItemResponse {
	return ItemResponse{
		ID:               it.ID,
		ModuleType:       string(it.ModuleType),
		ModuleID:         it.ModuleID,
		Title:            it.Title,
		Description:      it.Description,
		Priority:         string(it.Priority),
		Status:           string(it.Status),
		Assignees:        nonNilSlice(it.Assignees),
		DueDate:          it.DueDate,
		Feedback:         it.Feedback,
		Revision:         it.Revision,
		CreatedBy:        it.CreatedBy,
		CreatedAt:        it.CreatedAt,
		UpdatedAt:        it.UpdatedAt,
		ValidationResult: it.ValidationResult,
		ExpertFeedback:   it.ExpertFeedback,
		CompletedAt:      it.CompletedAt,
	}
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse{
		ID:           a.ID,
		ItemID:       a.ItemID,
		AssignedTo:   nonNilSlice(a.AssignedTo),
		StrategyUsed: string(a.StrategyUsed),
		AssignedBy:   a.AssignedBy,
		AssignedAt:   a.AssignedAt,
		Note:         a.Note,
	}
}

func reviewerResponse(r domain.Reviewer) ReviewerResponse {
	return ReviewerResponse{
		ID:                  r.ID,
		DisplayName:         r.DisplayName,
		Role:                r.Role,
		Department:          r.Department,
		OpenAssignmentCount: r.OpenAssignmentCount,
	}
}

// The round-robin cursor stays internal to the engine.
func settingsResponse(s domain.AutoAssignmentSettings) SettingsResponse {
	return SettingsResponse{
		Enabled:             s.Enabled,
		StrategyType:        string(s.StrategyType),
		EligibleRoles:       nonNilSlice(s.EligibleRoles),
		EligibleDepartments: nonNilSlice(s.EligibleDepartments),
		Version:             s.Version,
		UpdatedBy:           s.UpdatedBy,
		UpdatedAt:           s.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:        e.ID,
		TS:        e.TS,
		Type:      e.Type,
		ItemID:    e.ItemID,
		ActorID:   e.ActorID,
		OldStatus: string(e.OldStatus),
		NewStatus: string(e.NewStatus),
		Assignees: nonNilSlice(e.Assignees),
		Payload:   decodeJSONMap(e.Payload),
	}
}

func mapItems(items []domain.Item) []ItemResponse {
	out := make([]ItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, itemResponse(it))
	}
	return out
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func int64OrZero(ptr *int64) int64 {
	if ptr == nil {
		return 0
	}
	return *ptr
}
