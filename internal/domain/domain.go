package domain

// ModuleType identifies the kind of artifact a ReviewableItem points at.
type ModuleType string

const (
	ModuleRiskAssessment     ModuleType = "risk_assessment"
	ModuleSystemRegistration ModuleType = "system_registration"
	ModuleDocument           ModuleType = "document"
	ModuleTraining           ModuleType = "training"
	ModuleExpertLegalReview  ModuleType = "expert_legal_review"
)

var moduleTypes = []ModuleType{
	ModuleRiskAssessment,
	ModuleSystemRegistration,
	ModuleDocument,
	ModuleTraining,
	ModuleExpertLegalReview,
}

// ModuleTypes lists every recognized module type.
func ModuleTypes() []ModuleType {
	out := make([]ModuleType, len(moduleTypes))
	copy(out, moduleTypes)
	return out
}

func (m ModuleType) Valid() bool {
	for _, t := range moduleTypes {
		if t == m {
			return true
		}
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusAssigned   Status = "assigned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// NonTerminalStatuses are the statuses counted by the uniqueness invariant and
// by reviewer workload.
func NonTerminalStatuses() []Status {
	return []Status{StatusPending, StatusAssigned, StatusInProgress}
}

type StrategyType string

const (
	StrategyWorkloadBalanced StrategyType = "workload_balanced"
	StrategyRoundRobin       StrategyType = "round_robin"
	StrategyDepartmentBased  StrategyType = "department_based"
	StrategyExpertiseBased   StrategyType = "expertise_based"

	// StrategyManual is recorded on assignments made with an explicit reviewer list.
	StrategyManual StrategyType = "manual"
)

func (s StrategyType) Valid() bool {
	switch s {
	case StrategyWorkloadBalanced, StrategyRoundRobin, StrategyDepartmentBased, StrategyExpertiseBased:
		return true
	}
	return false
}

type Item struct {
	ID          string     `json:"id"`
	ModuleType  ModuleType `json:"module_type"`
	ModuleID    string     `json:"module_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	Assignees   []string   `json:"assignees"`
	DueDate     *string    `json:"due_date,omitempty" format:"date-time"`
	Feedback    string     `json:"feedback,omitempty"`
	Revision    int64      `json:"revision"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	UpdatedAt   string     `json:"updated_at" format:"date-time"`

	// Populated only for expert_legal_review items.
	ValidationResult *ValidationResult `json:"validation_result,omitempty"`
	ExpertFeedback   string            `json:"expert_feedback,omitempty"`
	CompletedAt      *string           `json:"completed_at,omitempty" format:"date-time"`
}

// IsExpertReview reports whether the item follows the expert review vocabulary.
func (i Item) IsExpertReview() bool {
	return i.ModuleType == ModuleExpertLegalReview
}

// HasAssignee reports whether reviewerID is in the assignee set.
func (i Item) HasAssignee(reviewerID string) bool {
	for _, a := range i.Assignees {
		if a == reviewerID {
			return true
		}
	}
	return false
}

// Validation outcomes produced by the text-analysis collaborator.
const (
	ValidationValid               = "valid"
	ValidationInvalid             = "invalid"
	ValidationRequiresLegalReview = "requires_legal_review"
)

type ValidationResult struct {
	Outcome         string   `json:"outcome" enum:"valid,invalid,requires_legal_review"`
	IsValid         bool     `json:"is_valid"`
	ConfidenceLevel string   `json:"confidence_level,omitempty"`
	Issues          []string `json:"issues,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Degraded        bool     `json:"degraded,omitempty"`
}

type Reviewer struct {
	ID                  string `json:"id"`
	DisplayName         string `json:"display_name"`
	Role                string `json:"role"`
	Department          string `json:"department"`
	OpenAssignmentCount int    `json:"open_assignment_count"`
}

// Assignment is an append-only audit row; Item.Assignees is the mutable projection.
type Assignment struct {
	ID           string       `json:"id"`
	ItemID       string       `json:"item_id"`
	AssignedTo   []string     `json:"assigned_to"`
	StrategyUsed StrategyType `json:"strategy_used"`
	AssignedBy   string       `json:"assigned_by"`
	AssignedAt   string       `json:"assigned_at" format:"date-time"`
	Note         string       `json:"note,omitempty"`
}

type AutoAssignmentSettings struct {
	Enabled             bool         `json:"enabled" yaml:"enabled"`
	StrategyType        StrategyType `json:"strategy_type" yaml:"strategy"`
	EligibleRoles       []string     `json:"eligible_roles" yaml:"eligible_roles"`
	EligibleDepartments []string     `json:"eligible_departments" yaml:"eligible_departments"`

	// RoundRobinCursor is the id of the reviewer picked last by round_robin.
	RoundRobinCursor string `json:"round_robin_cursor,omitempty" yaml:"-"`
	Version          int64  `json:"version" yaml:"-"`
	UpdatedBy        string `json:"updated_by,omitempty" yaml:"-"`
	UpdatedAt        string `json:"updated_at,omitempty" yaml:"-"`
}

// Eligible reports whether the reviewer passes the role and department filters.
// An empty filter set admits everyone.
func (s AutoAssignmentSettings) Eligible(r Reviewer) bool {
	return inSet(s.EligibleRoles, r.Role) && inSet(s.EligibleDepartments, r.Department)
}

func inSet(set []string, v string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Event is a row of the transition outbox; the dispatcher fans it out to sinks.
type Event struct {
	ID        int64    `json:"id"`
	TS        string   `json:"ts" format:"date-time"`
	Type      string   `json:"type"`
	ItemID    string   `json:"item_id,omitempty"`
	ActorID   string   `json:"actor_id"`
	OldStatus Status   `json:"old_status,omitempty"`
	NewStatus Status   `json:"new_status,omitempty"`
	Assignees []string `json:"assignees"`
	Payload   string   `json:"payload_json"`
}
