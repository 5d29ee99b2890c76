package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DuplicatePendingItemError is returned when a non-terminal item already
// exists for the (moduleType, moduleId) pair.
type DuplicatePendingItemError struct {
	ModuleType     ModuleType
	ModuleID       string
	ExistingItemID string
}

func (e DuplicatePendingItemError) Error() string {
	return fmt.Sprintf("%s %s already has a pending approval request (%s)", e.ModuleType, e.ModuleID, e.ExistingItemID)
}

type InvalidTransitionError struct {
	ItemID string
	From   Status
	To     Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// StaleStateError means the item moved on since the caller read it.
type StaleStateError struct {
	ItemID          string
	CurrentStatus   Status
	CurrentRevision int64
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("item %s changed concurrently (now %s, revision %d)", e.ItemID, e.CurrentStatus, e.CurrentRevision)
}

type NoReviewersSelectedError struct{}

func (NoReviewersSelectedError) Error() string { return "at least one reviewer must be selected" }

type UnknownReviewerError struct {
	ReviewerID string
}

func (e UnknownReviewerError) Error() string {
	return fmt.Sprintf("unknown reviewer %s", e.ReviewerID)
}

type NoEligibleReviewersError struct {
	Strategy StrategyType
}

func (e NoEligibleReviewersError) Error() string {
	return fmt.Sprintf("no eligible reviewers for strategy %s", e.Strategy)
}

type AutoAssignmentDisabledError struct{}

func (AutoAssignmentDisabledError) Error() string { return "auto-assignment is disabled" }

type InvalidStrategyError struct {
	Strategy string
}

func (e InvalidStrategyError) Error() string {
	return fmt.Sprintf("unrecognized assignment strategy %q", e.Strategy)
}

type InvalidRoleOrDepartmentError struct {
	Field string
}

func (e InvalidRoleOrDepartmentError) Error() string {
	return fmt.Sprintf("%s must not be empty when auto-assignment is enabled", e.Field)
}

// SettingsVersionConflictError is the settings counterpart of StaleStateError.
type SettingsVersionConflictError struct {
	Expected int64
	Current  int64
}

func (e SettingsVersionConflictError) Error() string {
	return fmt.Sprintf("settings version %d expected, current is %d", e.Expected, e.Current)
}

type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// InvalidInputError covers malformed requests that never reach a state check.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnavailableError wraps an infrastructure failure that outlived its retries.
type UnavailableError struct {
	Op  string
	Err error
}

func (e UnavailableError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(" unavailable")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e UnavailableError) Unwrap() error { return e.Err }

// ErrorCode returns the stable machine-readable code of a domain error, or ""
// when err is not one.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.As(err, new(DuplicatePendingItemError)):
		return "duplicate_pending_item"
	case errors.As(err, new(InvalidTransitionError)):
		return "invalid_transition"
	case errors.As(err, new(StaleStateError)):
		return "stale_state"
	case errors.As(err, new(NoReviewersSelectedError)):
		return "no_reviewers_selected"
	case errors.As(err, new(UnknownReviewerError)):
		return "unknown_reviewer"
	case errors.As(err, new(NoEligibleReviewersError)):
		return "no_eligible_reviewers"
	case errors.As(err, new(AutoAssignmentDisabledError)):
		return "auto_assignment_disabled"
	case errors.As(err, new(InvalidStrategyError)):
		return "invalid_strategy"
	case errors.As(err, new(InvalidRoleOrDepartmentError)):
		return "invalid_role_or_department"
	case errors.As(err, new(SettingsVersionConflictError)):
		return "settings_version_conflict"
	case errors.As(err, new(NotFoundError)):
		return "not_found"
	case errors.As(err, new(InvalidInputError)):
		return "invalid_input"
	case errors.As(err, new(UnavailableError)):
		return "unavailable"
	}
	return ""
}
