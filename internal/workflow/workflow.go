// Package workflow holds the review status transition tables.
package workflow

import "reviewflow/internal/domain"

// Trigger names the action that drives a transition; it is recorded as the
// event type in the outbox.
type Trigger string

const (
	TriggerCreated  Trigger = "item.created"
	TriggerAssigned Trigger = "item.assigned"
	TriggerStarted  Trigger = "item.started"
	TriggerComplete Trigger = "item.completed"
	TriggerRejected Trigger = "item.rejected"
)

type edge struct {
	from domain.Status
	to   domain.Status
}

var approvalEdges = map[edge]Trigger{
	{domain.StatusPending, domain.StatusAssigned}:     TriggerAssigned,
	{domain.StatusAssigned, domain.StatusInProgress}:  TriggerStarted,
	{domain.StatusAssigned, domain.StatusCompleted}:   TriggerComplete,
	{domain.StatusInProgress, domain.StatusCompleted}: TriggerComplete,
	{domain.StatusAssigned, domain.StatusRejected}:    TriggerRejected,
	{domain.StatusInProgress, domain.StatusRejected}:  TriggerRejected,
}

// Expert reviews have no separate "assigned" status: assignment, or an expert
// picking the review up, moves a pending review straight to in_progress.
var expertEdges = map[edge]Trigger{
	{domain.StatusPending, domain.StatusInProgress}:   TriggerStarted,
	{domain.StatusInProgress, domain.StatusCompleted}: TriggerComplete,
}

// Machine validates transitions for one status vocabulary.
type Machine struct {
	name  string
	edges map[edge]Trigger
}

var (
	Approval = Machine{name: "approval", edges: approvalEdges}
	Expert   = Machine{name: "expert_review", edges: expertEdges}
)

// For picks the machine matching the item's module type.
func For(moduleType domain.ModuleType) Machine {
	if moduleType == domain.ModuleExpertLegalReview {
		return Expert
	}
	return Approval
}

func (m Machine) Name() string { return m.name }

// Allowed reports whether from -> to is in the table.
func (m Machine) Allowed(from, to domain.Status) bool {
	_, ok := m.edges[edge{from, to}]
	return ok
}

// Transition returns the trigger for from -> to, or an InvalidTransitionError.
func (m Machine) Transition(itemID string, from, to domain.Status) (Trigger, error) {
	trig, ok := m.edges[edge{from, to}]
	if !ok {
		return "", domain.InvalidTransitionError{ItemID: itemID, From: from, To: to}
	}
	return trig, nil
}

// ReviewerTransition is Transition restricted to reviewer actions. Entering the
// assigned status is reserved for the assignment operations, which also write
// the assignee set.
func (m Machine) ReviewerTransition(itemID string, from, to domain.Status) (Trigger, error) {
	trig, err := m.Transition(itemID, from, to)
	if err != nil {
		return "", err
	}
	if trig == TriggerAssigned {
		return "", domain.InvalidTransitionError{ItemID: itemID, From: from, To: to}
	}
	return trig, nil
}

// AssignedStatus is the status an item enters when reviewers are set.
func (m Machine) AssignedStatus() domain.Status {
	if m.name == Expert.name {
		return domain.StatusInProgress
	}
	return domain.StatusAssigned
}

// Statuses lists every status the machine knows about, in lifecycle order.
func (m Machine) Statuses() []domain.Status {
	if m.name == Expert.name {
		return []domain.Status{domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted}
	}
	return []domain.Status{
		domain.StatusPending,
		domain.StatusAssigned,
		domain.StatusInProgress,
		domain.StatusCompleted,
		domain.StatusRejected,
	}
}
