package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"reviewflow/internal/analysis"
	"reviewflow/internal/domain"
	"reviewflow/internal/events"
	"reviewflow/internal/workflow"
)

// StatusUpdateOptions describe a reviewer action on an item.
type StatusUpdateOptions struct {
	ItemID   string
	Status   domain.Status
	Feedback *string
	ActorID  string
	// ExpectedRevision, when set, must match the item's current revision.
	ExpectedRevision int64
}

// UpdateStatus applies a reviewer transition. Entering the assigned status is
// only possible through the assignment operations.
func (e Engine) UpdateStatus(ctx context.Context, opts StatusUpdateOptions) (it domain.Item, err error) {
	defer e.observe("update_status", time.Now(), &err)
	if !knownStatus(opts.Status) {
		return it, domain.InvalidInputError{Field: "status", Reason: fmt.Sprintf("unknown status %q", opts.Status)}
	}
	if opts.ActorID == "" {
		return it, domain.InvalidInputError{Field: "actorId", Reason: "required"}
	}
	var from domain.Status
	var trig workflow.Trigger
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.getItemTx(ctx, tx, opts.ItemID)
		if err != nil {
			return err
		}
		if err := checkRevision(cur, opts.ExpectedRevision); err != nil {
			return err
		}
		trig, err = workflow.For(cur.ModuleType).ReviewerTransition(cur.ID, cur.Status, opts.Status)
		if err != nil {
			return err
		}
		from = cur.Status
		now := e.timestamp()
		readRevision := cur.Revision
		cur.Status = opts.Status
		cur.UpdatedAt = now
		payload := events.EventPayload{}
		if opts.Feedback != nil {
			cur.Feedback = strings.TrimSpace(*opts.Feedback)
			payload["feedback"] = cur.Feedback
		}
		if cur.Status.Terminal() {
			cur.CompletedAt = &now
		}
		it, err = e.updateItemTx(ctx, tx, cur, readRevision)
		if err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Transition{
			Type:      string(trig),
			ItemID:    cur.ID,
			ActorID:   opts.ActorID,
			OldStatus: from,
			NewStatus: cur.Status,
			Assignees: cur.Assignees,
			Payload:   payload,
		})
	})
	if err != nil {
		return domain.Item{}, err
	}
	e.Metrics.IncrementTransition(string(from), string(it.Status))
	e.notify()
	return it, nil
}

func knownStatus(s domain.Status) bool {
	for _, st := range workflow.Approval.Statuses() {
		if st == s {
			return true
		}
	}
	return false
}

// ExpertRequestOptions are parameters for requesting an expert legal review.
type ExpertRequestOptions struct {
	ModuleID string
	Title    string
	Text     string
	Context  string
	Priority domain.Priority
	DueDate  string
	ActorID  string
}

// RequestExpertReview analyzes the text and submits the result for an expert.
// The analysis runs before any lock is taken; its failures only mark the
// review as needing a legal expert.
func (e Engine) RequestExpertReview(ctx context.Context, opts ExpertRequestOptions) (it domain.Item, err error) {
	defer e.observe("request_expert_review", time.Now(), &err)
	if strings.TrimSpace(opts.Text) == "" {
		return it, domain.InvalidInputError{Field: "text", Reason: "required"}
	}
	it, err = e.newItem(domain.ModuleExpertLegalReview, opts.ModuleID, opts.Title, opts.Text, opts.Priority, opts.DueDate, opts.ActorID)
	if err != nil {
		return it, err
	}
	if existing, ok, err := e.CheckExists(ctx, it.ModuleType, it.ModuleID); err != nil {
		return domain.Item{}, err
	} else if ok {
		e.Metrics.IncrementDuplicate()
		return domain.Item{}, duplicateOf(existing)
	}
	vr := analysis.Validate(ctx, e.Analyzer, e.Logger, opts.Text, opts.Context)
	it.ValidationResult = &vr
	return e.submit(ctx, it, events.EventPayload{
		"title":              it.Title,
		"priority":           it.Priority,
		"validation_outcome": vr.Outcome,
		"degraded":           vr.Degraded,
	})
}

// ExpertCompleteOptions close an expert legal review.
type ExpertCompleteOptions struct {
	ItemID           string
	Feedback         string
	ActorID          string
	ExpectedRevision int64
}

func (e Engine) CompleteExpertReview(ctx context.Context, opts ExpertCompleteOptions) (it domain.Item, err error) {
	defer e.observe("complete_expert_review", time.Now(), &err)
	feedback := strings.TrimSpace(opts.Feedback)
	if feedback == "" {
		return it, domain.InvalidInputError{Field: "feedback", Reason: "required"}
	}
	if opts.ActorID == "" {
		return it, domain.InvalidInputError{Field: "actorId", Reason: "required"}
	}
	var from domain.Status
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.getItemTx(ctx, tx, opts.ItemID)
		if err != nil {
			return err
		}
		if !cur.IsExpertReview() {
			return domain.InvalidInputError{Field: "itemId", Reason: "not an expert legal review"}
		}
		if err := checkRevision(cur, opts.ExpectedRevision); err != nil {
			return err
		}
		trig, err := workflow.Expert.Transition(cur.ID, cur.Status, domain.StatusCompleted)
		if err != nil {
			return err
		}
		from = cur.Status
		now := e.timestamp()
		readRevision := cur.Revision
		cur.Status = domain.StatusCompleted
		cur.ExpertFeedback = feedback
		cur.CompletedAt = &now
		cur.UpdatedAt = now
		it, err = e.updateItemTx(ctx, tx, cur, readRevision)
		if err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Transition{
			Type:      string(trig),
			ItemID:    cur.ID,
			ActorID:   opts.ActorID,
			OldStatus: from,
			NewStatus: cur.Status,
			Assignees: cur.Assignees,
			Payload:   events.EventPayload{"expert_feedback": feedback},
		})
	})
	if err != nil {
		return domain.Item{}, err
	}
	e.Metrics.IncrementTransition(string(from), string(it.Status))
	e.notify()
	return it, nil
}
