package engine

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"reviewflow/internal/domain"
	"reviewflow/internal/events"
	"reviewflow/internal/repo"
	"reviewflow/internal/strategy"
	"reviewflow/internal/workflow"
)

// AssignOptions are parameters for a manual assignment.
type AssignOptions struct {
	ItemID      string
	ReviewerIDs []string
	Note        string
	ActorID     string
	// ExpectedRevision, when set, must match the item's current revision.
	ExpectedRevision int64
}

// AssignManually sets an explicit reviewer list on a pending item.
func (e Engine) AssignManually(ctx context.Context, opts AssignOptions) (it domain.Item, err error) {
	defer e.observe("assign_manual", time.Now(), &err)
	ids := normalizeIDs(opts.ReviewerIDs)
	if len(ids) == 0 {
		return it, domain.NoReviewersSelectedError{}
	}
	known, err := e.Directory.Lookup(ctx, ids)
	if err != nil {
		return it, err
	}
	found := make(map[string]bool, len(known))
	for _, r := range known {
		found[r.ID] = true
	}
	for _, id := range ids {
		if !found[id] {
			return it, domain.UnknownReviewerError{ReviewerID: id}
		}
	}
	return e.assign(ctx, assignment{
		itemID:           opts.ItemID,
		note:             opts.Note,
		actorID:          opts.ActorID,
		expectedRevision: opts.ExpectedRevision,
		choose: func(context.Context, *sql.Tx, domain.Item) ([]string, domain.StrategyType, error) {
			return ids, domain.StrategyManual, nil
		},
	})
}

// AutoAssignOptions are parameters for a strategy-driven assignment.
type AutoAssignOptions struct {
	ItemID string
	// ForceAssign runs the configured strategy even when auto-assignment is disabled.
	ForceAssign bool
	ActorID     string
}

// AutoAssign picks reviewers with the configured strategy. Settings and pool
// are checked up front, then read again inside the assignment transaction,
// which holds the store's write lock from BEGIN. Selection and the round-robin
// cursor advance use only that snapshot, so processes sharing a workspace
// cannot interleave.
func (e Engine) AutoAssign(ctx context.Context, opts AutoAssignOptions) (it domain.Item, err error) {
	defer e.observe("assign_auto", time.Now(), &err)
	if _, err := e.GetItem(ctx, opts.ItemID); err != nil {
		return it, err
	}

	unlock := e.lockSettings()
	defer unlock()

	settings, err := e.GetSettings(ctx)
	if err != nil {
		return it, err
	}
	if _, err := e.autoAssignPlan(settings, opts.ForceAssign); err != nil {
		return it, err
	}
	pool, err := e.Directory.ListEligible(ctx, settings.EligibleRoles, settings.EligibleDepartments)
	if err != nil {
		return it, err
	}
	if len(pool) == 0 {
		return it, domain.NoEligibleReviewersError{Strategy: settings.StrategyType}
	}

	var used domain.AutoAssignmentSettings
	return e.assign(ctx, assignment{
		itemID:  opts.ItemID,
		actorID: opts.ActorID,
		choose: func(ctx context.Context, tx *sql.Tx, item domain.Item) ([]string, domain.StrategyType, error) {
			cur, err := e.Repo.GetSettingsTx(ctx, tx)
			if err != nil {
				return nil, "", err
			}
			st, err := e.autoAssignPlan(cur, opts.ForceAssign)
			if err != nil {
				return nil, "", err
			}
			pool, err := e.Repo.ListReviewersTx(ctx, tx, repo.ReviewerFilters{Roles: cur.EligibleRoles, Departments: cur.EligibleDepartments})
			if err != nil {
				return nil, "", err
			}
			ids := st.Select(item, pool, cur)
			if len(ids) == 0 {
				return nil, "", domain.NoEligibleReviewersError{Strategy: cur.StrategyType}
			}
			used = cur
			return ids, cur.StrategyType, nil
		},
		afterWrite: func(ctx context.Context, tx *sql.Tx, ids []string) error {
			if used.StrategyType != domain.StrategyRoundRobin {
				return nil
			}
			return e.Repo.SetRoundRobinCursorTx(ctx, tx, ids[len(ids)-1])
		},
	})
}

// autoAssignPlan checks that s allows an automatic assignment and returns
// its strategy.
func (e Engine) autoAssignPlan(s domain.AutoAssignmentSettings, force bool) (strategy.Strategy, error) {
	if !s.Enabled && !force {
		return nil, domain.AutoAssignmentDisabledError{}
	}
	return e.Strategies.Lookup(s.StrategyType)
}

type assignment struct {
	itemID           string
	note             string
	actorID          string
	expectedRevision int64
	// choose runs inside the transaction once the item is known to be
	// assignable and returns the reviewers and the strategy that picked them.
	choose     func(ctx context.Context, tx *sql.Tx, item domain.Item) ([]string, domain.StrategyType, error)
	afterWrite func(ctx context.Context, tx *sql.Tx, ids []string) error
}

func (e Engine) assign(ctx context.Context, a assignment) (domain.Item, error) {
	if a.actorID == "" {
		return domain.Item{}, domain.InvalidInputError{Field: "actorId", Reason: "required"}
	}
	var out domain.Item
	var from, to domain.Status
	var used domain.StrategyType
	err := e.withTx(ctx, func(tx *sql.Tx) error {
		it, err := e.getItemTx(ctx, tx, a.itemID)
		if err != nil {
			return err
		}
		if err := checkRevision(it, a.expectedRevision); err != nil {
			return err
		}
		machine := workflow.For(it.ModuleType)
		from, to = it.Status, machine.AssignedStatus()
		if !machine.Allowed(from, to) {
			return domain.InvalidTransitionError{ItemID: it.ID, From: from, To: to}
		}
		ids, strategyUsed, err := a.choose(ctx, tx, it)
		if err != nil {
			return err
		}
		used = strategyUsed
		now := e.timestamp()
		readRevision := it.Revision
		it.Assignees = ids
		it.Status = to
		it.UpdatedAt = now
		out, err = e.updateItemTx(ctx, tx, it, readRevision)
		if err != nil {
			return err
		}
		rec := domain.Assignment{
			ID:           uuid.NewString(),
			ItemID:       it.ID,
			AssignedTo:   ids,
			StrategyUsed: used,
			AssignedBy:   a.actorID,
			AssignedAt:   now,
			Note:         strings.TrimSpace(a.note),
		}
		if err := e.Repo.InsertAssignmentTx(ctx, tx, rec); err != nil {
			return err
		}
		if a.afterWrite != nil {
			if err := a.afterWrite(ctx, tx, ids); err != nil {
				return err
			}
		}
		payload := events.EventPayload{"strategy": used, "assignment_id": rec.ID}
		if rec.Note != "" {
			payload["note"] = rec.Note
		}
		return e.appendEvent(ctx, tx, events.Transition{
			Type:      string(workflow.TriggerAssigned),
			ItemID:    it.ID,
			ActorID:   a.actorID,
			OldStatus: from,
			NewStatus: to,
			Assignees: ids,
			Payload:   payload,
		})
	})
	if err != nil {
		return domain.Item{}, err
	}
	e.Metrics.IncrementAssignment(string(used))
	e.Metrics.IncrementTransition(string(from), string(to))
	e.notify()
	return out, nil
}

// ListAssignments returns the assignment audit trail of an item.
func (e Engine) ListAssignments(ctx context.Context, itemID string) ([]domain.Assignment, error) {
	if _, err := e.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return e.Repo.ListAssignments(ctx, itemID)
}

// ListReviewers returns every active reviewer with its workload.
func (e Engine) ListReviewers(ctx context.Context) ([]domain.Reviewer, error) {
	res, err := e.Directory.ListEligible(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	if res == nil {
		res = []domain.Reviewer{}
	}
	return res, nil
}

func normalizeIDs(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
