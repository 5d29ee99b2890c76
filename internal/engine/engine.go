package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"reviewflow/internal/analysis"
	"reviewflow/internal/config"
	"reviewflow/internal/directory"
	"reviewflow/internal/domain"
	"reviewflow/internal/events"
	"reviewflow/internal/metrics"
	"reviewflow/internal/repo"
	"reviewflow/internal/retry"
	"reviewflow/internal/strategy"
	"reviewflow/internal/workflow"
)

const EventSettingsUpdated = "settings.updated"

// Engine is the assignment engine. Copies share their locks, so it can be
// passed by value once built with New.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Directory  directory.Directory
	Analyzer   analysis.Analyzer
	Strategies strategy.Set
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
	Retry      retry.Policy
	// Notify is called after each committed change. It must not block.
	Notify func()
	Now    func() time.Time

	modules  *keyedMutex
	settings *sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	r := repo.Repo{DB: db}
	policy := retry.Policy{InitialInterval: cfg.Retry.InitialInterval(), MaxElapsed: cfg.Retry.MaxElapsed()}
	var analyzer analysis.Analyzer = analysis.Unconfigured{}
	if cfg.Analysis.URL != "" {
		analyzer = analysis.NewHTTPClient(cfg.Analysis.URL, time.Duration(cfg.Analysis.TimeoutSeconds)*time.Second,
			analysis.WithRetry(policy))
	}
	return Engine{
		DB:         db,
		Repo:       r,
		Events:     events.Writer{},
		Directory:  directory.New(r, policy),
		Analyzer:   analyzer,
		Strategies: strategy.NewSet(cfg.StrategyRouting()),
		Logger:     slog.Default(),
		Retry:      policy,
		Now:        time.Now,
		modules:    newKeyedMutex(),
		settings:   &sync.Mutex{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) notify() {
	if e.Notify != nil {
		e.Notify()
	}
}

func (e Engine) lockModule(moduleType domain.ModuleType, moduleID string) func() {
	if e.modules == nil {
		return func() {}
	}
	return e.modules.Lock(string(moduleType) + "\x00" + moduleID)
}

func (e Engine) lockSettings() func() {
	if e.settings == nil {
		return func() {}
	}
	e.settings.Lock()
	return e.settings.Unlock
}

// withTx runs fn in a transaction, retrying the whole transaction while the
// store reports it is busy.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return retry.Do(ctx, e.Retry, "store", func() error {
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}

func (e Engine) appendEvent(ctx context.Context, tx *sql.Tx, t events.Transition) error {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	_, err := w.Append(ctx, tx, t)
	return err
}

// observe records the duration of op and the kind of any domain error.
func (e Engine) observe(op string, start time.Time, err *error) {
	e.Metrics.ObserveOperation(op, start)
	if err != nil && *err != nil {
		if code := domain.ErrorCode(*err); code != "" {
			e.Metrics.IncrementDomainError(code)
		}
	}
}

// SubmitOptions are parameters for submitting an artifact for approval.
type SubmitOptions struct {
	ModuleType  domain.ModuleType
	ModuleID    string
	Title       string
	Description string
	Priority    domain.Priority
	DueDate     string
	ActorID     string
}

// SubmitForApproval creates a pending item unless a non-terminal item already
// exists for the module. The check and the insert are one atomic step.
func (e Engine) SubmitForApproval(ctx context.Context, opts SubmitOptions) (it domain.Item, err error) {
	defer e.observe("submit", time.Now(), &err)
	if !opts.ModuleType.Valid() {
		return it, domain.InvalidInputError{Field: "moduleType", Reason: fmt.Sprintf("unknown module type %q", opts.ModuleType)}
	}
	it, err = e.newItem(opts.ModuleType, opts.ModuleID, opts.Title, opts.Description, opts.Priority, opts.DueDate, opts.ActorID)
	if err != nil {
		return it, err
	}
	return e.submit(ctx, it, events.EventPayload{"title": it.Title, "priority": it.Priority})
}

func (e Engine) newItem(moduleType domain.ModuleType, moduleID, title, description string, priority domain.Priority, dueDate, actorID string) (domain.Item, error) {
	moduleID = strings.TrimSpace(moduleID)
	title = strings.TrimSpace(title)
	if moduleID == "" {
		return domain.Item{}, domain.InvalidInputError{Field: "moduleId", Reason: "required"}
	}
	if title == "" {
		return domain.Item{}, domain.InvalidInputError{Field: "title", Reason: "required"}
	}
	if actorID == "" {
		return domain.Item{}, domain.InvalidInputError{Field: "actorId", Reason: "required"}
	}
	if priority == "" {
		priority = domain.PriorityMedium
	}
	if !priority.Valid() {
		return domain.Item{}, domain.InvalidInputError{Field: "priority", Reason: fmt.Sprintf("must be low, medium or high, got %q", priority)}
	}
	due, err := normalizeDueDate(dueDate)
	if err != nil {
		return domain.Item{}, err
	}
	now := e.timestamp()
	return domain.Item{
		ID:          uuid.NewString(),
		ModuleType:  moduleType,
		ModuleID:    moduleID,
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      domain.StatusPending,
		Assignees:   []string{},
		DueDate:     due,
		Revision:    1,
		CreatedBy:   actorID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func normalizeDueDate(v string) (*string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			s := t.UTC().Format(time.RFC3339)
			return &s, nil
		}
	}
	return nil, domain.InvalidInputError{Field: "dueDate", Reason: "expected RFC 3339 timestamp or YYYY-MM-DD"}
}

func (e Engine) submit(ctx context.Context, it domain.Item, payload events.EventPayload) (domain.Item, error) {
	unlock := e.lockModule(it.ModuleType, it.ModuleID)
	defer unlock()

	err := e.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := e.Repo.FindOpenItemTx(ctx, tx, it.ModuleType, it.ModuleID)
		if err == nil {
			return duplicateOf(existing)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return err
		}
		if err := e.Repo.InsertItemTx(ctx, tx, it); err != nil {
			if errors.Is(err, repo.ErrDuplicate) {
				// Another process won the race between our check and insert.
				if existing, ferr := e.Repo.FindOpenItemTx(ctx, tx, it.ModuleType, it.ModuleID); ferr == nil {
					return duplicateOf(existing)
				}
				return domain.DuplicatePendingItemError{ModuleType: it.ModuleType, ModuleID: it.ModuleID}
			}
			return err
		}
		return e.appendEvent(ctx, tx, events.Transition{
			Type:      string(workflow.TriggerCreated),
			ItemID:    it.ID,
			ActorID:   it.CreatedBy,
			NewStatus: it.Status,
			Payload:   payload,
		})
	})
	if err != nil {
		var dup domain.DuplicatePendingItemError
		if errors.As(err, &dup) {
			e.Metrics.IncrementDuplicate()
		}
		return domain.Item{}, err
	}
	e.Metrics.IncrementSubmitted(string(it.ModuleType))
	e.notify()
	return it, nil
}

func duplicateOf(existing domain.Item) error {
	return domain.DuplicatePendingItemError{
		ModuleType:     existing.ModuleType,
		ModuleID:       existing.ModuleID,
		ExistingItemID: existing.ID,
	}
}

// CheckExists reports whether a non-terminal item exists for the module and
// returns it when it does.
func (e Engine) CheckExists(ctx context.Context, moduleType domain.ModuleType, moduleID string) (domain.Item, bool, error) {
	if !moduleType.Valid() {
		return domain.Item{}, false, domain.InvalidInputError{Field: "moduleType", Reason: fmt.Sprintf("unknown module type %q", moduleType)}
	}
	// Submissions store the trimmed id, so look up the same key.
	moduleID = strings.TrimSpace(moduleID)
	var it domain.Item
	err := retry.Do(ctx, e.Retry, "store", func() error {
		var err error
		it, err = e.Repo.FindOpenItem(ctx, moduleType, moduleID)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return domain.Item{}, false, nil
	}
	if err != nil {
		return domain.Item{}, false, err
	}
	return it, true, nil
}

func (e Engine) GetItem(ctx context.Context, id string) (domain.Item, error) {
	it, err := e.Repo.GetItem(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return it, domain.NotFoundError{Kind: "item", ID: id}
	}
	return it, err
}

func (e Engine) getItemTx(ctx context.Context, tx *sql.Tx, id string) (domain.Item, error) {
	it, err := e.Repo.GetItemTx(ctx, tx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return it, domain.NotFoundError{Kind: "item", ID: id}
	}
	return it, err
}

// updateItemTx writes it against the revision it was read at and turns a lost
// race into a StaleStateError carrying the current state.
func (e Engine) updateItemTx(ctx context.Context, tx *sql.Tx, it domain.Item, readRevision int64) (domain.Item, error) {
	updated, err := e.Repo.UpdateItemTx(ctx, tx, it, readRevision)
	if errors.Is(err, repo.ErrStale) {
		cur, gerr := e.getItemTx(ctx, tx, it.ID)
		if gerr != nil {
			return it, gerr
		}
		return it, domain.StaleStateError{ItemID: it.ID, CurrentStatus: cur.Status, CurrentRevision: cur.Revision}
	}
	return updated, err
}

func checkRevision(it domain.Item, expected int64) error {
	if expected > 0 && expected != it.Revision {
		return domain.StaleStateError{ItemID: it.ID, CurrentStatus: it.Status, CurrentRevision: it.Revision}
	}
	return nil
}
