package engine

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"reviewflow/internal/domain"
	"reviewflow/internal/events"
	"reviewflow/internal/repo"
	"reviewflow/internal/retry"
)

func (e Engine) GetSettings(ctx context.Context) (domain.AutoAssignmentSettings, error) {
	var s domain.AutoAssignmentSettings
	err := retry.Do(ctx, e.Retry, "store", func() error {
		var err error
		s, err = e.Repo.GetSettings(ctx)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return s, domain.NotFoundError{Kind: "settings", ID: "auto_assignment"}
	}
	return s, err
}

// EnsureSettings seeds the settings record on first start.
func (e Engine) EnsureSettings(ctx context.Context, defaults domain.AutoAssignmentSettings) (domain.AutoAssignmentSettings, error) {
	defaults, err := validateSettings(defaults)
	if err != nil {
		return defaults, err
	}
	if defaults.UpdatedBy == "" {
		defaults.UpdatedBy = "config"
	}
	if _, err := e.Repo.EnsureSettings(ctx, defaults, e.timestamp()); err != nil {
		return defaults, err
	}
	return e.GetSettings(ctx)
}

// SettingsUpdateOptions replace the auto-assignment settings wholesale.
type SettingsUpdateOptions struct {
	Settings domain.AutoAssignmentSettings
	// ExpectedVersion, when set, must match the stored version.
	ExpectedVersion *int64
	ActorID         string
}

// UpdateAutoAssignmentSettings validates and stores new settings. The
// round-robin cursor is carried over.
func (e Engine) UpdateAutoAssignmentSettings(ctx context.Context, opts SettingsUpdateOptions) (out domain.AutoAssignmentSettings, err error) {
	defer e.observe("update_settings", time.Now(), &err)
	s, err := validateSettings(opts.Settings)
	if err != nil {
		return out, err
	}
	if opts.ActorID == "" {
		return out, domain.InvalidInputError{Field: "actorId", Reason: "required"}
	}

	unlock := e.lockSettings()
	defer unlock()

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := e.Repo.GetSettingsTx(ctx, tx)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.NotFoundError{Kind: "settings", ID: "auto_assignment"}
		}
		if err != nil {
			return err
		}
		if opts.ExpectedVersion != nil && *opts.ExpectedVersion != cur.Version {
			return domain.SettingsVersionConflictError{Expected: *opts.ExpectedVersion, Current: cur.Version}
		}
		s.UpdatedBy = opts.ActorID
		s.UpdatedAt = e.timestamp()
		if err := e.Repo.UpdateSettingsTx(ctx, tx, s, cur.Version); err != nil {
			if errors.Is(err, repo.ErrStale) {
				return domain.SettingsVersionConflictError{Expected: cur.Version, Current: cur.Version + 1}
			}
			return err
		}
		out, err = e.Repo.GetSettingsTx(ctx, tx)
		if err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, events.Transition{
			Type:    EventSettingsUpdated,
			ActorID: opts.ActorID,
			Payload: events.EventPayload{
				"version":              out.Version,
				"enabled":              out.Enabled,
				"strategy_type":        out.StrategyType,
				"eligible_roles":       out.EligibleRoles,
				"eligible_departments": out.EligibleDepartments,
			},
		})
	})
	if err != nil {
		return domain.AutoAssignmentSettings{}, err
	}
	e.notify()
	return out, nil
}

// validateSettings checks the strategy and filter sets and returns a copy
// with trimmed, de-duplicated roles and departments.
func validateSettings(s domain.AutoAssignmentSettings) (domain.AutoAssignmentSettings, error) {
	if !s.StrategyType.Valid() {
		return s, domain.InvalidStrategyError{Strategy: string(s.StrategyType)}
	}
	roles, ok := cleanSet(s.EligibleRoles)
	if !ok {
		return s, domain.InvalidRoleOrDepartmentError{Field: "eligibleRoles"}
	}
	depts, ok := cleanSet(s.EligibleDepartments)
	if !ok {
		return s, domain.InvalidRoleOrDepartmentError{Field: "eligibleDepartments"}
	}
	if s.Enabled && len(roles) == 0 {
		return s, domain.InvalidRoleOrDepartmentError{Field: "eligibleRoles"}
	}
	if s.Enabled && len(depts) == 0 {
		return s, domain.InvalidRoleOrDepartmentError{Field: "eligibleDepartments"}
	}
	s.EligibleRoles = roles
	s.EligibleDepartments = depts
	return s, nil
}

// cleanSet rejects blank entries and drops repeats, keeping order.
func cleanSet(in []string) ([]string, bool) {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			return nil, false
		}
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, true
}
