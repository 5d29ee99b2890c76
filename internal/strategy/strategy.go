// Package strategy selects reviewers for an item from an eligible pool.
//
// Every strategy is a pure function of (item, pool, settings): the pool is
// already filtered by the settings' eligible roles and departments, and an
// empty pool yields an empty selection. Callers persist any state a strategy
// depends on (the round-robin cursor lives in the settings record).
package strategy

import (
	"sort"

	"reviewflow/internal/domain"
)

type Strategy interface {
	Type() domain.StrategyType
	Select(item domain.Item, pool []domain.Reviewer, settings domain.AutoAssignmentSettings) []string
}

// Routing maps module types to the departments and roles that should review them.
type Routing struct {
	Departments map[domain.ModuleType][]string
	Expertise   map[domain.ModuleType][]string
}

// Set is the registry of configured strategies.
type Set struct {
	byType map[domain.StrategyType]Strategy
}

func NewSet(routing Routing) Set {
	s := Set{byType: map[domain.StrategyType]Strategy{}}
	for _, st := range []Strategy{
		WorkloadBalanced{},
		RoundRobin{},
		DepartmentBased{Departments: routing.Departments},
		ExpertiseBased{Roles: routing.Expertise},
	} {
		s.byType[st.Type()] = st
	}
	return s
}

// Lookup returns the strategy registered for t.
func (s Set) Lookup(t domain.StrategyType) (Strategy, error) {
	st, ok := s.byType[t]
	if !ok {
		return nil, domain.InvalidStrategyError{Strategy: string(t)}
	}
	return st, nil
}

// WorkloadBalanced picks the reviewer with the fewest open assignments; ties
// go to the lowest id.
type WorkloadBalanced struct{}

func (WorkloadBalanced) Type() domain.StrategyType { return domain.StrategyWorkloadBalanced }

func (WorkloadBalanced) Select(_ domain.Item, pool []domain.Reviewer, _ domain.AutoAssignmentSettings) []string {
	return leastLoaded(pool)
}

func leastLoaded(pool []domain.Reviewer) []string {
	if len(pool) == 0 {
		return nil
	}
	best := pool[0]
	for _, r := range pool[1:] {
		if r.OpenAssignmentCount < best.OpenAssignmentCount ||
			(r.OpenAssignmentCount == best.OpenAssignmentCount && r.ID < best.ID) {
			best = r
		}
	}
	return []string{best.ID}
}

// RoundRobin walks the pool in id order, starting after the cursor recorded in
// the settings and wrapping around.
type RoundRobin struct{}

func (RoundRobin) Type() domain.StrategyType { return domain.StrategyRoundRobin }

func (RoundRobin) Select(_ domain.Item, pool []domain.Reviewer, settings domain.AutoAssignmentSettings) []string {
	if len(pool) == 0 {
		return nil
	}
	ids := make([]string, 0, len(pool))
	for _, r := range pool {
		ids = append(ids, r.ID)
	}
	sort.Strings(ids)
	// The cursor may name a reviewer no longer in the pool, so search by order
	// rather than by position.
	next := sort.SearchStrings(ids, settings.RoundRobinCursor)
	if next < len(ids) && ids[next] == settings.RoundRobinCursor {
		next++
	}
	if settings.RoundRobinCursor == "" || next >= len(ids) {
		next = 0
	}
	return []string{ids[next]}
}

// DepartmentBased prefers reviewers from the departments mapped to the item's
// module type, balancing workload among them.
type DepartmentBased struct {
	Departments map[domain.ModuleType][]string
}

func (DepartmentBased) Type() domain.StrategyType { return domain.StrategyDepartmentBased }

func (d DepartmentBased) Select(item domain.Item, pool []domain.Reviewer, _ domain.AutoAssignmentSettings) []string {
	wanted := d.Departments[item.ModuleType]
	matched := filter(pool, func(r domain.Reviewer) bool { return contains(wanted, r.Department) })
	if len(matched) == 0 {
		return leastLoaded(pool)
	}
	return leastLoaded(matched)
}

// ExpertiseBased prefers reviewers whose role is mapped to the item's module
// type, with the same fallback as DepartmentBased.
type ExpertiseBased struct {
	Roles map[domain.ModuleType][]string
}

func (ExpertiseBased) Type() domain.StrategyType { return domain.StrategyExpertiseBased }

func (e ExpertiseBased) Select(item domain.Item, pool []domain.Reviewer, _ domain.AutoAssignmentSettings) []string {
	wanted := e.Roles[item.ModuleType]
	matched := filter(pool, func(r domain.Reviewer) bool { return contains(wanted, r.Role) })
	if len(matched) == 0 {
		return leastLoaded(pool)
	}
	return leastLoaded(matched)
}

func filter(pool []domain.Reviewer, keep func(domain.Reviewer) bool) []domain.Reviewer {
	var out []domain.Reviewer
	for _, r := range pool {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
