// Package directory is the read-only reviewer view the engine assigns from.
package directory

import (
	"context"

	"reviewflow/internal/domain"
	"reviewflow/internal/repo"
	"reviewflow/internal/retry"
)

// Directory lists reviewers with their open assignment counts already computed.
type Directory interface {
	ListEligible(ctx context.Context, roles, departments []string) ([]domain.Reviewer, error)
	// Lookup returns the known reviewers among ids; unknown ids are omitted.
	Lookup(ctx context.Context, ids []string) ([]domain.Reviewer, error)
}

// SQL serves the directory from the reviewers table.
type SQL struct {
	Repo  repo.Repo
	Retry retry.Policy
}

func New(r repo.Repo, p retry.Policy) SQL {
	return SQL{Repo: r, Retry: p}
}

func (d SQL) ListEligible(ctx context.Context, roles, departments []string) ([]domain.Reviewer, error) {
	var res []domain.Reviewer
	err := retry.Do(ctx, d.Retry, "directory", func() error {
		var err error
		res, err = d.Repo.ListReviewers(ctx, repo.ReviewerFilters{Roles: roles, Departments: departments})
		return err
	})
	return res, err
}

func (d SQL) Lookup(ctx context.Context, ids []string) ([]domain.Reviewer, error) {
	var res []domain.Reviewer
	err := retry.Do(ctx, d.Retry, "directory", func() error {
		var err error
		res, err = d.Repo.LookupReviewers(ctx, ids)
		return err
	})
	return res, err
}
