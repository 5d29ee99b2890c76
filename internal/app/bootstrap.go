// Package app wires a workspace: database, migrations, seed data and engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"reviewflow/internal/config"
	"reviewflow/internal/db"
	"reviewflow/internal/domain"
	"reviewflow/internal/engine"
	"reviewflow/internal/migrate"
)

// Open opens the workspace database, applies pending migrations and seeds the
// reviewer directory and auto-assignment settings from cfg.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*sql.DB, engine.Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, engine.Engine{}, err
	}
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, engine.Engine{}, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, cfg)
	if err := Seed(ctx, eng, cfg); err != nil {
		conn.Close()
		return nil, engine.Engine{}, err
	}
	return conn, eng, nil
}

// Seed syncs the reviewers listed in cfg into the directory and creates the
// settings record if it does not exist. When cfg lists reviewers, reviewers
// missing from it are deactivated; an empty list leaves the directory alone.
// Existing settings are never overwritten, so runtime updates survive restarts.
func Seed(ctx context.Context, eng engine.Engine, cfg *config.Config) error {
	now := eng.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if len(cfg.Reviewers) > 0 {
		tx, err := eng.DB.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		keep := make([]string, 0, len(cfg.Reviewers))
		for _, rc := range cfg.Reviewers {
			rv := domain.Reviewer{ID: rc.ID, DisplayName: rc.DisplayName, Role: rc.Role, Department: rc.Department}
			if rv.DisplayName == "" {
				rv.DisplayName = rv.ID
			}
			if err := eng.Repo.UpsertReviewerTx(ctx, tx, rv, ts); err != nil {
				return fmt.Errorf("seed reviewer %s: %w", rc.ID, err)
			}
			keep = append(keep, rc.ID)
		}
		if err := eng.Repo.DeactivateReviewersExceptTx(ctx, tx, keep, ts); err != nil {
			return fmt.Errorf("deactivate reviewers: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	if _, err := eng.EnsureSettings(ctx, cfg.AutoAssignment); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}
