package platform

import (
	"context"
	"database/sql"
)

// schema contains the DDL for the platform tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		name            TEXT PRIMARY KEY,
		state           TEXT NOT NULL DEFAULT 'InProgress',
		image           TEXT NOT NULL DEFAULT '',
		hyperparameters TEXT NOT NULL DEFAULT '{}',
		environment     TEXT NOT NULL DEFAULT '{}',
		tags            TEXT NOT NULL DEFAULT '{}',
		model_artifact  TEXT NOT NULL DEFAULT '',
		failure_reason  TEXT NOT NULL DEFAULT '',
		created_at      TEXT NOT NULL,
		completed_at    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at)`,

	`CREATE TABLE IF NOT EXISTS endpoints (
		name           TEXT PRIMARY KEY,
		job_name       TEXT NOT NULL REFERENCES jobs(name),
		instance_type  TEXT NOT NULL,
		instance_count INTEGER NOT NULL DEFAULT 1,
		tags           TEXT NOT NULL DEFAULT '{}',
		created_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_endpoints_job_name ON endpoints(job_name)`,
}

// migrate executes all schema DDL statements.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
