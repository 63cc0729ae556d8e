package platform

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/mlledger/pkg/model"

	_ "modernc.org/sqlite"
)

var (
	// ErrJobExists is returned when a job name is already taken.
	ErrJobExists = errors.New("job already exists")
	// ErrEndpointExists is returned when an endpoint name is already taken.
	ErrEndpointExists = errors.New("endpoint already exists")
)

// Store persists jobs and endpoints for the development platform.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database (useful in tests).
func NewStore(dbPath string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &Store{
		db:     db,
		logger: logger.With("component", "platform-store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *Store) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// CreateJob inserts a new job.
func (s *Store) CreateJob(ctx context.Context, job *model.Job) error {
	s.logger.Debug("sql", "op", "insert", "table", "jobs", "name", job.Name)

	hpJSON, err := json.Marshal(job.Hyperparameters)
	if err != nil {
		return fmt.Errorf("marshal hyperparameters: %w", err)
	}
	envJSON, err := json.Marshal(job.Environment)
	if err != nil {
		return fmt.Errorf("marshal environment: %w", err)
	}
	tagsJSON, err := json.Marshal(job.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (name, state, image, hyperparameters, environment, tags, model_artifact, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.Name, string(job.State), job.Image,
		string(hpJSON), string(envJSON), string(tagsJSON), job.ModelArtifact,
		job.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	return err
}

// GetJob returns the named job, or nil if it does not exist.
func (s *Store) GetJob(ctx context.Context, name string) (*model.Job, error) {
	s.logger.Debug("sql", "op", "select", "table", "jobs", "name", name)

	row := s.db.QueryRowContext(ctx,
		`SELECT name, state, image, hyperparameters, environment, tags, model_artifact, failure_reason, created_at, completed_at
		 FROM jobs WHERE name = ?`, name)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// ListJobs returns the most recently created jobs first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*model.Job, error) {
	s.logger.Debug("sql", "op", "list", "table", "jobs", "limit", limit)
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, state, image, hyperparameters, environment, tags, model_artifact, failure_reason, created_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FinishJob moves a job to a terminal state.
func (s *Store) FinishJob(ctx context.Context, name string, state model.JobState, reason string, at time.Time) error {
	s.logger.Debug("sql", "op", "update", "table", "jobs", "name", name, "state", state)

	if !state.IsTerminal() {
		return fmt.Errorf("finish job %s: state %s is not terminal", name, state)
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state=?, failure_reason=?, completed_at=? WHERE name=? AND state=?`,
		string(state), reason, at.Format(time.RFC3339Nano), name, string(model.JobStateInProgress),
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("finish job %s: not found or already finished", name)
	}
	return nil
}

// CreateEndpoint inserts a new endpoint.
func (s *Store) CreateEndpoint(ctx context.Context, ep *model.Endpoint) error {
	s.logger.Debug("sql", "op", "insert", "table", "endpoints", "name", ep.Name)

	tagsJSON, err := json.Marshal(ep.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO endpoints (name, job_name, instance_type, instance_count, tags, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ep.Name, ep.JobName, ep.InstanceType, ep.Count, string(tagsJSON), ep.CreatedAt.Format(time.RFC3339Nano),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrEndpointExists, ep.Name)
	}
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetEndpoint returns the named endpoint, or nil if it does not exist.
func (s *Store) GetEndpoint(ctx context.Context, name string) (*model.Endpoint, error) {
	s.logger.Debug("sql", "op", "select", "table", "endpoints", "name", name)

	var ep model.Endpoint
	var tagsJSON, createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT name, job_name, instance_type, instance_count, tags, created_at FROM endpoints WHERE name = ?`, name,
	).Scan(&ep.Name, &ep.JobName, &ep.InstanceType, &ep.Count, &tagsJSON, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &ep.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	ep.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &ep, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*model.Job, error) {
	var job model.Job
	var state, hpJSON, envJSON, tagsJSON, createdAt string
	var completedAt *string

	if err := row.Scan(&job.Name, &state, &job.Image, &hpJSON, &envJSON, &tagsJSON,
		&job.ModelArtifact, &job.FailureReason, &createdAt, &completedAt); err != nil {
		return nil, err
	}
	job.State = model.JobState(state)

	if err := json.Unmarshal([]byte(hpJSON), &job.Hyperparameters); err != nil {
		return nil, fmt.Errorf("unmarshal hyperparameters: %w", err)
	}
	if err := json.Unmarshal([]byte(envJSON), &job.Environment); err != nil {
		return nil, fmt.Errorf("unmarshal environment: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &job.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if completedAt != nil {
		t, _ := time.Parse(time.RFC3339Nano, *completedAt)
		job.CompletedAt = &t
	}
	return &job, nil
}
