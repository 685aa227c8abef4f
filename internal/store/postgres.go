package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/DomenicoAnzalone/cloud-job-orchestrator/internal/job"
)

// pq error code for unique_violation
const pqUniqueViolation = "23505"

// PostgresStore persists job records in the jobs table.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore on top of an open connection pool.
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// jobRow maps the jobs table. Payload refs and the error detail are
// flattened into nullable columns.
type jobRow struct {
	JobID           string         `db:"job_id"`
	PartitionKey    string         `db:"partition_key"`
	JobType         string         `db:"job_type"`
	Status          string         `db:"status"`
	Progress        float64        `db:"progress"`
	Attempts        int            `db:"attempts"`
	Params          sql.NullString `db:"params"`
	InputContainer  sql.NullString `db:"input_container"`
	InputLocation   sql.NullString `db:"input_location"`
	OutputContainer sql.NullString `db:"output_container"`
	OutputLocation  sql.NullString `db:"output_location"`
	ErrorMessage    sql.NullString `db:"error_message"`
	ErrorType       sql.NullString `db:"error_type"`
	ErrorStep       sql.NullString `db:"error_step"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *jobRow) toJob() *job.Job {
	j := &job.Job{
		ID:           r.JobID,
		PartitionKey: r.PartitionKey,
		Type:         r.JobType,
		Status:       r.Status,
		Progress:     r.Progress,
		Attempts:     r.Attempts,
		Params:       r.Params.String,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.InputContainer.Valid {
		j.InputRef = &job.PayloadRef{Container: r.InputContainer.String, Location: r.InputLocation.String}
	}
	if r.OutputContainer.Valid {
		j.OutputRef = &job.PayloadRef{Container: r.OutputContainer.String, Location: r.OutputLocation.String}
	}
	if r.ErrorMessage.Valid {
		j.Error = &job.Error{
			Message: r.ErrorMessage.String,
			Type:    r.ErrorType.String,
			Step:    r.ErrorStep.String,
		}
	}
	return j
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresStore) Create(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, partition_key, job_type, status, progress, attempts,
			params, input_container, input_location, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11
		)
	`

	var inputContainer, inputLocation sql.NullString
	if j.InputRef != nil {
		inputContainer = nullString(j.InputRef.Container)
		inputLocation = nullString(j.InputRef.Location)
	}

	_, err := s.db.ExecContext(
		ctx,
		query,
		j.ID,
		j.PartitionKey,
		j.Type,
		j.Status,
		j.Progress,
		j.Attempts,
		nullString(j.Params),
		inputContainer,
		inputLocation,
		j.CreatedAt,
		j.UpdatedAt,
	)

	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return job.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id, partitionKey string) (*job.Job, error) {
	var row jobRow
	query := `
		SELECT
			job_id, partition_key, job_type, status, progress, attempts,
			params, input_container, input_location,
			output_container, output_location,
			error_message, error_type, error_step,
			created_at, updated_at
		FROM jobs
		WHERE job_id = $1 AND partition_key = $2
	`

	err := s.db.GetContext(ctx, &row, query, id, partitionKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toJob(), nil
}

// ConditionalUpdate locks the row, checks the expected status, applies the
// mutation and writes back. SELECT FOR UPDATE serializes racing workers;
// whoever reaches the row first while the expected status holds wins, the
// rest get job.ErrPreconditionFailed. A mutation whose resulting status is
// not a legal lifecycle edge from the expected status is rejected with
// job.ErrConflict before anything is written.
func (s *PostgresStore) ConditionalUpdate(ctx context.Context, id, partitionKey, expectedStatus string, mutate Mutation) (*job.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var row jobRow
	selectQuery := `
		SELECT
			job_id, partition_key, job_type, status, progress, attempts,
			params, input_container, input_location,
			output_container, output_location,
			error_message, error_type, error_step,
			created_at, updated_at
		FROM jobs
		WHERE job_id = $1 AND partition_key = $2
		FOR UPDATE
	`

	if err := tx.GetContext(ctx, &row, selectQuery, id, partitionKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock job: %w", err)
	}

	if row.Status != expectedStatus {
		s.logger.Debug("Conditional update lost the race",
			slog.String("job_id", id),
			slog.String("expected_status", expectedStatus),
			slog.String("actual_status", row.Status),
		)
		return nil, job.ErrPreconditionFailed
	}

	j := row.toJob()
	mutate(j)
	if !job.CanTransition(expectedStatus, j.Status) {
		s.logger.Warn("Conditional update rejected - illegal transition",
			slog.String("job_id", id),
			slog.String("from", expectedStatus),
			slog.String("to", j.Status),
		)
		return nil, job.ErrConflict
	}
	j.UpdatedAt = time.Now().UTC()

	var outputContainer, outputLocation sql.NullString
	if j.OutputRef != nil {
		outputContainer = nullString(j.OutputRef.Container)
		outputLocation = nullString(j.OutputRef.Location)
	}
	var errMessage, errType, errStep sql.NullString
	if j.Error != nil {
		errMessage = sql.NullString{String: j.Error.Message, Valid: true}
		errType = nullString(j.Error.Type)
		errStep = nullString(j.Error.Step)
	}

	updateQuery := `
		UPDATE jobs
		SET status = $1,
		    progress = $2,
		    attempts = $3,
		    output_container = $4,
		    output_location = $5,
		    error_message = $6,
		    error_type = $7,
		    error_step = $8,
		    updated_at = $9
		WHERE job_id = $10 AND partition_key = $11
	`

	if _, err := tx.ExecContext(ctx, updateQuery,
		j.Status,
		j.Progress,
		j.Attempts,
		outputContainer,
		outputLocation,
		errMessage,
		errType,
		errStep,
		j.UpdatedAt,
		id,
		partitionKey,
	); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit job update: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", id),
		slog.String("from", expectedStatus),
		slog.String("to", j.Status),
	)

	return j, nil
}

// UpdateProgress only moves progress forward and only while processing.
func (s *PostgresStore) UpdateProgress(ctx context.Context, id, partitionKey string, progress float64) error {
	query := `
		UPDATE jobs
		SET progress = GREATEST(progress, $1),
		    updated_at = NOW()
		WHERE job_id = $2 AND partition_key = $3 AND status = $4
	`

	result, err := s.db.ExecContext(ctx, query, progress, id, partitionKey, job.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Debug("Progress update skipped - job not processing",
			slog.String("job_id", id),
		)
	}

	return nil
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]job.Job, error) {
	query := `
		SELECT
			job_id, partition_key, job_type, status, progress, attempts,
			params, input_container, input_location,
			output_container, output_location,
			error_message, error_type, error_step,
			created_at, updated_at
		FROM jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.PartitionKey != "" {
		query += fmt.Sprintf(" AND partition_key = $%d", argIdx)
		args = append(args, filter.PartitionKey)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, job_id DESC for stable pagination
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra row so the caller can tell there is a next page
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]job.Job, len(rows))
	for i := range rows {
		jobs[i] = *rows[i].toJob()
	}

	return jobs, nil
}
