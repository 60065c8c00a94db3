package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"mediaflow/internal/domain"
	"mediaflow/internal/infra"
	"mediaflow/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	params, err := json.Marshal(job.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.AccountID,
		job.InputAssetIDs,
		string(job.Type),
		params,
		string(job.Status),
		job.Progress,
		int(job.Priority),
		int64(job.Seq),
		job.ResultAssetID,
		string(job.ErrorKind),
		job.ErrorMessage,
		job.Attempts,
		job.Requeues,
		job.SlotReleased,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.ExpiresAt,
	)
	if infra.IsUniqueViolation(err) {
		return domain.NewValidationError("id", "duplicate job id")
	}
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Update persists the mutable lifecycle fields of job.
func (r *JobRepositoryPG) Update(ctx context.Context, job *domain.Job) error {
	updatedAt := job.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJob,
		job.ID,
		string(job.Status),
		job.Progress,
		job.ResultAssetID,
		string(job.ErrorKind),
		job.ErrorMessage,
		job.Attempts,
		job.Requeues,
		job.SlotReleased,
		job.StartedAt,
		job.CompletedAt,
		updatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Delete removes a job row. Missing rows are not an error.
func (r *JobRepositoryPG) Delete(ctx context.Context, id string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QDeleteJob, id)
	return err
}

// ListByAccount returns the newest jobs of an account first.
func (r *JobRepositoryPG) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 1000
	}
	return r.list(ctx, sqlinline.QListJobsByAccount, accountID, limit)
}

// ListByStatus returns jobs in any of the statuses, oldest sequence first.
func (r *JobRepositoryPG) ListByStatus(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.Job, error) {
	values := make([]string, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, string(s))
	}
	return r.list(ctx, sqlinline.QListJobsByStatus, values)
}

// ListExpired returns jobs whose retention window has elapsed.
func (r *JobRepositoryPG) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = 1000
	}
	return r.list(ctx, sqlinline.QListExpiredJobs, now, limit)
}

// CountCompleted counts completed jobs created in [from, to).
func (r *JobRepositoryPG) CountCompleted(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	var n int
	if err := r.sql.QueryRow(ctx, sqlinline.QCountCompletedJobs, accountID, from, to).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *JobRepositoryPG) list(ctx context.Context, query string, args ...any) ([]*domain.Job, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var (
		job       domain.Job
		params    []byte
		jobType   string
		status    string
		errorKind string
		priority  int
		seq       int64
	)
	if err := row.Scan(
		&job.ID,
		&job.AccountID,
		&job.InputAssetIDs,
		&jobType,
		&params,
		&status,
		&job.Progress,
		&priority,
		&seq,
		&job.ResultAssetID,
		&errorKind,
		&job.ErrorMessage,
		&job.Attempts,
		&job.Requeues,
		&job.SlotReleased,
		&job.CreatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ExpiresAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	job.ErrorKind = domain.ErrorKind(errorKind)
	job.Priority = domain.Priority(priority)
	job.Seq = uint64(seq)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &job.Params); err != nil {
			return nil, fmt.Errorf("decode params for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}
