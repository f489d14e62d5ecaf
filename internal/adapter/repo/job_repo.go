package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remix/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// Create inserts a new generation job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.GenerationJob) error {
	query := `
INSERT INTO generation_jobs (id, remote_id, provider, status, text_prompt, result_urls, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.RemoteID,
		job.Provider,
		job.Status,
		job.TextPrompt,
		job.ResultURLs,
		job.ErrorMessage,
	)
	return err
}

// UpdateStatus updates job status and optionally error message and results.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.Status, errMsg *string, resultURLs []string) error {
	query := `
UPDATE generation_jobs
SET status = $2,
    updated_at = NOW(),
    error_message = COALESCE($3, error_message),
    result_urls = COALESCE($4, result_urls)
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, jobID, status, errMsg, nullableStrings(resultURLs))
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.GenerationJob, error) {
	query := `
SELECT id, remote_id, provider, status, text_prompt, result_urls, error_message, created_at, updated_at
FROM generation_jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var job domain.GenerationJob
	if err := row.Scan(
		&job.ID,
		&job.RemoteID,
		&job.Provider,
		&job.Status,
		&job.TextPrompt,
		&job.ResultURLs,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ListRecent returns the most recently created jobs, newest first.
func (r *JobRepositoryPG) ListRecent(ctx context.Context, limit int) ([]domain.GenerationJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
SELECT id, remote_id, provider, status, text_prompt, result_urls, error_message, created_at, updated_at
FROM generation_jobs
ORDER BY created_at DESC
LIMIT $1;
`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.GenerationJob
	for rows.Next() {
		var job domain.GenerationJob
		if err := rows.Scan(
			&job.ID,
			&job.RemoteID,
			&job.Provider,
			&job.Status,
			&job.TextPrompt,
			&job.ResultURLs,
			&job.ErrorMessage,
			&job.CreatedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
