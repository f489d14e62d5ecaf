package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"remix/internal/domain"
)

// ModelRepositoryPG implements domain.ModelRepository.
type ModelRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewModelRepository creates a new custom-model repository backed by PostgreSQL.
func NewModelRepository(pool *pgxpool.Pool) *ModelRepositoryPG {
	return &ModelRepositoryPG{pool: pool}
}

// Create inserts a new custom model record.
func (r *ModelRepositoryPG) Create(ctx context.Context, model *domain.CustomModel) error {
	query := `
INSERT INTO custom_models (id, org_id, user_id, name, status, lora_url, error_message)
VALUES ($1, $2, $3, $4, $5, $6, $7);
`
	_, err := r.pool.Exec(ctx, query,
		model.ID,
		model.OrgID,
		model.UserID,
		model.Name,
		model.Status,
		model.LoraURL,
		model.ErrorMessage,
	)
	return err
}

// UpdateStatus updates model status and optionally the error message.
func (r *ModelRepositoryPG) UpdateStatus(ctx context.Context, modelID string, status domain.Status, errMsg *string) error {
	query := `
UPDATE custom_models
SET status = $2,
    updated_at = NOW(),
    error_message = COALESCE($3, error_message)
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, modelID, status, errMsg)
	return err
}

// SetLoraURL records the uploaded artifact location, making the model deployable.
func (r *ModelRepositoryPG) SetLoraURL(ctx context.Context, modelID, loraURL string) error {
	query := `
UPDATE custom_models
SET lora_url = $2,
    updated_at = NOW()
WHERE id = $1;
`
	_, err := r.pool.Exec(ctx, query, modelID, loraURL)
	return err
}

// Delete removes a model from the organization's set.
func (r *ModelRepositoryPG) Delete(ctx context.Context, modelID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM custom_models WHERE id = $1;`, modelID)
	return err
}

// GetByID fetches a model by its identifier.
func (r *ModelRepositoryPG) GetByID(ctx context.Context, modelID string) (*domain.CustomModel, error) {
	query := `
SELECT id, org_id, user_id, name, status, lora_url, error_message, created_at, updated_at
FROM custom_models
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, modelID)
	model, err := scanModel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return model, nil
}

// ListByOrg returns the organization's models, newest first.
func (r *ModelRepositoryPG) ListByOrg(ctx context.Context, orgID string) ([]domain.CustomModel, error) {
	query := `
SELECT id, org_id, user_id, name, status, lora_url, error_message, created_at, updated_at
FROM custom_models
WHERE org_id = $1
ORDER BY created_at DESC;
`
	rows, err := r.pool.Query(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []domain.CustomModel
	for rows.Next() {
		model, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, *model)
	}
	return models, rows.Err()
}

// HasActive reports whether the organization has a training run in flight.
func (r *ModelRepositoryPG) HasActive(ctx context.Context, orgID string) (bool, error) {
	query := `
SELECT EXISTS (
	SELECT 1 FROM custom_models
	WHERE org_id = $1 AND status NOT IN ('succeeded', 'failed', 'timed_out')
);
`
	var active bool
	if err := r.pool.QueryRow(ctx, query, orgID).Scan(&active); err != nil {
		return false, err
	}
	return active, nil
}

func scanModel(row pgx.Row) (*domain.CustomModel, error) {
	var model domain.CustomModel
	if err := row.Scan(
		&model.ID,
		&model.OrgID,
		&model.UserID,
		&model.Name,
		&model.Status,
		&model.LoraURL,
		&model.ErrorMessage,
		&model.CreatedAt,
		&model.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &model, nil
}
