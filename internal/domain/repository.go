package domain

import "context"

// JobRepository defines persistence for generation jobs.
type JobRepository interface {
	Create(ctx context.Context, job *GenerationJob) error
	UpdateStatus(ctx context.Context, jobID string, status Status, errMsg *string, resultURLs []string) error
	GetByID(ctx context.Context, jobID string) (*GenerationJob, error)
	ListRecent(ctx context.Context, limit int) ([]GenerationJob, error)
}

// ModelRepository defines persistence for custom models.
type ModelRepository interface {
	Create(ctx context.Context, model *CustomModel) error
	UpdateStatus(ctx context.Context, modelID string, status Status, errMsg *string) error
	SetLoraURL(ctx context.Context, modelID, loraURL string) error
	Delete(ctx context.Context, modelID string) error
	GetByID(ctx context.Context, modelID string) (*CustomModel, error)
	ListByOrg(ctx context.Context, orgID string) ([]CustomModel, error)
	HasActive(ctx context.Context, orgID string) (bool, error)
}
