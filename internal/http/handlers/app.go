package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"remix/internal/compose"
	"remix/internal/domain"
	"remix/internal/domain/effectscfg"
	"remix/internal/infra"
	"remix/internal/magic"
	"remix/internal/storage"
	"remix/internal/training"
)

// MagicService is the generation surface the effects handlers talk to.
type MagicService interface {
	Generate(ctx context.Context) (string, error)
	EditTextPrompt(text string)
	ResetImages()
	Images() []domain.MagicImage
	Image(jobID string) (domain.MagicImage, bool)
	SetConfig(cfg effectscfg.Config)
	SetSource(asset magic.SourceAsset)
}

// TrainingService is the model-lifecycle surface the model handlers talk to.
type TrainingService interface {
	Train(ctx context.Context, req training.TrainRequest) (*domain.CustomModel, error)
	Cancel(modelID string)
}

type App struct {
	Magic      MagicService
	Training   TrainingService
	Models     domain.ModelRepository
	Jobs       domain.JobRepository
	Compositor *compose.Compositor
	Files      *storage.FileStore
	Logger     infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]string{"error": errCode, "message": msg})
}

// domainError maps typed domain errors onto HTTP statuses with a stable
// machine-readable error code.
func (a *App) domainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrNoModelAvailable), errors.Is(err, domain.ErrTrainingActive):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrSubmissionFailed), errors.Is(err, domain.ErrPollFailed):
		status = http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		status = http.StatusGatewayTimeout
	}
	a.error(w, status, domain.ErrorKind(err), err.Error())
}

func orgID(r *http.Request) string {
	if v := r.Header.Get("X-Org-ID"); v != "" {
		return v
	}
	return "default"
}

func userID(r *http.Request) string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return v
	}
	return "default"
}
