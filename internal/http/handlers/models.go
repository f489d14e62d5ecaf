package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"remix/internal/domain"
	"remix/internal/training"
)

type trainModelRequest struct {
	Name           string `json:"name"`
	InputImagesURL string `json:"input_images_url"`
	Caption        string `json:"caption,omitempty"`
}

type modelResponse struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Status       domain.Status `json:"status"`
	LoraURL      string        `json:"lora_url,omitempty"`
	Deployable   bool          `json:"deployable"`
	ErrorMessage string        `json:"error_message,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

func toModelResponse(m domain.CustomModel) modelResponse {
	return modelResponse{
		ID:           m.ID,
		Name:         m.Name,
		Status:       m.Status,
		LoraURL:      m.LoraURL,
		Deployable:   m.Deployable(),
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
	}
}

// ModelsTrain starts a training run for the caller's organization.
func (a *App) ModelsTrain(w http.ResponseWriter, r *http.Request) {
	var req trainModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.InputImagesURL) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "input_images_url required")
		return
	}

	model, err := a.Training.Train(r.Context(), training.TrainRequest{
		OrgID:          orgID(r),
		UserID:         userID(r),
		Name:           req.Name,
		InputImagesURL: req.InputImagesURL,
		Caption:        req.Caption,
	})
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, toModelResponse(*model))
}

// ModelsList returns the organization's models, newest first.
func (a *App) ModelsList(w http.ResponseWriter, r *http.Request) {
	models, err := a.Models.ListByOrg(r.Context(), orgID(r))
	if err != nil {
		a.domainError(w, err)
		return
	}
	out := make([]modelResponse, 0, len(models))
	for _, m := range models {
		out = append(out, toModelResponse(m))
	}
	a.json(w, http.StatusOK, map[string]any{"models": out})
}

// ModelsDelete removes a model, stopping its training watch if one is active.
func (a *App) ModelsDelete(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "id")
	if modelID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "model id required")
		return
	}
	if _, err := a.Models.GetByID(r.Context(), modelID); err != nil {
		a.domainError(w, err)
		return
	}
	a.Training.Cancel(modelID)
	if err := a.Models.Delete(r.Context(), modelID); err != nil {
		a.domainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
