package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"remix/internal/domain"
	"remix/internal/domain/effectscfg"
	"remix/internal/magic"
)

type sourceAssetRequest struct {
	URL    string `json:"url"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

type generateRequest struct {
	// Config, when present, replaces the active effects configuration
	// before dispatch.
	Config *effectscfg.Config `json:"config,omitempty"`
	// Source, when present, switches the preview source asset. Switching
	// clears generation history.
	Source *sourceAssetRequest `json:"source,omitempty"`
}

type generateResponse struct {
	JobID  string        `json:"job_id"`
	Status domain.Status `json:"status"`
}

// EffectsGenerate starts one generation run and returns its job id.
func (a *App) EffectsGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if req.Source != nil {
		a.Magic.SetSource(magic.SourceAsset{
			URL:    req.Source.URL,
			Width:  req.Source.Width,
			Height: req.Source.Height,
		})
	}
	if req.Config != nil {
		a.Magic.SetConfig(*req.Config)
	}

	jobID, err := a.Magic.Generate(r.Context())
	if err != nil {
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusAccepted, generateResponse{JobID: jobID, Status: domain.StatusPending})
}

// EffectsJobStatus reports one job's normalized image projection. Jobs evicted
// from the in-memory arena are looked up in the persistent store.
func (a *App) EffectsJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	if img, ok := a.Magic.Image(jobID); ok {
		a.json(w, http.StatusOK, map[string]any{"job_id": jobID, "image": img})
		return
	}
	if a.Jobs != nil {
		job, err := a.Jobs.GetByID(r.Context(), jobID)
		if err == nil {
			a.json(w, http.StatusOK, map[string]any{"job_id": jobID, "image": job.Image()})
			return
		}
		if !errors.Is(err, domain.ErrNotFound) {
			a.domainError(w, err)
			return
		}
	}
	a.error(w, http.StatusNotFound, "not_found", "job not found")
}

// EffectsImages returns the ordered image stream, oldest first.
func (a *App) EffectsImages(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"images": a.Magic.Images()})
}

type promptRequest struct {
	Text string `json:"text"`
}

// EffectsPrompt sets the prompt used by future generations.
func (a *App) EffectsPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	a.Magic.EditTextPrompt(req.Text)
	w.WriteHeader(http.StatusNoContent)
}

// EffectsReset cancels active generations and clears the image stream.
func (a *App) EffectsReset(w http.ResponseWriter, r *http.Request) {
	a.Magic.ResetImages()
	w.WriteHeader(http.StatusNoContent)
}
