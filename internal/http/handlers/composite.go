package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"remix/internal/compose"
	"remix/internal/domain"
)

type compositeRequest struct {
	BaseURL          string                `json:"base_url"`
	Watermark        *domain.WatermarkSpec `json:"watermark,omitempty"`
	Width            int                   `json:"width,omitempty"`
	Height           int                   `json:"height,omitempty"`
	DevicePixelRatio float64               `json:"device_pixel_ratio,omitempty"`
	// SaveKey, when set, also persists the export to the local file store.
	SaveKey string `json:"save_key,omitempty"`
}

// Composite renders a generated image with the organization watermark and
// streams the PNG back.
func (a *App) Composite(w http.ResponseWriter, r *http.Request) {
	var req compositeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if strings.TrimSpace(req.BaseURL) == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "base_url required")
		return
	}

	canvas, err := a.Compositor.Render(r.Context(), req.BaseURL, req.Watermark, compose.RenderOptions{
		Width:            req.Width,
		Height:           req.Height,
		DevicePixelRatio: req.DevicePixelRatio,
	})
	if err != nil {
		a.error(w, http.StatusUnprocessableEntity, "composite_failed", err.Error())
		return
	}
	data, err := a.Compositor.Export(canvas)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	if req.SaveKey != "" && a.Files != nil {
		key, err := a.Files.Write(r.Context(), req.SaveKey, data)
		if err != nil {
			a.Logger.Error().Err(err).Str("key", req.SaveKey).Msg("composite: save export failed")
		} else {
			w.Header().Set("X-Storage-Key", key)
		}
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
