package domain

import (
	"strings"
	"time"
)

// Provider enumerates the image generation backends.
type Provider string

const (
	ProviderCustomModel     Provider = "custom_model"
	ProviderDirectDiffusion Provider = "direct_diffusion"
	ProviderExternalBot     Provider = "external_bot"
)

// Status enumerates normalized job lifecycle states shared by generation and
// training jobs.
type Status string

const (
	StatusPending    Status = "pending"
	StatusStarting   Status = "starting"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed_out"
)

// Terminal reports whether no further status transition can occur.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// NormalizePredictionStatus maps the prediction API status vocabulary onto the
// normalized Status set. Unknown strings map to processing so a provider
// response can never accidentally report a terminal state.
func NormalizePredictionStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "queued":
		return StatusPending
	case "starting":
		return StatusStarting
	case "processing", "in-progress", "in_progress", "running":
		return StatusProcessing
	case "succeeded", "success":
		return StatusSucceeded
	case "failed", "error", "canceled", "cancelled":
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// NormalizeBotStatus maps the external imagine bot status vocabulary onto the
// normalized Status set. The bot only guarantees "completed" and "failed";
// anything else means the job is still in flight.
func NormalizeBotStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "succeeded":
		return StatusSucceeded
	case "failed", "error":
		return StatusFailed
	default:
		return StatusProcessing
	}
}

// GenerationJob encapsulates one in-flight or completed generation request.
// ID is assigned locally before submission; RemoteID is the opaque
// provider-assigned identifier once the job has been accepted.
type GenerationJob struct {
	ID           string
	RemoteID     string
	Provider     Provider
	Status       Status
	TextPrompt   string
	ResultURLs   []string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// MagicImage is the UI-facing projection of a GenerationJob.
type MagicImage struct {
	Src        string   `json:"src"`
	Status     Status   `json:"status"`
	TextPrompt string   `json:"text_prompt"`
	URLs       []string `json:"urls"`
}

// Image projects the job into its display form. Src is the first result URL,
// or empty while the job is still pending.
func (j *GenerationJob) Image() MagicImage {
	img := MagicImage{
		Status:     j.Status,
		TextPrompt: j.TextPrompt,
		URLs:       j.ResultURLs,
	}
	if len(j.ResultURLs) > 0 {
		img.Src = j.ResultURLs[0]
	}
	return img
}
