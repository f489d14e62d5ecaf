package domain

import "time"

// CustomModel represents an organization's fine-tuned generation model. The
// ID doubles as the provider training-job id.
type CustomModel struct {
	ID           string
	OrgID        string
	UserID       string
	Name         string
	Status       Status
	LoraURL      string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Deployable reports whether the model can serve generation requests.
// Provider-reported training success is not enough: the trained artifact must
// also have been uploaded to blob storage.
func (m *CustomModel) Deployable() bool {
	return m != nil && m.Status == StatusSucceeded && m.LoraURL != ""
}

// Active reports whether the model has a training run still in flight.
func (m *CustomModel) Active() bool {
	return m != nil && !m.Status.Terminal()
}
