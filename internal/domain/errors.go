package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrSubmissionFailed = errors.New("submission failed")
	ErrPollFailed       = errors.New("poll failed")
	ErrJobFailed        = errors.New("job failed")
	ErrUploadFailed     = errors.New("upload failed")
	ErrNoModelAvailable = errors.New("no trained model available")
	ErrTimeout          = errors.New("job timed out")
	ErrTrainingActive   = errors.New("training already in progress")
)

// ErrorKind resolves an orchestration error to its stable machine-readable
// kind, suitable for API payloads.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSubmissionFailed):
		return "submission_failed"
	case errors.Is(err, ErrPollFailed):
		return "poll_failed"
	case errors.Is(err, ErrJobFailed):
		return "job_failed"
	case errors.Is(err, ErrUploadFailed):
		return "upload_failed"
	case errors.Is(err, ErrNoModelAvailable):
		return "no_model_available"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTrainingActive):
		return "training_active"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}
