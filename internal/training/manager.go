package training

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"remix/internal/domain"
	"remix/internal/poller"
	"remix/internal/providers/custommodel"
	"remix/internal/storage"

	"remix/internal/infra"
)

const artifactContentType = "application/x-tar"

// Trainer is the provider-side contract for training runs.
type Trainer interface {
	SubmitTraining(ctx context.Context, req custommodel.TrainingRequest) (string, error)
	TrainingStatus(ctx context.Context, id string) (poller.Update, error)
}

// Uploader stores a trained artifact and returns its durable URL.
type Uploader interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// Options configures the lifecycle manager.
type Options struct {
	Models   domain.ModelRepository
	Trainer  Trainer
	Uploader Uploader
	// BaseCtx owns background training watches; canceling it stops them.
	BaseCtx    context.Context
	PollConfig poller.Config
	HTTPClient *http.Client
	Logger     infra.Logger
}

// Manager drives custom models through training, artifact upload, and
// deployment. At most one training run per organization may be in flight.
type Manager struct {
	mu         sync.Mutex
	models     domain.ModelRepository
	trainer    Trainer
	uploader   Uploader
	base       context.Context
	registry   *poller.Registry
	pollCfg    poller.Config
	httpClient *http.Client
	logger     infra.Logger
}

// TrainRequest captures the inputs for starting a training run.
type TrainRequest struct {
	OrgID          string
	UserID         string
	Name           string
	InputImagesURL string
	Caption        string
}

// NewManager constructs a lifecycle manager.
func NewManager(opts Options) *Manager {
	base := opts.BaseCtx
	if base == nil {
		base = context.Background()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 2 * time.Minute}
	}
	pollCfg := opts.PollConfig
	if pollCfg.Interval <= 0 {
		pollCfg.Interval = custommodel.PollInterval
	}
	return &Manager{
		models:     opts.Models,
		trainer:    opts.Trainer,
		uploader:   opts.Uploader,
		base:       base,
		registry:   poller.NewRegistry(),
		pollCfg:    pollCfg,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

// Train starts a training run for the organization and watches it to
// completion in the background. A second run while one is active is rejected
// without mutating any state.
func (m *Manager) Train(ctx context.Context, req TrainRequest) (*domain.CustomModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.models.HasActive(ctx, req.OrgID)
	if err != nil {
		return nil, fmt.Errorf("training: check active models: %w", err)
	}
	if active {
		return nil, domain.ErrTrainingActive
	}

	id, err := m.trainer.SubmitTraining(ctx, custommodel.TrainingRequest{
		InputImagesURL: req.InputImagesURL,
		Caption:        req.Caption,
	})
	if err != nil {
		return nil, err
	}

	model := &domain.CustomModel{
		ID:        id,
		OrgID:     req.OrgID,
		UserID:    req.UserID,
		Name:      strings.TrimSpace(req.Name),
		Status:    domain.StatusStarting,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.models.Create(ctx, model); err != nil {
		return nil, fmt.Errorf("training: persist model: %w", err)
	}

	go m.watch(*model)
	return model, nil
}

// Cancel stops the active watch for a model id, if any.
func (m *Manager) Cancel(modelID string) {
	m.registry.Cancel(modelID)
}

// watch polls the training run to a terminal state and then uploads the
// trained artifact. Runs on its own goroutine per model.
func (m *Manager) watch(model domain.CustomModel) {
	ctx, release := m.registry.Acquire(m.base, model.ID)
	defer release()

	last := model.Status
	fetch := func(ctx context.Context) (poller.Update, error) {
		u, err := m.trainer.TrainingStatus(ctx, model.ID)
		if err != nil {
			return u, err
		}
		if u.Status != last && !u.Status.Terminal() {
			last = u.Status
			if repoErr := m.models.UpdateStatus(ctx, model.ID, u.Status, nil); repoErr != nil {
				m.logger.Error().Err(repoErr).Str("model_id", model.ID).Msg("training: update status failed")
			}
		}
		return u, nil
	}

	update, err := poller.Poll(ctx, m.pollCfg, fetch)
	switch {
	case err == nil && update.Status == domain.StatusSucceeded:
		m.deploy(ctx, model, update)
	case err == nil:
		// Provider reported terminal failure.
		m.markFailed(ctx, model.ID, domain.StatusFailed, update.Detail)
	case ctx.Err() != nil && update.Status != domain.StatusTimedOut:
		m.logger.Info().Str("model_id", model.ID).Msg("training: watch canceled")
	case update.Status == domain.StatusTimedOut:
		m.markFailed(context.WithoutCancel(ctx), model.ID, domain.StatusTimedOut, "training exceeded poll budget")
	default:
		m.markFailed(context.WithoutCancel(ctx), model.ID, domain.StatusFailed, err.Error())
	}
}

// deploy fetches the trained artifact from its transient URL and uploads it
// to blob storage. Only a fully uploaded model becomes selectable; any
// failure here removes the model rather than leaving a zombie behind.
func (m *Manager) deploy(ctx context.Context, model domain.CustomModel, update poller.Update) {
	weightsURL := ""
	if len(update.Output) > 0 {
		weightsURL = update.Output[0]
	}
	if weightsURL == "" {
		m.markFailed(ctx, model.ID, domain.StatusFailed, "training produced no artifact")
		return
	}

	data, err := m.fetchArtifact(ctx, weightsURL)
	if err != nil {
		m.discard(ctx, model.ID, err)
		return
	}

	key := storage.ObjectKey(model.UserID, storage.CategoryAI, model.Name)
	loraURL, err := m.uploader.Upload(ctx, key, artifactContentType, data)
	if err != nil {
		m.discard(ctx, model.ID, err)
		return
	}

	if err := m.models.SetLoraURL(ctx, model.ID, loraURL); err != nil {
		m.logger.Error().Err(err).Str("model_id", model.ID).Msg("training: record lora url failed")
		return
	}
	if err := m.models.UpdateStatus(ctx, model.ID, domain.StatusSucceeded, nil); err != nil {
		m.logger.Error().Err(err).Str("model_id", model.ID).Msg("training: mark succeeded failed")
		return
	}
	m.logger.Info().Str("model_id", model.ID).Str("lora_url", loraURL).Msg("training: model deployed")
}

func (m *Manager) fetchArtifact(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build artifact request: %s", domain.ErrUploadFailed, err)
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch artifact: %s", domain.ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: fetch artifact: status %d", domain.ErrUploadFailed, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read artifact: %s", domain.ErrUploadFailed, err)
	}
	return data, nil
}

// discard removes a model whose artifact never made it to storage. A
// partially trained, unusable model must not remain selectable.
func (m *Manager) discard(ctx context.Context, modelID string, cause error) {
	m.logger.Error().Err(cause).Str("model_id", modelID).Msg("training: artifact upload failed, discarding model")
	if err := m.models.Delete(context.WithoutCancel(ctx), modelID); err != nil {
		m.logger.Error().Err(err).Str("model_id", modelID).Msg("training: discard failed")
	}
}

func (m *Manager) markFailed(ctx context.Context, modelID string, status domain.Status, detail string) {
	var msg *string
	if detail != "" {
		msg = &detail
	}
	if err := m.models.UpdateStatus(ctx, modelID, status, msg); err != nil {
		m.logger.Error().Err(err).Str("model_id", modelID).Msg("training: mark failed failed")
	}
}
