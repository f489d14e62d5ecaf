package magic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"remix/internal/domain"
	"remix/internal/domain/effectscfg"
	"remix/internal/infra"
	"remix/internal/poller"
	"remix/internal/providers/bot"
	"remix/internal/providers/custommodel"
	"remix/internal/providers/diffusion"
)

// CustomClient is the generation surface of the fine-tuned model provider.
type CustomClient interface {
	Submit(ctx context.Context, req custommodel.PredictRequest) (string, error)
	Status(ctx context.Context, id string) (poller.Update, error)
}

// DiffusionClient is the synchronous text/image-to-image engine.
type DiffusionClient interface {
	Generate(ctx context.Context, req diffusion.GenerateRequest) ([]string, error)
}

// BotClient is the asynchronous external imagine bot.
type BotClient interface {
	Submit(ctx context.Context, prompt string) (string, error)
	Status(ctx context.Context, id string) (poller.Update, error)
}

// ModelSource resolves custom models referenced by the effects config.
type ModelSource interface {
	GetByID(ctx context.Context, modelID string) (*domain.CustomModel, error)
}

// SourceAsset is the preview asset generation runs are conditioned on.
type SourceAsset struct {
	URL    string
	Width  int
	Height int
}

// Options configures an Orchestrator.
type Options struct {
	Config    effectscfg.Config
	Custom    CustomClient
	Diffusion DiffusionClient
	Bot       BotClient
	Models    ModelSource
	// Jobs optionally persists generation jobs; a nil repository keeps
	// everything in memory.
	Jobs domain.JobRepository
	// BaseCtx owns background generation runs; canceling it stops them.
	BaseCtx       context.Context
	PollConfig    poller.Config
	BotPollConfig poller.Config
	// HTTPClient fetches source assets for image-to-image runs.
	HTTPClient *http.Client
	Logger     infra.Logger
}

type entry struct {
	job *domain.GenerationJob
	err error
}

// Orchestrator drives image generation end to end: it selects the provider
// adapter from the effects config, tracks an ordered arena of jobs keyed by
// id, and exposes a normalized image stream. Each generation appends exactly
// one placeholder and later replaces exactly that placeholder, so interleaved
// runs can never clobber each other's results.
type Orchestrator struct {
	mu      sync.Mutex
	cfg     effectscfg.Config
	source  SourceAsset
	prompt  string
	order   []string
	entries map[string]*entry

	custom    CustomClient
	diffusion DiffusionClient
	bot       BotClient
	models    ModelSource
	jobs      domain.JobRepository

	base       context.Context
	registry   *poller.Registry
	pollCfg    poller.Config
	botPollCfg poller.Config
	httpClient *http.Client
	logger     infra.Logger
}

// New constructs an orchestrator from normalized options.
func New(opts Options) *Orchestrator {
	base := opts.BaseCtx
	if base == nil {
		base = context.Background()
	}
	cfg := opts.Config
	cfg.Normalize()
	pollCfg := opts.PollConfig
	if pollCfg.Interval <= 0 {
		pollCfg.Interval = custommodel.PollInterval
	}
	botPollCfg := opts.BotPollConfig
	if botPollCfg.Interval <= 0 {
		botPollCfg.Interval = bot.PollInterval
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Orchestrator{
		cfg:        cfg,
		entries:    make(map[string]*entry),
		custom:     opts.Custom,
		diffusion:  opts.Diffusion,
		bot:        opts.Bot,
		models:     opts.Models,
		jobs:       opts.Jobs,
		base:       base,
		registry:   poller.NewRegistry(),
		pollCfg:    pollCfg,
		botPollCfg: botPollCfg,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

// SetConfig replaces the effects configuration for future generations.
func (o *Orchestrator) SetConfig(cfg effectscfg.Config) {
	cfg.Normalize()
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

// SetSource switches the preview source asset and clears generation history.
func (o *Orchestrator) SetSource(asset SourceAsset) {
	o.ResetImages()
	o.mu.Lock()
	o.source = asset
	o.mu.Unlock()
}

// EditTextPrompt mutates the prompt used by future generations. Jobs already
// submitted keep the prompt captured at their submission time.
func (o *Orchestrator) EditTextPrompt(text string) {
	o.mu.Lock()
	o.prompt = text
	o.mu.Unlock()
}

// ResetImages cancels all active polls and clears the job arena.
func (o *Orchestrator) ResetImages() {
	o.registry.CancelAll()
	o.mu.Lock()
	o.order = nil
	o.entries = make(map[string]*entry)
	o.mu.Unlock()
}

// Images returns the ordered image list, oldest first.
func (o *Orchestrator) Images() []domain.MagicImage {
	o.mu.Lock()
	defer o.mu.Unlock()
	images := make([]domain.MagicImage, 0, len(o.order))
	for _, id := range o.order {
		images = append(images, o.entries[id].job.Image())
	}
	return images
}

// Image returns the projection for one job.
func (o *Orchestrator) Image(jobID string) (domain.MagicImage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.entries[jobID]
	if !ok {
		return domain.MagicImage{}, false
	}
	return e.job.Image(), true
}

// Err returns the typed error recorded for a job, if any.
func (o *Orchestrator) Err(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[jobID]; ok {
		return e.err
	}
	return nil
}

// Generate dispatches one generation run for the configured provider and
// returns the id of the appended placeholder. Custom-model generation with no
// deployable model is refused before any placeholder or network call.
func (o *Orchestrator) Generate(ctx context.Context) (string, error) {
	o.mu.Lock()
	cfg := o.cfg
	source := o.source
	prompt := o.prompt
	o.mu.Unlock()

	provider := cfg.Provider()

	var model *domain.CustomModel
	if provider == domain.ProviderCustomModel {
		resolved, err := o.resolveModel(ctx, cfg.Custom.Current)
		if err != nil {
			return "", err
		}
		model = resolved
	}

	job := &domain.GenerationJob{
		ID:         uuid.NewString(),
		Provider:   provider,
		Status:     domain.StatusPending,
		TextPrompt: prompt,
		CreatedAt:  time.Now().UTC(),
	}

	o.mu.Lock()
	o.order = append(o.order, job.ID)
	o.entries[job.ID] = &entry{job: job}
	o.mu.Unlock()

	o.persistCreate(ctx, job)
	go o.run(job.ID, cfg, source, prompt, model)
	return job.ID, nil
}

func (o *Orchestrator) resolveModel(ctx context.Context, modelID string) (*domain.CustomModel, error) {
	if modelID == "" || o.models == nil {
		return nil, domain.ErrNoModelAvailable
	}
	model, err := o.models.GetByID(ctx, modelID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNoModelAvailable
		}
		return nil, err
	}
	if !model.Deployable() {
		return nil, domain.ErrNoModelAvailable
	}
	return model, nil
}

// run owns the whole lifetime of one generation job on its own goroutine.
// Every error is converted into job state; nothing escapes to the caller.
func (o *Orchestrator) run(jobID string, cfg effectscfg.Config, source SourceAsset, prompt string, model *domain.CustomModel) {
	ctx, release := o.registry.Acquire(o.base, jobID)
	defer release()

	switch cfg.Provider() {
	case domain.ProviderCustomModel:
		o.runCustom(ctx, jobID, source, prompt, model)
	case domain.ProviderExternalBot:
		o.runBot(ctx, jobID, cfg, source, prompt)
	default:
		o.runDiffusion(ctx, jobID, cfg, source, prompt)
	}
}

func (o *Orchestrator) runCustom(ctx context.Context, jobID string, source SourceAsset, prompt string, model *domain.CustomModel) {
	remoteID, err := o.custom.Submit(ctx, custommodel.PredictRequest{
		ImageURL: source.URL,
		Prompt:   prompt,
		LoraURL:  model.LoraURL,
	})
	if err != nil {
		o.fail(jobID, err)
		return
	}
	o.markSubmitted(jobID, remoteID, domain.StatusStarting)

	update, err := poller.Poll(ctx, o.pollCfg, o.statusFetch(jobID, remoteID, o.custom.Status))
	o.finish(ctx, jobID, update, err)
}

func (o *Orchestrator) runBot(ctx context.Context, jobID string, cfg effectscfg.Config, source SourceAsset, prompt string) {
	composed := bot.ComposePrompt(bot.PromptSpec{
		SourceImageURL:  source.URL,
		ImagePromptURLs: cfg.Bot.ImagePrompts,
		Text:            prompt,
		Width:           source.Width,
		Height:          source.Height,
		Params:          cfg.Bot.Params,
		CharacterRef:    cfg.Bot.CharacterRef,
		StyleRef:        cfg.Bot.StyleRef,
	})
	remoteID, err := o.bot.Submit(ctx, composed)
	if err != nil {
		o.fail(jobID, err)
		return
	}
	o.markSubmitted(jobID, remoteID, domain.StatusProcessing)

	update, err := poller.Poll(ctx, o.botPollCfg, o.statusFetch(jobID, remoteID, o.bot.Status))
	o.finish(ctx, jobID, update, err)
}

func (o *Orchestrator) runDiffusion(ctx context.Context, jobID string, cfg effectscfg.Config, source SourceAsset, prompt string) {
	o.setStatus(jobID, domain.StatusProcessing)

	req := diffusion.GenerateRequest{
		Prompt:      prompt,
		Seed:        cfg.Diffusion.Seed,
		StylePreset: cfg.Diffusion.StylePreset,
	}
	// A source asset switches the run to image-to-image; the strength
	// slider only has meaning against an init image.
	if source.URL != "" {
		b64, err := o.fetchSourceB64(ctx, source.URL)
		if err != nil {
			o.fail(jobID, err)
			return
		}
		req.InitImageB64 = b64
		req.ImageStrength = effectscfg.DefaultImageStrength
		if cfg.Diffusion.ImageStrength != nil {
			req.ImageStrength = *cfg.Diffusion.ImageStrength
		}
	}
	images, err := o.diffusion.Generate(ctx, req)
	if err != nil {
		o.fail(jobID, err)
		return
	}
	urls := make([]string, 0, len(images))
	for _, b64 := range images {
		urls = append(urls, "data:image/png;base64,"+b64)
	}
	o.complete(ctx, jobID, urls)
}

// fetchSourceB64 resolves the source asset into the base64 payload the
// engine expects. Data URLs are already encoded and pass through.
func (o *Orchestrator) fetchSourceB64(ctx context.Context, url string) (string, error) {
	if strings.HasPrefix(url, "data:") {
		if _, encoded, ok := strings.Cut(url, ","); ok && encoded != "" {
			return encoded, nil
		}
		return "", fmt.Errorf("%w: malformed source data url", domain.ErrSubmissionFailed)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build source request: %s", domain.ErrSubmissionFailed, err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch source image: %s", domain.ErrSubmissionFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: fetch source image: status %d", domain.ErrSubmissionFailed, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read source image: %s", domain.ErrSubmissionFailed, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// statusFetch wraps a provider status check so intermediate transitions are
// reflected in the arena as they arrive. Updates stay ordered because each
// job's poll is strictly sequential.
func (o *Orchestrator) statusFetch(jobID, remoteID string, status func(context.Context, string) (poller.Update, error)) poller.FetchFunc {
	return func(ctx context.Context) (poller.Update, error) {
		u, err := status(ctx, remoteID)
		if err == nil && !u.Status.Terminal() {
			o.setStatus(jobID, u.Status)
		}
		return u, err
	}
}

func (o *Orchestrator) finish(ctx context.Context, jobID string, update poller.Update, err error) {
	switch {
	case err != nil:
		o.fail(jobID, err)
	case update.Status == domain.StatusSucceeded:
		o.complete(ctx, jobID, update.Output)
	default:
		cause := domain.ErrJobFailed
		if update.Detail != "" {
			cause = fmt.Errorf("%w: %s", domain.ErrJobFailed, update.Detail)
		}
		o.fail(jobID, cause)
	}
}

func (o *Orchestrator) markSubmitted(jobID, remoteID string, status domain.Status) {
	o.mu.Lock()
	if e, ok := o.entries[jobID]; ok {
		e.job.RemoteID = remoteID
		e.job.Status = status
		e.job.UpdatedAt = time.Now().UTC()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) setStatus(jobID string, status domain.Status) {
	o.mu.Lock()
	if e, ok := o.entries[jobID]; ok && !e.job.Status.Terminal() {
		e.job.Status = status
		e.job.UpdatedAt = time.Now().UTC()
	}
	o.mu.Unlock()
}

func (o *Orchestrator) complete(ctx context.Context, jobID string, urls []string) {
	o.mu.Lock()
	if e, ok := o.entries[jobID]; ok {
		e.job.Status = domain.StatusSucceeded
		e.job.ResultURLs = urls
		e.job.UpdatedAt = time.Now().UTC()
	}
	o.mu.Unlock()
	o.persistUpdate(ctx, jobID, domain.StatusSucceeded, nil, urls)
	o.logger.Info().Str("job_id", jobID).Int("outputs", len(urls)).Msg("magic: generation succeeded")
}

func (o *Orchestrator) fail(jobID string, cause error) {
	status := domain.StatusFailed
	if errors.Is(cause, domain.ErrTimeout) {
		status = domain.StatusTimedOut
	}
	o.mu.Lock()
	if e, ok := o.entries[jobID]; ok {
		e.job.Status = status
		e.job.ErrorMessage = cause.Error()
		e.job.UpdatedAt = time.Now().UTC()
		e.err = cause
	}
	o.mu.Unlock()
	msg := cause.Error()
	o.persistUpdate(context.WithoutCancel(o.base), jobID, status, &msg, nil)
	o.logger.Warn().Err(cause).Str("job_id", jobID).Msg("magic: generation failed")
}

func (o *Orchestrator) persistCreate(ctx context.Context, job *domain.GenerationJob) {
	if o.jobs == nil {
		return
	}
	if err := o.jobs.Create(ctx, job); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("magic: persist job failed")
	}
}

func (o *Orchestrator) persistUpdate(ctx context.Context, jobID string, status domain.Status, errMsg *string, urls []string) {
	if o.jobs == nil {
		return
	}
	if err := o.jobs.UpdateStatus(ctx, jobID, status, errMsg, urls); err != nil {
		o.logger.Error().Err(err).Str("job_id", jobID).Msg("magic: persist job update failed")
	}
}
