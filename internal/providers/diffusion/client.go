package diffusion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remix/internal/domain"
	"remix/internal/infra"
)

// The diffusion engine is synchronous: one HTTP call blocks until the
// generation stream ends and the artifacts are returned inline as base64.

const (
	defaultCfgScale = 7
	defaultSamples  = 1
)

// Options configures the diffusion engine client.
type Options struct {
	APIKey         string
	BaseURL        string
	Engine         string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the text/image-to-image engine.
type Client struct {
	apiKey     string
	baseURL    string
	engine     string
	httpClient *http.Client
	logger     *infra.Logger
}

// GenerateRequest captures the normalized inputs for one generation call.
type GenerateRequest struct {
	Prompt string
	// InitImageB64 conditions the run on a source image when present.
	InitImageB64 string
	// ImageStrength is the human-facing 0-100 slider.
	ImageStrength int
	// Seed of 0 means nondeterministic.
	Seed        int64
	Samples     int
	StylePreset string
}

type textPrompt struct {
	Text string `json:"text"`
}

type imageToImageRequest struct {
	TextPrompts       []textPrompt `json:"text_prompts"`
	InitImage         string       `json:"init_image,omitempty"`
	StepScheduleStart *float64     `json:"step_schedule_start,omitempty"`
	CfgScale          int          `json:"cfg_scale"`
	Samples           int          `json:"samples"`
	Seed              *int64       `json:"seed,omitempty"`
	StylePreset       string       `json:"style_preset,omitempty"`
}

type artifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason"`
}

type generationResponse struct {
	Artifacts []artifact `json:"artifacts"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			// Generation blocks for the whole run, so allow a long call.
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	engine := strings.TrimSpace(opts.Engine)
	if engine == "" {
		engine = "stable-diffusion-xl-1024-v1-0"
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		engine:     engine,
		httpClient: httpClient,
		logger:     logger,
	}
}

// StepScheduleStart translates the human-facing image strength slider (0-100)
// into the engine's native schedule parameter. 0 maps to exactly 1.0 and 100
// to exactly 0.0.
func StepScheduleStart(imageStrength int) float64 {
	if imageStrength < 0 {
		imageStrength = 0
	}
	if imageStrength > 100 {
		imageStrength = 100
	}
	return 1 - float64(imageStrength)/100
}

// ImageStrength recovers the slider value from a schedule parameter.
func ImageStrength(stepScheduleStart float64) int {
	v := int(math.Round((1 - stepScheduleStart) * 100))
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return v
}

// Generate runs one generation call and returns the accepted artifacts as
// base64-encoded PNGs. Artifacts flagged by the content filter are counted
// and logged but never returned.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) ([]string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, errors.New("diffusion: prompt is required")
	}
	samples := req.Samples
	if samples <= 0 {
		samples = defaultSamples
	}
	payload := imageToImageRequest{
		TextPrompts: []textPrompt{{Text: prompt}},
		CfgScale:    defaultCfgScale,
		Samples:     samples,
		StylePreset: strings.TrimSpace(req.StylePreset),
	}
	mode := "text-to-image"
	if req.InitImageB64 != "" {
		mode = "image-to-image"
		payload.InitImage = req.InitImageB64
		start := StepScheduleStart(req.ImageStrength)
		payload.StepScheduleStart = &start
	}
	if req.Seed > 0 {
		seed := req.Seed
		payload.Seed = &seed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("diffusion: encode request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v1/generation/%s/%s", c.baseURL, c.engine, mode)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("diffusion: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("diffusion: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("diffusion: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var detail errorResponse
		if err := json.Unmarshal(raw, &detail); err == nil && detail.Message != "" {
			return nil, fmt.Errorf("%w: diffusion: %s (%s)", domain.ErrSubmissionFailed, detail.Message, detail.Name)
		}
		return nil, fmt.Errorf("%w: diffusion: status %d: %s", domain.ErrSubmissionFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("diffusion: decode response: %w", err)
	}

	images := make([]string, 0, len(decoded.Artifacts))
	filtered := 0
	for _, a := range decoded.Artifacts {
		if strings.EqualFold(a.FinishReason, "CONTENT_FILTERED") {
			filtered++
			continue
		}
		if a.Base64 == "" {
			continue
		}
		images = append(images, a.Base64)
	}
	if filtered > 0 {
		c.logger.Warn().
			Int("filtered", filtered).
			Int("accepted", len(images)).
			Str("engine", c.engine).
			Msg("diffusion: artifacts dropped by content filter")
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: diffusion: no displayable artifacts", domain.ErrJobFailed)
	}
	return images, nil
}
