package custommodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"remix/internal/domain"
	"remix/internal/infra"
	"remix/internal/poller"
)

// stylePromptPrefix anchors prompts to the token the LoRA was trained on.
const stylePromptPrefix = "In the style of TOK, "

// Fixed generation hyperparameters for the fine-tuned model.
const (
	promptStrength    = 0.8
	numOutputs        = 4
	loraScale         = 1.0
	guidanceScale     = 7.5
	numInferenceSteps = 50
)

// PollInterval is the cadence at which prediction jobs are checked.
const PollInterval = time.Second

// Options configures the prediction API client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the prediction API that serves the
// organization's LoRA fine-tuned model, for both generation and training.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// PredictRequest captures the inputs for one generation run.
type PredictRequest struct {
	ImageURL string
	Prompt   string
	LoraURL  string
}

// TrainingRequest captures the inputs for one training run.
type TrainingRequest struct {
	InputImagesURL string
	Caption        string
}

type predictionInput struct {
	Image             string  `json:"image"`
	Prompt            string  `json:"prompt"`
	LoraWeights       string  `json:"lora_weights"`
	PromptStrength    float64 `json:"prompt_strength"`
	NumOutputs        int     `json:"num_outputs"`
	LoraScale         float64 `json:"lora_scale"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
}

type predictionEnvelope struct {
	Input any `json:"input"`
}

type trainingInput struct {
	InputImages string `json:"input_images"`
	Caption     string `json:"caption,omitempty"`
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Detail string          `json:"detail"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
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
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// StylePrompt prefixes the user prompt with the trained style token.
func StylePrompt(prompt string) string {
	return stylePromptPrefix + strings.TrimSpace(prompt)
}

// Submit starts a generation run and returns the provider-assigned job id.
// A missing LoRA weights URL is refused before any network call.
func (c *Client) Submit(ctx context.Context, req PredictRequest) (string, error) {
	if strings.TrimSpace(req.LoraURL) == "" {
		return "", domain.ErrNoModelAvailable
	}
	payload := predictionEnvelope{Input: predictionInput{
		Image:             strings.TrimSpace(req.ImageURL),
		Prompt:            StylePrompt(req.Prompt),
		LoraWeights:       strings.TrimSpace(req.LoraURL),
		PromptStrength:    promptStrength,
		NumOutputs:        numOutputs,
		LoraScale:         loraScale,
		GuidanceScale:     guidanceScale,
		NumInferenceSteps: numInferenceSteps,
	}}
	resp, err := c.post(ctx, "/predictions", payload)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrSubmissionFailed, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: prediction id missing", domain.ErrSubmissionFailed)
	}
	c.logger.Debug().Str("prediction_id", resp.ID).Str("status", resp.Status).Msg("custommodel: prediction submitted")
	return resp.ID, nil
}

// Status checks a generation run. Non-2xx responses are fatal for the poll.
func (c *Client) Status(ctx context.Context, id string) (poller.Update, error) {
	resp, err := c.get(ctx, "/predictions/"+id)
	if err != nil {
		return poller.Update{}, err
	}
	return poller.Update{
		Status: domain.NormalizePredictionStatus(resp.Status),
		Output: decodeOutputURLs(resp.Output),
		Detail: resp.Detail,
	}, nil
}

// SubmitTraining starts a training run and returns the job id, which doubles
// as the resulting model id.
func (c *Client) SubmitTraining(ctx context.Context, req TrainingRequest) (string, error) {
	payload := predictionEnvelope{Input: trainingInput{
		InputImages: strings.TrimSpace(req.InputImagesURL),
		Caption:     strings.TrimSpace(req.Caption),
	}}
	resp, err := c.post(ctx, "/trainings", payload)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrSubmissionFailed, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: training id missing", domain.ErrSubmissionFailed)
	}
	c.logger.Debug().Str("training_id", resp.ID).Str("status", resp.Status).Msg("custommodel: training submitted")
	return resp.ID, nil
}

// TrainingStatus checks a training run. On success Output holds the transient
// URL of the trained artifact.
func (c *Client) TrainingStatus(ctx context.Context, id string) (poller.Update, error) {
	resp, err := c.get(ctx, "/trainings/"+id)
	if err != nil {
		return poller.Update{}, err
	}
	return poller.Update{
		Status: domain.NormalizePredictionStatus(resp.Status),
		Output: decodeOutputURLs(resp.Output),
		Detail: resp.Detail,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (*predictionResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("custommodel: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("custommodel: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Token "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("custommodel: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("custommodel: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, errorFromBody(resp.StatusCode, raw)
	}
	var decoded predictionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("custommodel: decode response: %w", err)
	}
	return &decoded, nil
}

func (c *Client) get(ctx context.Context, path string) (*predictionResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("custommodel: build request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Token "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("custommodel: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("custommodel: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, poller.Fatal(errorFromBody(resp.StatusCode, raw))
	}
	var decoded predictionResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("custommodel: decode response: %w", err)
	}
	return &decoded, nil
}

func errorFromBody(status int, raw []byte) error {
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil && detail.Detail != "" {
		return fmt.Errorf("custommodel: status %d: %s", status, detail.Detail)
	}
	return fmt.Errorf("custommodel: status %d: %s", status, strings.TrimSpace(string(raw)))
}

// decodeOutputURLs tolerates both a bare string and a list of strings, which
// is how the API reports single- and multi-output jobs respectively.
func decodeOutputURLs(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	var nested struct {
		Weights string `json:"weights"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil && nested.Weights != "" {
		return []string{nested.Weights}
	}
	return nil
}
