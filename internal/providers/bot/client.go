package bot

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

// PollInterval is the cadence at which imagine jobs are checked. The bot is
// slow; hammering it faster than this gets requests throttled.
const PollInterval = 5 * time.Second

// Options configures the external imagine bot client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls against the asynchronous imagine endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// PromptSpec carries everything folded into the single composed prompt
// string the bot accepts.
type PromptSpec struct {
	SourceImageURL  string
	ImagePromptURLs []string
	Text            string
	// Width/Height of the source asset drive the aspect-ratio parameter;
	// when either is unknown the parameter is omitted entirely.
	Width        int
	Height       int
	Params       string
	CharacterRef string
	StyleRef     string
}

type imagineRequest struct {
	Prompt string `json:"prompt"`
}

type imagineSubmitResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type imagineStatusResponse struct {
	Data struct {
		Status       string   `json:"status"`
		URL          string   `json:"url"`
		UpscaledURLs []string `json:"upscaled_urls"`
		Error        string   `json:"error"`
	} `json:"data"`
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
		httpClient: httpClient,
		logger:     logger,
	}
}

// AspectRatio formats the source dimensions as a reduced "W:H" ratio, or ""
// when either dimension is unknown.
func AspectRatio(width, height int) string {
	if width <= 0 || height <= 0 {
		return ""
	}
	d := gcd(width, height)
	return fmt.Sprintf("%d:%d", width/d, height/d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// ComposePrompt folds the source image, image prompts, text, aspect ratio,
// free-form parameters and reference tokens into the bot's prompt string.
func ComposePrompt(spec PromptSpec) string {
	parts := make([]string, 0, 8)
	if src := strings.TrimSpace(spec.SourceImageURL); src != "" {
		parts = append(parts, src)
	}
	for _, u := range spec.ImagePromptURLs {
		if u = strings.TrimSpace(u); u != "" {
			parts = append(parts, u)
		}
	}
	if text := strings.TrimSpace(spec.Text); text != "" {
		parts = append(parts, text)
	}
	if ar := AspectRatio(spec.Width, spec.Height); ar != "" {
		parts = append(parts, "--ar "+ar)
	}
	if params := strings.TrimSpace(spec.Params); params != "" {
		parts = append(parts, params)
	}
	if cref := strings.TrimSpace(spec.CharacterRef); cref != "" {
		parts = append(parts, "--cref "+cref)
	}
	if sref := strings.TrimSpace(spec.StyleRef); sref != "" {
		parts = append(parts, "--sref "+sref)
	}
	return strings.Join(parts, " ")
}

// Submit sends a composed prompt and returns the provider-assigned job id.
func (c *Client) Submit(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", fmt.Errorf("%w: bot: prompt is required", domain.ErrSubmissionFailed)
	}
	body, err := json.Marshal(imagineRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("bot: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/imagine", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("bot: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("bot: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("bot: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: bot: status %d: %s", domain.ErrSubmissionFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var decoded imagineSubmitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("bot: decode response: %w", err)
	}
	if decoded.Data.ID == "" {
		return "", fmt.Errorf("%w: bot: imagine id missing", domain.ErrSubmissionFailed)
	}
	c.logger.Debug().Str("imagine_id", decoded.Data.ID).Msg("bot: imagine submitted")
	return decoded.Data.ID, nil
}

// Status checks an imagine job. On success the upscaled result set is
// preferred over the raw grid image.
func (c *Client) Status(ctx context.Context, id string) (poller.Update, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/imagine/"+id, nil)
	if err != nil {
		return poller.Update{}, fmt.Errorf("bot: build request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return poller.Update{}, fmt.Errorf("bot: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return poller.Update{}, fmt.Errorf("bot: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return poller.Update{}, poller.Fatal(fmt.Errorf("bot: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}
	var decoded imagineStatusResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return poller.Update{}, fmt.Errorf("bot: decode response: %w", err)
	}

	update := poller.Update{
		Status: domain.NormalizeBotStatus(decoded.Data.Status),
		Detail: decoded.Data.Error,
	}
	if update.Status == domain.StatusSucceeded {
		update.Output = resultURLs(decoded)
	}
	return update, nil
}

func resultURLs(resp imagineStatusResponse) []string {
	if len(resp.Data.UpscaledURLs) > 0 {
		return resp.Data.UpscaledURLs
	}
	if resp.Data.URL != "" {
		return []string{resp.Data.URL}
	}
	return nil
}
