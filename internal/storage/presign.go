package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"remix/internal/domain"
)

// Category enumerates the upload buckets used for object key prefixes.
type Category string

const (
	CategoryWatermark  Category = "watermark"
	CategoryLogo       Category = "logo"
	CategoryBackground Category = "background"
	CategoryFilter     Category = "filter"
	CategoryUser       Category = "user"
	CategoryAI         Category = "ai"
)

const defaultModelName = "custom"

// ObjectKey builds the canonical storage key for a trained model artifact.
func ObjectKey(userID string, category Category, modelName string) string {
	name := strings.TrimSpace(modelName)
	if name == "" {
		name = defaultModelName
	}
	return fmt.Sprintf("%s/%s/%s-trained-model", userID, category, name)
}

// PresignClient uploads blobs through the storage endpoint's pre-signed URL
// flow: request an upload URL for a key, PUT the bytes to it, and derive the
// final asset URL by stripping the signing query string.
type PresignClient struct {
	endpoint   string
	httpClient *http.Client
}

type presignResponse struct {
	UploadURL string `json:"uploadURL"`
}

// NewPresignClient constructs a client for the given storage endpoint.
func NewPresignClient(endpoint string, httpClient *http.Client) (*PresignClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("storage: endpoint is required")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &PresignClient{endpoint: endpoint, httpClient: httpClient}, nil
}

// Upload stores data under key and returns the durable asset URL.
func (c *PresignClient) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	uploadURL, err := c.presign(ctx, key, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrUploadFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build upload request: %s", domain.ErrUploadFailed, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: put blob: %s", domain.ErrUploadFailed, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: put blob: status %d", domain.ErrUploadFailed, resp.StatusCode)
	}

	return StripQuery(uploadURL), nil
}

func (c *PresignClient) presign(ctx context.Context, key, contentType string) (string, error) {
	q := url.Values{}
	q.Set("fileName", key)
	q.Set("contentType", contentType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build presign request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("presign request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read presign response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("presign status %d", resp.StatusCode)
	}
	var decoded presignResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decode presign response: %w", err)
	}
	if decoded.UploadURL == "" {
		return "", errors.New("presign response missing uploadURL")
	}
	return decoded.UploadURL, nil
}

// StripQuery removes the signing query string from a pre-signed URL, yielding
// the durable asset URL.
func StripQuery(raw string) string {
	if i := strings.IndexByte(raw, '?'); i >= 0 {
		return raw[:i]
	}
	return raw
}
