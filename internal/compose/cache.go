package compose

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	// Decoders for the formats providers and organizations actually serve.
	_ "image/jpeg"
	_ "image/png"
)

// DefaultCacheSize bounds the shared image cache. Watermarks and recent
// generations are small sets; 64 entries covers an active session.
const DefaultCacheSize = 64

// CacheOptions configures an ImageCache.
type CacheOptions struct {
	Size       int
	HTTPClient *http.Client
}

// ImageCache loads and decodes images by URL through a bounded LRU.
// Concurrent loads of the same URL are collapsed into a single fetch.
type ImageCache struct {
	lru        *lru.Cache[string, image.Image]
	group      singleflight.Group
	httpClient *http.Client
}

// NewImageCache constructs a cache with sane defaults.
func NewImageCache(opts CacheOptions) (*ImageCache, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultCacheSize
	}
	store, err := lru.New[string, image.Image](size)
	if err != nil {
		return nil, fmt.Errorf("compose: build cache: %w", err)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ImageCache{lru: store, httpClient: httpClient}, nil
}

// Load returns the decoded image for a URL, fetching it on a miss. Both
// https and data URLs are accepted; generation results arrive as the latter.
func (c *ImageCache) Load(ctx context.Context, url string) (image.Image, error) {
	if img, ok := c.lru.Get(url); ok {
		return img, nil
	}
	v, err, _ := c.group.Do(url, func() (any, error) {
		if img, ok := c.lru.Get(url); ok {
			return img, nil
		}
		// The fetch is shared by every waiter on this URL; one caller's
		// cancellation must not fail the others.
		img, err := c.fetch(context.WithoutCancel(ctx), url)
		if err != nil {
			return nil, err
		}
		c.lru.Add(url, img)
		return img, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(image.Image), nil
}

func (c *ImageCache) fetch(ctx context.Context, url string) (image.Image, error) {
	if strings.HasPrefix(url, "data:") {
		return decodeDataURL(url)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("compose: build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("compose: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("compose: fetch %s: status %d", url, resp.StatusCode)
	}
	img, _, err := image.Decode(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("compose: decode %s: %w", url, err)
	}
	return img, nil
}

func decodeDataURL(url string) (image.Image, error) {
	_, encoded, ok := strings.Cut(url, ",")
	if !ok {
		return nil, fmt.Errorf("compose: malformed data url")
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("compose: decode data url: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("compose: decode data url image: %w", err)
	}
	return img, nil
}
