package compose

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"remix/internal/domain"
	"remix/internal/infra"
)

// Options configures a Compositor.
type Options struct {
	Cache  *ImageCache
	Logger infra.Logger
}

// RenderOptions describes the target box for one render.
type RenderOptions struct {
	// Width and Height are the logical display size. Zero means "use the
	// base image's own dimensions".
	Width  int
	Height int
	// DevicePixelRatio multiplies the backing resolution so the output
	// stays sharp on high-DPI displays. Values <= 0 mean 1.
	DevicePixelRatio float64
}

// Compositor renders a generated image with an optional organization
// watermark on top, independent of which provider produced the image.
type Compositor struct {
	cache  *ImageCache
	logger infra.Logger
}

// New constructs a compositor, building a default cache when none is given.
func New(opts Options) (*Compositor, error) {
	cache := opts.Cache
	if cache == nil {
		var err error
		cache, err = NewImageCache(CacheOptions{})
		if err != nil {
			return nil, err
		}
	}
	return &Compositor{cache: cache, logger: opts.Logger}, nil
}

// Render loads the base image and watermark, scales each to fit the target
// box without cropping, and draws the watermark with its blend mode. Any
// load failure fails the whole render; a partial canvas is never returned.
func (c *Compositor) Render(ctx context.Context, baseURL string, watermark *domain.WatermarkSpec, opts RenderOptions) (*image.RGBA, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("compose: base image url is required")
	}

	var base, overlay image.Image
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := c.cache.Load(gctx, baseURL)
		if err != nil {
			return err
		}
		base = img
		return nil
	})
	if watermark != nil && watermark.URL != "" {
		g.Go(func() error {
			img, err := c.cache.Load(gctx, watermark.URL)
			if err != nil {
				return err
			}
			overlay = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width = base.Bounds().Dx()
		height = base.Bounds().Dy()
	}
	dpr := opts.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}
	canvas := image.NewRGBA(image.Rect(0, 0,
		int(math.Round(float64(width)*dpr)),
		int(math.Round(float64(height)*dpr)),
	))

	drawFitted(canvas, base, BlendSourceOver)
	if overlay != nil {
		drawFitted(canvas, overlay, ParseBlendMode(watermark.BlendMode))
	}
	c.logger.Debug().
		Int("width", canvas.Bounds().Dx()).
		Int("height", canvas.Bounds().Dy()).
		Bool("watermark", overlay != nil).
		Msg("compose: rendered")
	return canvas, nil
}

// Export serializes a rendered canvas to PNG for save/share.
func (c *Compositor) Export(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("compose: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// drawFitted aspect-fit scales img into the canvas and draws it centered.
// Non-source-over modes scale into an intermediate layer first so the blend
// runs against the already-scaled pixels.
func drawFitted(canvas *image.RGBA, img image.Image, mode BlendMode) {
	fit := fitRect(canvas.Bounds(), img.Bounds())
	if mode == BlendSourceOver {
		xdraw.CatmullRom.Scale(canvas, fit, img, img.Bounds(), xdraw.Over, nil)
		return
	}
	layer := image.NewRGBA(image.Rect(0, 0, fit.Dx(), fit.Dy()))
	xdraw.CatmullRom.Scale(layer, layer.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	blendDraw(canvas, fit, layer, image.Point{}, mode)
}

// fitRect returns the largest rectangle with src's aspect ratio that fits
// inside box, centered.
func fitRect(box, src image.Rectangle) image.Rectangle {
	bw, bh := float64(box.Dx()), float64(box.Dy())
	sw, sh := float64(src.Dx()), float64(src.Dy())
	if sw <= 0 || sh <= 0 || bw <= 0 || bh <= 0 {
		return image.Rectangle{}
	}
	scale := math.Min(bw/sw, bh/sh)
	w := int(math.Round(sw * scale))
	h := int(math.Round(sh * scale))
	x := box.Min.X + (box.Dx()-w)/2
	y := box.Min.Y + (box.Dy()-h)/2
	return image.Rect(x, y, x+w, y+h)
}
