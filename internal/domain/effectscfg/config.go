package effectscfg

import (
	"encoding/json"
	"fmt"
	"strings"

	"remix/internal/domain"
)

// TypeCustom selects the organization's fine-tuned model; TypeDiffusion the
// direct text/image-to-image engine; TypeBot the external imagine bot.
const (
	TypeCustom    = "custom"
	TypeDiffusion = "diffusion"
	TypeBot       = "bot"
)

const (
	// DefaultImageStrength is applied when the slider value is omitted.
	DefaultImageStrength = 50
	// MaxImageStrength is the upper bound of the human-facing slider.
	MaxImageStrength = 100
)

type CustomConfig struct {
	// Current references the selected CustomModel by id.
	Current string `json:"current"`
}

type DiffusionConfig struct {
	// ImageStrength is the human-facing 0-100 slider. The engine-native
	// step schedule is derived from it at submission time.
	ImageStrength *int   `json:"image_strength,omitempty"`
	Seed          int64  `json:"seed,omitempty"`
	StylePreset   string `json:"style_preset,omitempty"`
}

type BotConfig struct {
	Params       string   `json:"params,omitempty"`
	CharacterRef string   `json:"character_ref,omitempty"`
	StyleRef     string   `json:"style_ref,omitempty"`
	ImagePrompts []string `json:"image_prompts,omitempty"`
}

type WatermarkConfig struct {
	URL       string `json:"url,omitempty"`
	BlendMode string `json:"blend_mode,omitempty"`
}

// Config is the per-event effects configuration stored alongside event
// settings and handed to the orchestrator as-is.
type Config struct {
	Type      string          `json:"type"`
	Custom    CustomConfig    `json:"custom"`
	Diffusion DiffusionConfig `json:"diffusion"`
	Bot       BotConfig       `json:"bot"`
	Watermark WatermarkConfig `json:"watermark"`
}

// Normalize applies server defaults and clamps out-of-range values.
// An unrecognized type falls back to the diffusion engine.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	switch strings.ToLower(strings.TrimSpace(c.Type)) {
	case TypeCustom:
		c.Type = TypeCustom
	case TypeBot:
		c.Type = TypeBot
	default:
		c.Type = TypeDiffusion
	}
	if c.Diffusion.ImageStrength == nil {
		v := DefaultImageStrength
		c.Diffusion.ImageStrength = &v
	}
	if *c.Diffusion.ImageStrength < 0 {
		*c.Diffusion.ImageStrength = 0
	}
	if *c.Diffusion.ImageStrength > MaxImageStrength {
		*c.Diffusion.ImageStrength = MaxImageStrength
	}
	c.Custom.Current = strings.TrimSpace(c.Custom.Current)
}

// Provider maps the configured type onto the domain provider enum.
func (c Config) Provider() domain.Provider {
	switch c.Type {
	case TypeCustom:
		return domain.ProviderCustomModel
	case TypeBot:
		return domain.ProviderExternalBot
	default:
		return domain.ProviderDirectDiffusion
	}
}

// Parse decodes and normalizes a stored effects configuration.
func Parse(raw []byte) (Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("effectscfg: decode config: %w", err)
		}
	}
	cfg.Normalize()
	return cfg, nil
}
