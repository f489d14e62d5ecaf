package domain

// WatermarkSpec is a compositing instruction: an organization-supplied
// overlay applied at display time, never persisted into the generated image.
type WatermarkSpec struct {
	URL       string `json:"url"`
	BlendMode string `json:"blend_mode"`
}
