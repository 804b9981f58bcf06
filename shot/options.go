package shot

// DefaultBackdropColor is used behind the snippet when the backdrop is not
// transparent and no color was chosen.
const DefaultBackdropColor = "#f2f2f2"

// RenderOptions are the user toggles of the preview.
type RenderOptions struct {
	Shadow                bool   `json:"shadow" yaml:"shadow"`
	TransparentBackground bool   `json:"transparentBackground" yaml:"transparentBackground"`
	BackgroundColor       string `json:"backgroundColor" yaml:"backgroundColor"`
}

// DefaultRenderOptions returns shadow on, transparent backdrop, #f2f2f2.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{
		Shadow:                true,
		TransparentBackground: true,
		BackgroundColor:       DefaultBackdropColor,
	}
}

// Backdrop returns the backdrop color for the current toggles: "transparent"
// or the chosen color.
func (o RenderOptions) Backdrop() string {
	if o.TransparentBackground {
		return "transparent"
	}
	if o.BackgroundColor == "" {
		return DefaultBackdropColor
	}
	return o.BackgroundColor
}
