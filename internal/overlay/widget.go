package overlay

import (
	"image"
	"image/color"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

// Widget represents a renderable overlay widget
type Widget interface {
	// ID returns the unique identifier for this widget instance
	ID() string

	// Type returns the widget type name
	Type() string

	// Render draws the widget in place onto the frame view
	Render(v *frame.View) error

	// GetConfig returns the widget's configuration as a map
	GetConfig() map[string]interface{}

	// UpdateConfig updates the widget's configuration
	UpdateConfig(config map[string]interface{}) error

	// IsEnabled returns whether the widget should be rendered
	IsEnabled() bool

	// SetEnabled sets whether the widget should be rendered
	SetEnabled(enabled bool)
}

// BaseWidget provides common functionality for all widgets
type BaseWidget struct {
	id      string
	enabled bool
	x       int
	y       int
	opacity float64 // 0.0 to 1.0
}

// NewBaseWidget creates a new base widget
func NewBaseWidget(id string, x, y int, opacity float64) *BaseWidget {
	return &BaseWidget{
		id:      id,
		enabled: true,
		x:       x,
		y:       y,
		opacity: opacity,
	}
}

// ID returns the widget's unique identifier
func (w *BaseWidget) ID() string {
	return w.id
}

// IsEnabled returns whether the widget should be rendered
func (w *BaseWidget) IsEnabled() bool {
	return w.enabled
}

// SetEnabled sets whether the widget should be rendered
func (w *BaseWidget) SetEnabled(enabled bool) {
	w.enabled = enabled
}

// GetPosition returns the widget's position
func (w *BaseWidget) GetPosition() (int, int) {
	return w.x, w.y
}

// SetPosition sets the widget's position
func (w *BaseWidget) SetPosition(x, y int) {
	w.x = x
	w.y = y
}

// GetOpacity returns the widget's opacity
func (w *BaseWidget) GetOpacity() float64 {
	return w.opacity
}

// SetOpacity sets the widget's opacity (0.0 to 1.0)
func (w *BaseWidget) SetOpacity(opacity float64) {
	if opacity < 0.0 {
		opacity = 0.0
	}
	if opacity > 1.0 {
		opacity = 1.0
	}
	w.opacity = opacity
}

// updateBase applies the keys shared by every widget
func (w *BaseWidget) updateBase(config map[string]interface{}) {
	x, y := w.GetPosition()
	if v, ok := config["x"]; ok {
		x = getInt(v)
	}
	if v, ok := config["y"]; ok {
		y = getInt(v)
	}
	w.SetPosition(x, y)
	if opacity, ok := config["opacity"].(float64); ok {
		w.SetOpacity(opacity)
	}
	if enabled, ok := config["enabled"].(bool); ok {
		w.SetEnabled(enabled)
	}
}

// baseConfig returns the keys shared by every widget
func (w *BaseWidget) baseConfig(widgetType string) map[string]interface{} {
	x, y := w.GetPosition()
	return map[string]interface{}{
		"id":      w.id,
		"type":    widgetType,
		"enabled": w.enabled,
		"x":       x,
		"y":       y,
		"opacity": w.GetOpacity(),
	}
}

// BlendImage blends a source image onto the frame at the given position
// with the specified opacity. Pixels falling outside the frame are skipped.
func BlendImage(dst *frame.View, src image.Image, x, y int, opacity float64) {
	srcBounds := src.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + (sy - srcBounds.Min.Y)
		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + (sx - srcBounds.Min.X)
			if !dst.Contains(dx, dy) {
				continue
			}

			sr, sg, sb, sa := src.At(sx, sy).RGBA()

			// Apply opacity to source alpha
			alpha := float64(sa) * opacity / 65535.0
			if alpha <= 0 {
				continue
			}

			d := dst.PixelAt(dx, dy)
			dst.SetPixel(dx, dy, color.RGBA{
				R: blend(sr, d.R, opacity, alpha),
				G: blend(sg, d.G, opacity, alpha),
				B: blend(sb, d.B, opacity, alpha),
				A: d.A,
			})
		}
	}
}

// blend mixes a premultiplied 16-bit source channel over an 8-bit destination
func blend(src uint32, dst uint8, opacity, alpha float64) uint8 {
	out := float64(src)/257.0*opacity + float64(dst)*(1-alpha)
	if out > 255 {
		out = 255
	}
	return uint8(out)
}

// parseColor reads an {r, g, b, a} map; a missing alpha means opaque
func parseColor(v interface{}) (color.RGBA, bool) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return color.RGBA{}, false
	}
	c := color.RGBA{
		R: uint8(getInt(m["r"])),
		G: uint8(getInt(m["g"])),
		B: uint8(getInt(m["b"])),
		A: 255,
	}
	if a, ok := m["a"]; ok {
		c.A = uint8(getInt(a))
	}
	return c, true
}

func colorConfig(c color.RGBA) map[string]interface{} {
	return map[string]interface{}{"r": c.R, "g": c.G, "b": c.B, "a": c.A}
}

// getInt extracts an integer value from an interface{} that might be int or float64
func getInt(v interface{}) int {
	switch val := v.(type) {
	case int:
		return val
	case float64:
		return int(val)
	case int64:
		return int(val)
	case uint8:
		return int(val)
	default:
		return 0
	}
}
