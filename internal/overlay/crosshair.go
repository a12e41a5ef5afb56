package overlay

import (
	"fmt"
	"image"
	"image/color"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

const (
	defaultArmLength     = 100
	defaultHalfThickness = 2
)

// CrosshairWidget draws a solid cross centred on the frame (offset by x, y).
// Both bars are 2*armLength long and 2*halfThickness wide, so with the
// defaults every written pixel lies in the central 200x200 square.
type CrosshairWidget struct {
	*BaseWidget
	armLength     int
	halfThickness int
	color         color.RGBA
}

// NewCrosshairWidget creates a crosshair widget
func NewCrosshairWidget(id string, config map[string]interface{}) (*CrosshairWidget, error) {
	w := &CrosshairWidget{
		BaseWidget:    NewBaseWidget(id, 0, 0, 1.0),
		armLength:     defaultArmLength,
		halfThickness: defaultHalfThickness,
		color:         color.RGBA{B: 255, A: 255},
	}

	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}

	return w, nil
}

// Type returns the widget type
func (w *CrosshairWidget) Type() string {
	return "crosshair"
}

// Bounds returns the two bars in frame coordinates
func (w *CrosshairWidget) Bounds(width, height int) (vertical, horizontal image.Rectangle) {
	dx, dy := w.GetPosition()
	cx := width/2 + dx
	cy := height/2 + dy
	vertical = image.Rect(cx-w.halfThickness, cy-w.armLength, cx+w.halfThickness, cy+w.armLength)
	horizontal = image.Rect(cx-w.armLength, cy-w.halfThickness, cx+w.armLength, cy+w.halfThickness)
	return vertical, horizontal
}

// Render draws the crosshair. Parts outside the frame are clipped.
func (w *CrosshairWidget) Render(v *frame.View) error {
	if !w.IsEnabled() {
		return nil
	}

	vertical, horizontal := w.Bounds(v.Width(), v.Height())
	v.FillRect(vertical, w.color)
	v.FillRect(horizontal, w.color)
	return nil
}

// GetConfig returns the widget configuration
func (w *CrosshairWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())
	config["arm_length"] = w.armLength
	config["half_thickness"] = w.halfThickness
	config["color"] = colorConfig(w.color)
	return config
}

// UpdateConfig updates the widget configuration
func (w *CrosshairWidget) UpdateConfig(config map[string]interface{}) error {
	w.updateBase(config)

	if v, ok := config["arm_length"]; ok {
		arm := getInt(v)
		if arm <= 0 {
			return fmt.Errorf("arm_length must be positive, got %v", v)
		}
		w.armLength = arm
	}

	if v, ok := config["half_thickness"]; ok {
		ht := getInt(v)
		if ht <= 0 {
			return fmt.Errorf("half_thickness must be positive, got %v", v)
		}
		w.halfThickness = ht
	}

	if c, ok := parseColor(config["color"]); ok {
		w.color = c
	}

	return nil
}
