package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strconv"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

// SeqPlaceholder is replaced with the frame sequence number when rendering
const SeqPlaceholder = "{seq}"

// TextWidget displays text on the frame
type TextWidget struct {
	*BaseWidget
	text      string
	fontSize  int
	textColor color.RGBA
	bgColor   *color.RGBA // Optional background color
	padding   int

	// scratch surfaces, reused while the rendered size stays the same
	textImg *image.RGBA
	bgImg   *image.RGBA
}

// NewTextWidget creates a new text widget
func NewTextWidget(id string, config map[string]interface{}) (*TextWidget, error) {
	w := &TextWidget{
		BaseWidget: NewBaseWidget(id, 0, 0, 1.0),
		text:       "frame " + SeqPlaceholder,
		fontSize:   13, // basicfont size
		textColor:  color.RGBA{255, 255, 255, 255},
		padding:    5,
	}

	if err := w.UpdateConfig(config); err != nil {
		return nil, err
	}

	return w, nil
}

// Type returns the widget type
func (w *TextWidget) Type() string {
	return "text"
}

// Expand returns the text with placeholders substituted for meta
func (w *TextWidget) Expand(meta frame.Metadata) string {
	if !strings.Contains(w.text, SeqPlaceholder) {
		return w.text
	}
	return strings.ReplaceAll(w.text, SeqPlaceholder, strconv.FormatUint(meta.Seq, 10))
}

// Render draws the text widget
func (w *TextWidget) Render(v *frame.View) error {
	if !w.IsEnabled() || w.text == "" {
		return nil
	}

	text := w.Expand(v.Metadata())
	face := basicfont.Face7x13

	measure := &font.Drawer{Face: face}
	textWidthPx := measure.MeasureString(text).Ceil()
	if textWidthPx == 0 {
		return nil
	}

	widgetWidth := textWidthPx + w.padding*2
	widgetHeight := w.fontSize + w.padding*2

	if w.bgColor != nil {
		w.bgImg = scratch(w.bgImg, widgetWidth, widgetHeight)
		draw.Draw(w.bgImg, w.bgImg.Bounds(), &image.Uniform{*w.bgColor}, image.Point{}, draw.Src)
		BlendImage(v, w.bgImg, w.x, w.y, w.opacity)
	}

	w.textImg = scratch(w.textImg, textWidthPx, w.fontSize)
	draw.Draw(w.textImg, w.textImg.Bounds(), image.Transparent, image.Point{}, draw.Src)
	textDrawer := &font.Drawer{
		Dst:  w.textImg,
		Src:  image.NewUniform(w.textColor),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	textDrawer.DrawString(text)

	BlendImage(v, w.textImg, w.x+w.padding, w.y+w.padding, w.opacity)

	return nil
}

// scratch returns img when it already has the requested size
func scratch(img *image.RGBA, width, height int) *image.RGBA {
	if img != nil && img.Bounds().Dx() == width && img.Bounds().Dy() == height {
		return img
	}
	return image.NewRGBA(image.Rect(0, 0, width, height))
}

// GetConfig returns the widget configuration
func (w *TextWidget) GetConfig() map[string]interface{} {
	config := w.baseConfig(w.Type())
	config["text"] = w.GetText()
	config["padding"] = w.padding
	config["color"] = colorConfig(w.textColor)

	if w.bgColor != nil {
		config["background"] = colorConfig(*w.bgColor)
	}

	return config
}

// UpdateConfig updates the widget configuration
func (w *TextWidget) UpdateConfig(config map[string]interface{}) error {
	if text, ok := config["text"].(string); ok {
		w.SetText(text)
	}

	w.updateBase(config)

	if padding, ok := config["padding"]; ok {
		p := getInt(padding)
		if p < 0 {
			return fmt.Errorf("padding must not be negative, got %v", padding)
		}
		w.padding = p
	}

	if c, ok := parseColor(config["color"]); ok {
		w.SetColor(c)
	}

	// an explicit null clears the background
	if bg, ok := config["background"]; ok {
		if c, ok := parseColor(bg); ok {
			w.SetBackground(&c)
		} else if bg == nil {
			w.SetBackground(nil)
		}
	}

	return nil
}

// SetText updates the text content
func (w *TextWidget) SetText(text string) {
	w.text = text
}

// GetText returns the current text
func (w *TextWidget) GetText() string {
	return w.text
}

// SetColor sets the text color
func (w *TextWidget) SetColor(c color.RGBA) {
	w.textColor = c
}

// SetBackground sets the background color (nil for transparent)
func (w *TextWidget) SetBackground(c *color.RGBA) {
	w.bgColor = c
}

// Validate ensures the widget configuration is valid
func (w *TextWidget) Validate() error {
	if w.text == "" {
		return fmt.Errorf("text widget requires non-empty text")
	}
	return nil
}
