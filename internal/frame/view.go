package frame

import (
	"fmt"
	"image"
	"image/color"
)

// View is a bounds-checked window over a frame's bytes. Every write goes
// through Offset, which addresses y*stride + x*bpp + channel and refuses
// coordinates outside the frame. View implements draw.Image.
type View struct {
	data   []byte
	meta   Metadata
	stride int
	bpp    int
	r      int
	g      int
	b      int
	a      int
}

// NewView checks that data covers the frame described by meta
func NewView(data []byte, meta Metadata) (*View, error) {
	bpp := meta.Format.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("unsupported pixel format: %q", meta.Format)
	}
	if meta.Width == 0 || meta.Height == 0 {
		return nil, fmt.Errorf("empty frame: %dx%d", meta.Width, meta.Height)
	}
	if size := meta.FrameSize(); len(data) < size {
		return nil, fmt.Errorf("buffer too small for %s: have %d bytes, need %d", meta, len(data), size)
	}
	r, g, b, a := meta.Format.channelOffsets()
	return &View{
		data:   data[:meta.FrameSize()],
		meta:   meta,
		stride: meta.Stride(),
		bpp:    bpp,
		r:      r,
		g:      g,
		b:      b,
		a:      a,
	}, nil
}

// Metadata returns the metadata the view was built from
func (v *View) Metadata() Metadata {
	return v.meta
}

// Width in pixels
func (v *View) Width() int {
	return int(v.meta.Width)
}

// Height in pixels
func (v *View) Height() int {
	return int(v.meta.Height)
}

// Stride in bytes
func (v *View) Stride() int {
	return v.stride
}

// BytesPerPixel of the underlying format
func (v *View) BytesPerPixel() int {
	return v.bpp
}

// Contains reports whether (x, y) addresses a pixel of the frame
func (v *View) Contains(x, y int) bool {
	return x >= 0 && y >= 0 && x < int(v.meta.Width) && y < int(v.meta.Height)
}

// Offset returns the byte index of channel c of pixel (x, y), or false if
// the pixel or channel is out of range.
func (v *View) Offset(x, y, c int) (int, bool) {
	if !v.Contains(x, y) || c < 0 || c >= v.bpp {
		return 0, false
	}
	return y*v.stride + x*v.bpp + c, true
}

// Row returns the packed pixel bytes of row y, without padding
func (v *View) Row(y int) []byte {
	if y < 0 || y >= int(v.meta.Height) {
		return nil
	}
	start := y * v.stride
	return v.data[start : start+int(v.meta.Width)*v.bpp]
}

// SetPixel writes c at (x, y). Out-of-range pixels are ignored.
func (v *View) SetPixel(x, y int, c color.RGBA) {
	base, ok := v.Offset(x, y, 0)
	if !ok {
		return
	}
	v.data[base+v.r] = c.R
	v.data[base+v.g] = c.G
	v.data[base+v.b] = c.B
	if v.a >= 0 {
		v.data[base+v.a] = c.A
	}
}

// PixelAt reads the pixel at (x, y). Formats without alpha read as opaque.
func (v *View) PixelAt(x, y int) color.RGBA {
	base, ok := v.Offset(x, y, 0)
	if !ok {
		return color.RGBA{}
	}
	c := color.RGBA{
		R: v.data[base+v.r],
		G: v.data[base+v.g],
		B: v.data[base+v.b],
		A: 0xff,
	}
	if v.a >= 0 {
		c.A = v.data[base+v.a]
	}
	return c
}

// FillRect paints the intersection of r and the frame with c
func (v *View) FillRect(r image.Rectangle, c color.RGBA) {
	r = r.Intersect(v.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			v.SetPixel(x, y, c)
		}
	}
}

// ColorModel implements image.Image
func (v *View) ColorModel() color.Model {
	return color.RGBAModel
}

// Bounds implements image.Image
func (v *View) Bounds() image.Rectangle {
	return image.Rect(0, 0, int(v.meta.Width), int(v.meta.Height))
}

// At implements image.Image
func (v *View) At(x, y int) color.Color {
	return v.PixelAt(x, y)
}

// Set implements draw.Image
func (v *View) Set(x, y int, c color.Color) {
	v.SetPixel(x, y, color.RGBAModel.Convert(c).(color.RGBA))
}
