package x11

import (
	"fmt"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

// zpixmapFormat describes the server's ZPixmap layout for one depth
type zpixmapFormat struct {
	depth         uint8
	bytesPerPixel int
	scanlinePad   int // bytes
}

// stride returns the padded scanline length for width pixels
func (f zpixmapFormat) stride(width int) int {
	unpadded := width * f.bytesPerPixel
	if f.scanlinePad <= 1 {
		return unpadded
	}
	return ((unpadded + f.scanlinePad - 1) / f.scanlinePad) * f.scanlinePad
}

// decodeZPixmap converts BGRx/BGR image data from GetImage into packed RGB
// rows in dst
func decodeZPixmap(dst, src []byte, width, height int, f zpixmapFormat) error {
	if f.bytesPerPixel != 3 && f.bytesPerPixel != 4 {
		return fmt.Errorf("unsupported bytes per pixel: %d", f.bytesPerPixel)
	}
	stride := f.stride(width)
	if len(src) < stride*height {
		return fmt.Errorf("image data too short: have %d bytes, need %d", len(src), stride*height)
	}
	if len(dst) < width*height*3 {
		return fmt.Errorf("destination too small: have %d bytes, need %d", len(dst), width*height*3)
	}

	for y := 0; y < height; y++ {
		srcRow := src[y*stride:]
		dstRow := dst[y*width*3:]
		for x := 0; x < width; x++ {
			i := x * f.bytesPerPixel
			o := x * 3
			dstRow[o] = srcRow[i+2]   // R
			dstRow[o+1] = srcRow[i+1] // G
			dstRow[o+2] = srcRow[i]   // B
		}
	}
	return nil
}

// encodeZPixmap scales v into a width x height ZPixmap (nearest neighbour,
// aspect preserved, letterboxed in black) ready for PutImage
func encodeZPixmap(dst []byte, v *frame.View, width, height int, f zpixmapFormat) error {
	if f.bytesPerPixel != 3 && f.bytesPerPixel != 4 {
		return fmt.Errorf("unsupported bytes per pixel: %d", f.bytesPerPixel)
	}
	stride := f.stride(width)
	if len(dst) < stride*height {
		return fmt.Errorf("destination too small: have %d bytes, need %d", len(dst), stride*height)
	}

	for i := range dst[:stride*height] {
		dst[i] = 0
	}

	srcWidth, srcHeight := v.Width(), v.Height()
	scaleX := float64(width) / float64(srcWidth)
	scaleY := float64(height) / float64(srcHeight)
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}

	dstWidth := int(float64(srcWidth) * scale)
	dstHeight := int(float64(srcHeight) * scale)
	offsetX := (width - dstWidth) / 2
	offsetY := (height - dstHeight) / 2

	for dy := 0; dy < dstHeight; dy++ {
		sy := dy * srcHeight / dstHeight
		row := dst[(offsetY+dy)*stride:]
		for dx := 0; dx < dstWidth; dx++ {
			sx := dx * srcWidth / dstWidth
			c := v.PixelAt(sx, sy)
			o := (offsetX + dx) * f.bytesPerPixel
			row[o] = c.B
			row[o+1] = c.G
			row[o+2] = c.R
			if f.bytesPerPixel == 4 && f.depth == 32 {
				row[o+3] = c.A
			}
		}
	}
	return nil
}
