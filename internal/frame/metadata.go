// Package frame defines the frame metadata, leased buffer handles and the
// bounds-checked pixel view shared by every stage of the relay.
package frame

import (
	"fmt"
	"strings"
	"time"
)

// PixelFormat describes the byte layout of one pixel
type PixelFormat string

const (
	FormatRGB  PixelFormat = "RGB"
	FormatBGR  PixelFormat = "BGR"
	FormatRGBA PixelFormat = "RGBA"
	FormatBGRA PixelFormat = "BGRA"
)

// ParsePixelFormat accepts GStreamer-style format names.
// An empty name means RGB, the layout the overlay was written for.
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch strings.ToUpper(name) {
	case "", "RGB":
		return FormatRGB, nil
	case "BGR":
		return FormatBGR, nil
	case "RGBA", "RGBX":
		return FormatRGBA, nil
	case "BGRA", "BGRX":
		return FormatBGRA, nil
	default:
		return "", fmt.Errorf("unsupported pixel format: %s", name)
	}
}

// BytesPerPixel returns the pixel size, or 0 for an unknown format
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case FormatRGB, FormatBGR:
		return 3
	case FormatRGBA, FormatBGRA:
		return 4
	default:
		return 0
	}
}

// channelOffsets returns the byte offsets of red, green, blue and alpha.
// Alpha is -1 for formats without one.
func (f PixelFormat) channelOffsets() (r, g, b, a int) {
	switch f {
	case FormatRGB:
		return 0, 1, 2, -1
	case FormatBGR:
		return 2, 1, 0, -1
	case FormatRGBA:
		return 0, 1, 2, 3
	case FormatBGRA:
		return 2, 1, 0, 3
	default:
		return -1, -1, -1, -1
	}
}

// Metadata describes one frame. It is immutable once captured and travels
// by value next to the buffer it describes.
type Metadata struct {
	Width     uint32      `json:"width"`
	Height    uint32      `json:"height"`
	Padding   uint32      `json:"padding"` // bytes appended to each row
	Format    PixelFormat `json:"format"`
	Timestamp time.Time   `json:"timestamp"`
	Seq       uint64      `json:"seq"`
}

// Stride is the distance in bytes between the starts of two rows
func (m Metadata) Stride() int {
	return int(m.Width)*m.Format.BytesPerPixel() + int(m.Padding)
}

// FrameSize is the number of bytes addressed by the metadata
func (m Metadata) FrameSize() int {
	return int(m.Height) * m.Stride()
}

func (m Metadata) String() string {
	return fmt.Sprintf("%dx%d %s pad=%d seq=%d", m.Width, m.Height, m.Format, m.Padding, m.Seq)
}
