package gstreamer

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/FrameFilter/internal/frame"
)

// Element error codes handed to the chain's error callback
const (
	ErrCodeUnknown  = 1
	ErrCodeResource = 2
	ErrCodeFormat   = 3
	ErrCodeAuth     = 4
)

// valueGetter is the part of *gst.Structure used to read caps fields
type valueGetter interface {
	GetValue(name string) (interface{}, error)
}

// metadataFromCaps builds frame metadata from raw video caps. Row padding
// is whatever the buffer holds beyond the packed row size.
func metadataFromCaps(s valueGetter, size int) (frame.Metadata, error) {
	width, err := intField(s, "width")
	if err != nil {
		return frame.Metadata{}, err
	}
	height, err := intField(s, "height")
	if err != nil {
		return frame.Metadata{}, err
	}

	var formatName string
	if v, err := s.GetValue("format"); err == nil {
		formatName, _ = v.(string)
	}
	format, err := frame.ParsePixelFormat(formatName)
	if err != nil {
		return frame.Metadata{}, err
	}

	row := width * format.BytesPerPixel()
	if size < row*height || size%height != 0 {
		return frame.Metadata{}, fmt.Errorf("buffer of %d bytes does not hold %dx%d %s", size, width, height, format)
	}

	return frame.Metadata{
		Width:   uint32(width),
		Height:  uint32(height),
		Padding: uint32(size/height - row),
		Format:  format,
	}, nil
}

func intField(s valueGetter, name string) (int, error) {
	v, err := s.GetValue(name)
	if err != nil {
		return 0, fmt.Errorf("caps field %s: %w", name, err)
	}
	n, ok := v.(int)
	if !ok || n <= 0 {
		return 0, fmt.Errorf("caps field %s: unexpected value %v", name, v)
	}
	return n, nil
}

var (
	authKeywords     = []string{"unauthorized", "401", "403", "forbidden", "authentication", "credentials"}
	formatKeywords   = []string{"not-negotiated", "negotiation", "caps", "format", "codec", "decode"}
	resourceKeywords = []string{"not found", "could not open", "resource", "connection", "timeout", "no such"}
)

// classifyError maps a GStreamer error to an element error code
func classifyError(errMsg, debug string) int {
	combined := strings.ToLower(errMsg + " " + debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCodeAuth
	case containsAny(combined, formatKeywords):
		return ErrCodeFormat
	case containsAny(combined, resourceKeywords):
		return ErrCodeResource
	default:
		return ErrCodeUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
