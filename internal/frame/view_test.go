package frame

import (
	"image"
	"image/color"
	"testing"
)

func TestMetadataStride(t *testing.T) {
	tests := []struct {
		name   string
		meta   Metadata
		stride int
		size   int
	}{
		{"rgb packed", Metadata{Width: 640, Height: 480, Format: FormatRGB}, 1920, 921600},
		{"rgb padded", Metadata{Width: 5, Height: 2, Padding: 1, Format: FormatRGB}, 16, 32},
		{"bgra", Metadata{Width: 4, Height: 3, Format: FormatBGRA}, 16, 48},
		{"unknown format", Metadata{Width: 4, Height: 3, Format: "YV12"}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.meta.Stride(); got != tt.stride {
				t.Errorf("Stride() = %d, want %d", got, tt.stride)
			}
			if got := tt.meta.FrameSize(); got != tt.size {
				t.Errorf("FrameSize() = %d, want %d", got, tt.size)
			}
		})
	}
}

func TestParsePixelFormat(t *testing.T) {
	tests := map[string]PixelFormat{
		"":     FormatRGB,
		"rgb":  FormatRGB,
		"BGR":  FormatBGR,
		"RGBx": FormatRGBA,
		"BGRx": FormatBGRA,
		"BGRA": FormatBGRA,
	}
	for in, want := range tests {
		got, err := ParsePixelFormat(in)
		if err != nil {
			t.Errorf("ParsePixelFormat(%q) error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParsePixelFormat(%q) = %s, want %s", in, got, want)
		}
	}
	if _, err := ParsePixelFormat("NV12"); err == nil {
		t.Error("ParsePixelFormat(NV12) should fail")
	}
}

func TestNewViewRejectsShortBuffer(t *testing.T) {
	meta := Metadata{Width: 4, Height: 4, Padding: 2, Format: FormatRGB}
	if _, err := NewView(make([]byte, meta.FrameSize()-1), meta); err == nil {
		t.Fatal("expected error for short buffer")
	}
	if _, err := NewView(make([]byte, meta.FrameSize()), meta); err != nil {
		t.Fatalf("exact-size buffer rejected: %v", err)
	}
	if _, err := NewView(make([]byte, 64), Metadata{Width: 0, Height: 4, Format: FormatRGB}); err == nil {
		t.Fatal("expected error for empty frame")
	}
}

func TestViewAddressing(t *testing.T) {
	meta := Metadata{Width: 3, Height: 2, Padding: 3, Format: FormatRGB}
	data := make([]byte, meta.FrameSize())
	v, err := NewView(data, meta)
	if err != nil {
		t.Fatal(err)
	}

	off, ok := v.Offset(2, 1, 2)
	if !ok || off != 1*12+2*3+2 {
		t.Errorf("Offset(2,1,2) = %d,%v want 20,true", off, ok)
	}
	for _, c := range [][3]int{{3, 0, 0}, {0, 2, 0}, {-1, 0, 0}, {0, 0, 3}} {
		if _, ok := v.Offset(c[0], c[1], c[2]); ok {
			t.Errorf("Offset%v should be out of range", c)
		}
	}

	v.SetPixel(2, 1, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	if data[18] != 1 || data[19] != 2 || data[20] != 3 {
		t.Errorf("pixel bytes = %v", data[18:21])
	}
	// Padding bytes are never touched
	for i := 21; i < 24; i++ {
		if data[i] != 0 {
			t.Errorf("padding byte %d written", i)
		}
	}
	if got := len(v.Row(1)); got != 9 {
		t.Errorf("len(Row(1)) = %d, want 9", got)
	}
}

func TestViewChannelOrder(t *testing.T) {
	blue := color.RGBA{B: 255, A: 255}
	tests := []struct {
		format PixelFormat
		want   []byte
	}{
		{FormatRGB, []byte{0, 0, 255}},
		{FormatBGR, []byte{255, 0, 0}},
		{FormatRGBA, []byte{0, 0, 255, 255}},
		{FormatBGRA, []byte{255, 0, 0, 255}},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			meta := Metadata{Width: 1, Height: 1, Format: tt.format}
			data := make([]byte, meta.FrameSize())
			v, err := NewView(data, meta)
			if err != nil {
				t.Fatal(err)
			}
			v.Set(0, 0, blue)
			if string(data) != string(tt.want) {
				t.Errorf("bytes = %v, want %v", data, tt.want)
			}
			if got := v.PixelAt(0, 0); got != blue {
				t.Errorf("PixelAt = %v, want %v", got, blue)
			}
		})
	}
}

func TestFillRectClips(t *testing.T) {
	meta := Metadata{Width: 4, Height: 4, Format: FormatRGB}
	data := make([]byte, meta.FrameSize())
	v, err := NewView(data, meta)
	if err != nil {
		t.Fatal(err)
	}
	v.FillRect(image.Rect(-10, -10, 2, 2), color.RGBA{R: 9})

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := uint8(0)
			if x < 2 && y < 2 {
				want = 9
			}
			if got := v.PixelAt(x, y).R; got != want {
				t.Errorf("pixel (%d,%d) R = %d, want %d", x, y, got, want)
			}
		}
	}
}
