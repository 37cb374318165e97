package recorder

import (
	"fmt"
	"image"
)

// DecodeBGRA converts a simulator BGRA8 buffer into an opaque RGBA image.
func DecodeBGRA(raw []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if len(raw) != width*height*4 {
		return nil, fmt.Errorf("frame buffer is %d bytes, want %d for %dx%d BGRA", len(raw), width*height*4, width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(raw); i += 4 {
		img.Pix[i+0] = raw[i+2]
		img.Pix[i+1] = raw[i+1]
		img.Pix[i+2] = raw[i+0]
		img.Pix[i+3] = 0xff
	}
	return img, nil
}
