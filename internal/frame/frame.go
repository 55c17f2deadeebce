// Package frame converts surface pixel snapshots into the raw byte frames the
// encoder consumes: one unsigned 8-bit sample per channel, rows top-down, no
// framing between frames.
package frame

import (
	"fmt"
	"math"
)

// Convert quantizes a float32 RGBA snapshot into a W*H*4 byte frame using
// byte = round(clamp(sample,0,1)*255).
//
// The encoder reads rows top-down. Surfaces that store their bottom row first
// (bottomUp) are flipped here; skipping the flip for such a surface produces a
// vertically mirrored stream.
func Convert(pixels []float32, width, height int, bottomUp bool) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid frame size: %dx%d", width, height)
	}
	if len(pixels) != width*height*4 {
		return nil, fmt.Errorf("pixel buffer length %d, want %d", len(pixels), width*height*4)
	}

	out := make([]byte, width*height*4)
	rowLen := width * 4

	for row := 0; row < height; row++ {
		srcRow := row
		if bottomUp {
			srcRow = height - 1 - row
		}
		src := pixels[srcRow*rowLen : (srcRow+1)*rowLen]
		dst := out[row*rowLen : (row+1)*rowLen]
		for i, sample := range src {
			dst[i] = quantize(sample)
		}
	}

	return out, nil
}

func quantize(sample float32) byte {
	if sample <= 0 {
		return 0
	}
	if sample >= 1 {
		return 255
	}
	return byte(math.Round(float64(sample) * 255.0))
}
