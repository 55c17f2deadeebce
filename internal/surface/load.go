package surface

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"golang.org/x/image/draw"
)

// LoadImage decodes a PNG or JPEG from r and writes it into the surface,
// scaling to the surface dimensions when they differ. The surface is marked
// dirty on success.
func (s *Surface) LoadImage(r io.Reader) error {
	src, _, err := image.Decode(r)
	if err != nil {
		return fmt.Errorf("failed to decode image: %w", err)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	if src.Bounds().Dx() == s.width && src.Bounds().Dy() == s.height {
		draw.Draw(rgba, rgba.Bounds(), src, src.Bounds().Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(rgba, rgba.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	pixels := make([]float32, s.width*s.height*4)
	for i, b := range rgba.Pix {
		pixels[i] = float32(b) / 255.0
	}

	return s.SetPixels(pixels)
}
