// Package overlay burns an optional one-line caption into outgoing frames.
package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	fontHeight = 13 // basicfont.Face7x13
	padding    = 4
)

// Caption draws a single line of text onto RGBA frame bytes before they are
// written to the encoder. Rendering happens in place and never changes the
// frame's length.
type Caption struct {
	text      string
	textColor color.RGBA
	bgColor   color.RGBA
}

// New creates a caption with white text on a translucent black strip.
func New(text string) *Caption {
	return &Caption{
		text:      text,
		textColor: color.RGBA{255, 255, 255, 255},
		bgColor:   color.RGBA{0, 0, 0, 180},
	}
}

// SetText updates the caption text.
func (c *Caption) SetText(text string) {
	c.text = text
}

// Render draws the caption into the top-left corner of the frame. Frames too
// small to hold the text strip are left untouched.
func (c *Caption) Render(frame []byte, width, height int) {
	if c.text == "" || len(frame) != width*height*4 {
		return
	}

	img := &image.RGBA{
		Pix:    frame,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c.textColor),
		Face: face,
	}

	textWidth := d.MeasureString(c.text).Ceil()
	stripWidth := textWidth + padding*2
	stripHeight := fontHeight + padding*2
	if stripWidth > width || stripHeight > height {
		return
	}

	strip := image.Rect(0, 0, stripWidth, stripHeight)
	draw.Draw(img, strip, &image.Uniform{c.bgColor}, image.Point{}, draw.Over)

	d.Dot = fixed.P(padding, padding+fontHeight-2)
	d.DrawString(c.text)
}
