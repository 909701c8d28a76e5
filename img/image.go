// Package img contains routines for manipulating sets of images.
package img

import (
	"image"
	"image/color"
)

var RGBModel = color.ModelFunc(rgbModel)

// RGB color is stored as a float for each channel, normally with values in range 0-1
type RGB struct {
	R, G, B float32
}

func (c RGB) RGBA() (r, g, b, a uint32) {
	return clampu(c.R, 0, 1), clampu(c.G, 0, 1), clampu(c.B, 0, 1), 0xffff
}

func rgbModel(c color.Color) color.Color {
	if _, ok := c.(RGB); ok {
		return c
	}
	r, g, b, _ := c.RGBA()
	return RGB{R: float32(r) / 0xffff, G: float32(g) / 0xffff, B: float32(b) / 0xffff}
}

// Image type stores the pixel data as float32 values in row major order with each colour
// plane stored separately, i.e. channels x height x width.
type Image struct {
	Pix      []float32
	Width    int
	Height   int
	Channels int
}

// NewRGB creates a new 3 channel image.
func NewRGB(width, height int) *Image {
	return &Image{Pix: make([]float32, height*width*3), Width: width, Height: height, Channels: 3}
}

func NewImageLike(src *Image) *Image {
	return &Image{Pix: make([]float32, len(src.Pix)), Width: src.Width, Height: src.Height, Channels: src.Channels}
}

func (m *Image) ColorModel() color.Model {
	return RGBModel
}

func (m *Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

// Pixels returns the data for one colour plane, or all of the data if ch is out of range.
func (m *Image) Pixels(ch int) []float32 {
	if ch >= 0 && ch < m.Channels {
		return m.Pix[ch*m.Width*m.Height : (ch+1)*m.Width*m.Height]
	}
	return m.Pix
}

func (m *Image) RGBAt(x, y int) RGB {
	if x < 0 || x >= m.Width || y < 0 || y >= m.Height {
		return RGB{}
	}
	plane := m.Width * m.Height
	pos := y*m.Width + x
	if m.Channels < 3 {
		return RGB{R: m.Pix[pos], G: m.Pix[pos], B: m.Pix[pos]}
	}
	return RGB{R: m.Pix[pos], G: m.Pix[pos+plane], B: m.Pix[pos+2*plane]}
}

func (m *Image) At(x, y int) color.Color {
	return m.RGBAt(x, y)
}

func clamp(x, x0, x1 float32) float32 {
	if x < x0 {
		return x0
	}
	if x > x1 {
		return x1
	}
	return x
}

func clampu(x, x0, x1 float32) uint32 {
	return uint32(clamp(x, x0, x1) * 0xffff)
}
