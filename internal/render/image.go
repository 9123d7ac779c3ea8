package render

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/banshee-data/mvlm/internal/camera"
)

// ChannelMode selects what the rendered images contain.
type ChannelMode int

const (
	// Geometry is a single shaded grey channel of the bare surface.
	Geometry ChannelMode = iota
	// RGB is the vertex colours modulated by shading.
	RGB
	// Depth is a single channel of normalised depth, near surfaces bright.
	Depth
	// RGBDepth is RGB followed by the Depth channel.
	RGBDepth
)

func (m ChannelMode) String() string {
	switch m {
	case Geometry:
		return "geometry"
	case RGB:
		return "RGB"
	case Depth:
		return "depth"
	case RGBDepth:
		return "RGB+depth"
	}
	return fmt.Sprintf("ChannelMode(%d)", int(m))
}

// Channels returns the number of channels per pixel.
func (m ChannelMode) Channels() int {
	switch m {
	case RGB:
		return 3
	case RGBDepth:
		return 4
	}
	return 1
}

// ParseChannelMode maps a configuration value onto a ChannelMode.
func ParseChannelMode(s string) (ChannelMode, error) {
	switch s {
	case "geometry":
		return Geometry, nil
	case "RGB":
		return RGB, nil
	case "depth":
		return Depth, nil
	case "RGB+depth":
		return RGBDepth, nil
	}
	return 0, fmt.Errorf("unknown image channel mode %q", s)
}

// Image is one rendered view. Pixels are float32 in [0,1], channel
// interleaved, rows top-down.
type Image struct {
	Width, Height int
	Mode          ChannelMode
	Pix           []float32
	// Coverage is the number of pixels that show the mesh.
	Coverage int
	// View is the transform that produced the image. Detectors that only look
	// at pixels ignore it.
	View *camera.ViewTransform
}

// NewImage allocates a blank image.
func NewImage(width, height int, mode ChannelMode) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Mode:   mode,
		Pix:    make([]float32, width*height*mode.Channels()),
	}
}

// Channels returns the number of channels per pixel.
func (im *Image) Channels() int { return im.Mode.Channels() }

// At returns channel c of pixel (x, y).
func (im *Image) At(x, y, c int) float32 {
	return im.Pix[(y*im.Width+x)*im.Channels()+c]
}

// Set writes channel c of pixel (x, y).
func (im *Image) Set(x, y, c int, v float32) {
	im.Pix[(y*im.Width+x)*im.Channels()+c] = v
}

func to8(v float32) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(float64(v)*255))))
}

// ChannelImage returns one channel as an 8-bit grey image.
func (im *Image) ChannelImage(c int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			g.SetGray(x, y, color.Gray{Y: to8(im.At(x, y, c))})
		}
	}
	return g
}

// ToImage converts the view to an 8-bit image for encoding. Single channel
// modes become grey images; colour modes become opaque RGBA (the depth
// channel of RGB+depth is available through ChannelImage).
func (im *Image) ToImage() image.Image {
	if im.Channels() == 1 {
		return im.ChannelImage(0)
	}
	out := image.NewRGBA(image.Rect(0, 0, im.Width, im.Height))
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			out.SetRGBA(x, y, color.RGBA{
				R: to8(im.At(x, y, 0)),
				G: to8(im.At(x, y, 1)),
				B: to8(im.At(x, y, 2)),
				A: 255,
			})
		}
	}
	return out
}
