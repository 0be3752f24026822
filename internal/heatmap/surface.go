package heatmap

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	xdraw "golang.org/x/image/draw"
)

// ErrInvalidDimensions reports a surface requested with a non-positive width or height.
var ErrInvalidDimensions = errors.New("heatmap: invalid surface dimensions")

// Surface is the drawing target of a render pass.
type Surface interface {
	Size() (int, int)
	Clear()
	DrawBackground(background image.Image)
	DrawGradient(gradient Gradient)
}

// Gradient describes one radial blob: opaque Color at the center scaled by
// CenterAlpha, fading linearly to fully transparent at Radius.
type Gradient struct {
	CenterX     float64
	CenterY     float64
	Radius      float64
	Color       color.RGBA
	CenterAlpha float64
}

// AlphaAt returns the gradient opacity at the given canvas coordinate.
func (gradient Gradient) AlphaAt(x float64, y float64) float64 {
	if gradient.Radius <= 0 {
		return 0
	}
	distance := math.Hypot(x-gradient.CenterX, y-gradient.CenterY)
	if distance >= gradient.Radius {
		return 0
	}
	return gradient.CenterAlpha * (1 - distance/gradient.Radius)
}

// Bounds returns the pixel rectangle the gradient can touch.
func (gradient Gradient) Bounds() image.Rectangle {
	return image.Rect(
		int(math.Floor(gradient.CenterX-gradient.Radius)),
		int(math.Floor(gradient.CenterY-gradient.Radius)),
		int(math.Ceil(gradient.CenterX+gradient.Radius))+1,
		int(math.Ceil(gradient.CenterY+gradient.Radius))+1,
	)
}

// gradientImage adapts a Gradient to image.Image so it can be composited with draw.Over.
type gradientImage struct {
	gradient Gradient
	bounds   image.Rectangle
}

func (source gradientImage) ColorModel() color.Model {
	return color.NRGBAModel
}

func (source gradientImage) Bounds() image.Rectangle {
	return source.bounds
}

func (source gradientImage) At(x int, y int) color.Color {
	alpha := source.gradient.AlphaAt(float64(x), float64(y))
	return color.NRGBA{
		R: source.gradient.Color.R,
		G: source.gradient.Color.G,
		B: source.gradient.Color.B,
		A: uint8(math.Round(clampUnit(alpha) * 255)),
	}
}

// RasterSurface is an in-memory RGBA Surface.
type RasterSurface struct {
	canvas *image.RGBA
}

// NewRasterSurface allocates a transparent surface of the given dimensions.
func NewRasterSurface(width int, height int) (*RasterSurface, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	return &RasterSurface{canvas: image.NewRGBA(image.Rect(0, 0, width, height))}, nil
}

// Size returns the surface width and height.
func (surface *RasterSurface) Size() (int, int) {
	bounds := surface.canvas.Bounds()
	return bounds.Dx(), bounds.Dy()
}

// Clear resets every pixel to transparent.
func (surface *RasterSurface) Clear() {
	xdraw.Draw(surface.canvas, surface.canvas.Bounds(), image.Transparent, image.Point{}, xdraw.Src)
}

// DrawBackground scales background to fill the whole surface.
func (surface *RasterSurface) DrawBackground(background image.Image) {
	if background == nil {
		return
	}
	xdraw.BiLinear.Scale(surface.canvas, surface.canvas.Bounds(), background, background.Bounds(), xdraw.Over, nil)
}

// DrawGradient composites gradient over the current contents.
func (surface *RasterSurface) DrawGradient(gradient Gradient) {
	target := gradient.Bounds().Intersect(surface.canvas.Bounds())
	if target.Empty() {
		return
	}
	source := gradientImage{gradient: gradient, bounds: target}
	xdraw.Draw(surface.canvas, target, source, target.Min, xdraw.Over)
}

// Image exposes the backing raster.
func (surface *RasterSurface) Image() *image.RGBA {
	return surface.canvas
}

// Snapshot returns a copy of the backing raster.
func (surface *RasterSurface) Snapshot() *image.RGBA {
	copied := image.NewRGBA(surface.canvas.Bounds())
	copy(copied.Pix, surface.canvas.Pix)
	return copied
}

// EncodePNG writes the surface as a PNG image.
func (surface *RasterSurface) EncodePNG(writer io.Writer) error {
	return png.Encode(writer, surface.canvas)
}

func clampUnit(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}
