package heatmap

import (
	"image"
	"image/color"
)

// DefaultColor is the blob color used when none is configured.
var DefaultColor = color.RGBA{R: 255, G: 0, B: 0, A: 255}

// Renderer paints point sets onto a Surface.
type Renderer struct {
	color  color.RGBA
	radius float64
}

// NewRenderer builds a Renderer using DefaultColor and GradientRadius.
func NewRenderer() *Renderer {
	return &Renderer{color: DefaultColor, radius: GradientRadius}
}

// WithColor overrides the blob color. The alpha channel is ignored.
func (renderer *Renderer) WithColor(blobColor color.RGBA) *Renderer {
	blobColor.A = 255
	renderer.color = blobColor
	return renderer
}

// Render performs one full pass: clear, optional background, then one
// gradient per point in input order. A nil surface is a no-op.
func (renderer *Renderer) Render(surface Surface, points []Point, background image.Image) {
	if surface == nil {
		return
	}
	blobColor, radius := DefaultColor, GradientRadius
	if renderer != nil {
		blobColor, radius = renderer.color, renderer.radius
	}

	surface.Clear()
	if background != nil {
		surface.DrawBackground(background)
	}

	maxValue := MaxValue(points)
	for _, point := range points {
		surface.DrawGradient(Gradient{
			CenterX:     point.X,
			CenterY:     point.Y,
			Radius:      radius,
			Color:       blobColor,
			CenterAlpha: CenterAlpha(Intensity(point.Value, maxValue)),
		})
	}
}
