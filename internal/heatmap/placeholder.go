package heatmap

import (
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
)

// PlaceholderColor fills the inert frame shown while a background is loading.
var PlaceholderColor = color.RGBA{R: 229, G: 231, B: 235, A: 255}

// Placeholder returns a solid frame of the target dimensions.
func Placeholder(width int, height int) (*image.RGBA, error) {
	surface, surfaceErr := NewRasterSurface(width, height)
	if surfaceErr != nil {
		return nil, surfaceErr
	}
	canvas := surface.Image()
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(PlaceholderColor), image.Point{}, xdraw.Src)
	return canvas, nil
}
