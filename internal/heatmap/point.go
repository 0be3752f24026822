// Package heatmap rasterizes weighted click points into a density overlay.
package heatmap

import "math"

const (
	// GradientRadius is the radius, in canvas pixels, of the blob drawn for each point.
	GradientRadius = 30.0
	// MaxCenterAlpha caps the opacity at the center of the hottest blob.
	MaxCenterAlpha = 0.8

	minimumMaxValue = 1.0
)

// Point is a weighted coordinate in canvas pixel space.
type Point struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Value float64 `json:"value"`
}

// MaxValue returns the batch maximum used for normalization, floored at 1.
func MaxValue(points []Point) float64 {
	maxValue := minimumMaxValue
	for _, point := range points {
		if point.Value > maxValue {
			maxValue = point.Value
		}
	}
	return maxValue
}

// Intensity normalizes value against maxValue and clamps the result to [0,1].
func Intensity(value float64, maxValue float64) float64 {
	if maxValue <= 0 || math.IsNaN(value) || value <= 0 {
		return 0
	}
	return math.Min(1, value/maxValue)
}

// CenterAlpha is the gradient opacity at the center of a blob with the given intensity.
func CenterAlpha(intensity float64) float64 {
	return intensity * MaxCenterAlpha
}
