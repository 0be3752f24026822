package heatmap

import (
	"math"
	"sort"
)

// ClickSample is one recorded click in page coordinates.
type ClickSample struct {
	X             float64
	Y             float64
	ViewportWidth int
	Count         float64
}

type bucketKey struct {
	column int
	row    int
}

// BuildPoints scales samples from their viewport width to canvasWidth, snaps
// them to square buckets of bucketSize pixels and sums their counts into the
// point value. A sample with a zero Count counts once. The result is ordered
// by row, then column.
func BuildPoints(samples []ClickSample, canvasWidth int, bucketSize int) []Point {
	if len(samples) == 0 {
		return []Point{}
	}
	if bucketSize <= 0 {
		bucketSize = 1
	}

	totals := make(map[bucketKey]float64)
	for _, sample := range samples {
		scale := 1.0
		if sample.ViewportWidth > 0 && canvasWidth > 0 {
			scale = float64(canvasWidth) / float64(sample.ViewportWidth)
		}
		key := bucketKey{
			column: int(math.Floor(sample.X * scale / float64(bucketSize))),
			row:    int(math.Floor(sample.Y * scale / float64(bucketSize))),
		}
		count := sample.Count
		if count <= 0 {
			count = 1
		}
		totals[key] += count
	}

	keys := make([]bucketKey, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(left, right int) bool {
		if keys[left].row != keys[right].row {
			return keys[left].row < keys[right].row
		}
		return keys[left].column < keys[right].column
	})

	halfBucket := float64(bucketSize) / 2
	if bucketSize == 1 {
		halfBucket = 0
	}
	points := make([]Point, 0, len(keys))
	for _, key := range keys {
		points = append(points, Point{
			X:     float64(key.column*bucketSize) + halfBucket,
			Y:     float64(key.row*bucketSize) + halfBucket,
			Value: totals[key],
		})
	}
	return points
}
