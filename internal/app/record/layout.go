package record

import (
	"image"
	"math"
)

// PartitionWidth is the width of one vertical slot when n sources share a
// canvas of the given width.
func PartitionWidth(canvasWidth, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(canvasWidth) / float64(n)
}

// Partitions splits canvas into n equal-width vertical slots, left to right.
// Slot edges are rounded so the slots tile the canvas without gaps.
func Partitions(canvas image.Rectangle, n int) []image.Rectangle {
	if n <= 0 {
		return nil
	}
	pw := PartitionWidth(canvas.Dx(), n)
	out := make([]image.Rectangle, n)
	for i := 0; i < n; i++ {
		x0 := canvas.Min.X + int(math.Round(float64(i)*pw))
		x1 := canvas.Min.X + int(math.Round(float64(i+1)*pw))
		out[i] = image.Rect(x0, canvas.Min.Y, x1, canvas.Max.Y)
	}
	return out
}
