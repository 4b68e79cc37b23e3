package tracker

import (
	"math"

	"github.com/khaledhikmat/vs-overlay/model"
)

const (
	iouWeight    = 0.6
	centerWeight = 0.35
	shapeWeight  = 0.05

	// Center distance is normalized by this multiple of the union box diagonal.
	centerNormFactor = 1.5
)

// Similarity scores how likely det and box describe the same entity. It only looks at
// geometry, never at class labels.
func Similarity(det, box model.BBox) float64 {
	return iouWeight*det.IoU(box) +
		centerWeight*centerSimilarity(det, box) +
		shapeWeight*shapeSimilarity(det, box)
}

func centerDistance(a, b model.BBox) float64 {
	ax, ay := a.Center()
	bx, by := b.Center()
	return math.Hypot(ax-bx, ay-by)
}

func centerSimilarity(a, b model.BBox) float64 {
	diag := a.Union(b).Diagonal() * centerNormFactor
	if diag <= 0 {
		return 0
	}
	return 1 - clamp01(centerDistance(a, b)/diag)
}

func shapeSimilarity(a, b model.BBox) float64 {
	dw := relDelta(a.Width(), b.Width())
	dh := relDelta(a.Height(), b.Height())
	return clamp01(1 - (dw+dh)/2)
}

func relDelta(x, y float64) float64 {
	m := math.Max(math.Abs(x), math.Abs(y))
	if m == 0 {
		return 0
	}
	return math.Abs(x-y) / m
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
