package pointcloud

import (
	"github.com/golang/geo/r3"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// FilterOutliers removes points whose k-th nearest-neighbour distance
// exceeds maxDistance, keeping vertices and colors in lock-step. It is a
// no-op when k <= 0 or maxDistance <= 0, matching the reference filter's
// early-out, and never mutates its inputs.
func FilterOutliers(vertices []spatialmath.Point3f, colors []spatialmath.RGB, k int, maxDistance float32) ([]spatialmath.Point3f, []spatialmath.RGB) {
	if k <= 0 || maxDistance <= 0 || len(vertices) == 0 {
		return vertices, colors
	}

	points := make([]r3.Vector, len(vertices))
	for i, v := range vertices {
		points[i] = v.Vector()
	}
	tree := BuildKDTree(points)

	thresholdSq := float64(maxDistance) * float64(maxDistance)

	outVertices := make([]spatialmath.Point3f, 0, len(vertices))
	outColors := make([]spatialmath.RGB, 0, len(colors))
	for i, v := range points {
		_, distances := tree.KNN(v, k)
		kth := distances[len(distances)-1]
		if kth > thresholdSq {
			continue
		}
		outVertices = append(outVertices, vertices[i])
		outColors = append(outColors, colors[i])
	}
	return outVertices, outColors
}
