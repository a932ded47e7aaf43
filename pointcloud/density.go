package pointcloud

import "math"

// FilterByDensity drops points that land in a sparsely populated cell of a
// coarse voxel grid, the same coarse-bucket population test the capture
// pipeline runs after voxel de-duplication and before KNN outlier rejection
// (§4.C8 step 5): a point survives only if its cell holds at least minCount
// points overall.
func FilterByDensity(points []XYZPoint, voxelSize float64, minCount int) []bool {
	if len(points) == 0 {
		return nil
	}

	minX, minY, minZ := points[0].X, points[0].Y, points[0].Z
	for _, p := range points {
		minX = math.Min(minX, p.X)
		minY = math.Min(minY, p.Y)
		minZ = math.Min(minZ, p.Z)
	}

	type cell struct{ x, y, z int }
	counts := make(map[cell]int, len(points))
	cellOf := make([]cell, len(points))

	for i, p := range points {
		c := cell{
			x: int(math.Floor((p.X - minX) / voxelSize)),
			y: int(math.Floor((p.Y - minY) / voxelSize)),
			z: int(math.Floor((p.Z - minZ) / voxelSize)),
		}
		cellOf[i] = c
		counts[c]++
	}

	keep := make([]bool, len(points))
	for i, c := range cellOf {
		keep[i] = counts[c] >= minCount
	}
	return keep
}

// XYZPoint is the minimal coordinate triple FilterByDensity needs; callers
// project their own point type down to it rather than this package taking a
// dependency on spatialmath.Point3f for a single helper.
type XYZPoint struct {
	X, Y, Z float64
}

// XYZ constructs an XYZPoint, used by callers projecting their own point
// representation for FilterByDensity.
func XYZ(x, y, z float64) XYZPoint {
	return XYZPoint{X: x, Y: y, Z: z}
}
