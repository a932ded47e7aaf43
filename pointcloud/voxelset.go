// Package pointcloud implements the geometric building blocks shared by the
// capture pipeline and coordinator: a fixed-grid voxel occupancy set, a
// static KD-tree with k-nearest-neighbour queries, a KNN-distance outlier
// filter, and Iterative Closest Point registration.
package pointcloud

import "math"

// VoxelSet is a fixed cubic occupancy grid centred at (centerX, centerY,
// centerZ) with side 2*halfRange and cell size voxelSize. It answers a
// single question in O(1): "has a point already landed in this cell?" —
// used for de-duplicating a camera's own frame (§4.C8 step 5). Density
// filtering (FilterByDensity) keeps its own map of coarse cells instead.
type VoxelSet struct {
	voxelSize            float64
	minX, minY, minZ     float64
	gridX, gridY, gridZ  int
	occupied             []bool
}

// NewVoxelSet builds a voxel set covering [center-halfRange,
// center+halfRange] on every axis with the given cell size.
func NewVoxelSet(voxelSize, centerX, centerY, centerZ, halfRange float64) *VoxelSet {
	gridSize := int(math.Ceil((halfRange * 2) / voxelSize))
	if gridSize < 1 {
		gridSize = 1
	}
	return &VoxelSet{
		voxelSize: voxelSize,
		minX:      centerX - halfRange,
		minY:      centerY - halfRange,
		minZ:      centerZ - halfRange,
		gridX:     gridSize,
		gridY:     gridSize,
		gridZ:     gridSize,
		occupied:  make([]bool, gridSize*gridSize*gridSize),
	}
}

// Reset clears every cell back to unoccupied.
func (v *VoxelSet) Reset() {
	for i := range v.occupied {
		v.occupied[i] = false
	}
}

// Insert marks the cell containing (x,y,z) as occupied and reports whether
// it was previously empty. Points outside the grid's bounds always return
// false without modifying any state.
func (v *VoxelSet) Insert(x, y, z float64) bool {
	ix := int(math.Floor((x - v.minX) / v.voxelSize))
	iy := int(math.Floor((y - v.minY) / v.voxelSize))
	iz := int(math.Floor((z - v.minZ) / v.voxelSize))

	if ix < 0 || iy < 0 || iz < 0 || ix >= v.gridX || iy >= v.gridY || iz >= v.gridZ {
		return false
	}

	idx := v.index(ix, iy, iz)
	if v.occupied[idx] {
		return false
	}
	v.occupied[idx] = true
	return true
}

func (v *VoxelSet) index(ix, iy, iz int) int {
	return iz*v.gridY*v.gridX + iy*v.gridX + ix
}
