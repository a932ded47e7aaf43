package spatialmath

import "github.com/golang/geo/r3"

// AffineTransform is a rigid rotation+translation. It is used under two
// distinct conventions in this system (only the calibration-convention
// transform is persisted, as calibration.State's WorldR/WorldT; no
// pose-convention transform is saved):
//
//   - the calibration convention: v' = R*(v+T). Translation is applied in
//     the pre-rotation (camera) frame before rotating into world space.
//   - the pose convention: v' = R*v + T, used when composing an
//     already-world-space camera pose (e.g. accumulating ICP refinement
//     updates).
//
// Callers must pick the matching Apply* method for the convention their
// transform was produced under.
type AffineTransform struct {
	R [3][3]float32
	T [3]float32
}

// Identity returns the identity affine transform (R=I, T=0).
func Identity() AffineTransform {
	var t AffineTransform
	t.R[0][0], t.R[1][1], t.R[2][2] = 1, 1, 1
	return t
}

// ApplyCalibration applies v' = R*(v+T), the convention used by the capture
// pipeline when placing a calibrated camera's points into world space.
func (t AffineTransform) ApplyCalibration(v r3.Vector) r3.Vector {
	return RotateVector(v.Add(vec(t.T)), t.R)
}

// ApplyPose applies v' = R*v + T, the convention used for a camera pose
// expressed directly in world space.
func (t AffineTransform) ApplyPose(v r3.Vector) r3.Vector {
	return RotateVector(v, t.R).Add(vec(t.T))
}

func vec(a [3]float32) r3.Vector {
	return r3.Vector{X: float64(a[0]), Y: float64(a[1]), Z: float64(a[2])}
}

func toArray(v r3.Vector) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// RotateVector applies v' = R*v for a row-major 3x3 rotation matrix.
func RotateVector(v r3.Vector, r [3][3]float32) r3.Vector {
	return r3.Vector{
		X: float64(r[0][0])*v.X + float64(r[0][1])*v.Y + float64(r[0][2])*v.Z,
		Y: float64(r[1][0])*v.X + float64(r[1][1])*v.Y + float64(r[1][2])*v.Z,
		Z: float64(r[2][0])*v.X + float64(r[2][1])*v.Y + float64(r[2][2])*v.Z,
	}
}

// InverseRotateVector applies v' = R^T*v. For rotation matrices, the
// transpose is the inverse, so this is the un-rotate operation.
func InverseRotateVector(v r3.Vector, r [3][3]float32) r3.Vector {
	return r3.Vector{
		X: float64(r[0][0])*v.X + float64(r[1][0])*v.Y + float64(r[2][0])*v.Z,
		Y: float64(r[0][1])*v.X + float64(r[1][1])*v.Y + float64(r[2][1])*v.Z,
		Z: float64(r[0][2])*v.X + float64(r[1][2])*v.Y + float64(r[2][2])*v.Z,
	}
}

// MulRotation composes two row-major rotation matrices as a*b.
func MulRotation(a, b [3][3]float32) [3][3]float32 {
	var out [3][3]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float32
			for k := 0; k < 3; k++ {
				sum += a[i][k] * b[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// TransposeRotation returns the transpose of a row-major rotation matrix.
func TransposeRotation(r [3][3]float32) [3][3]float32 {
	var out [3][3]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r[j][i]
		}
	}
	return out
}
