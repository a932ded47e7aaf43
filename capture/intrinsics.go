package capture

import "github.com/golang/geo/r3"

// PinholeIntrinsics is a sensor's pinhole camera model: focal lengths and
// principal point, in pixels. The formulas mirror
// PinholeCameraIntrinsics.PixelToPoint from the teacher's camera transform
// package; a lightweight copy is kept here rather than importing that
// package's rimage.Image/DepthMap machinery, which this project has no
// other use for. A pipeline holds one for its depth sensor and one for its
// color sensor, since the two generally differ (§4.C8 step 3).
type PinholeIntrinsics struct {
	Fx, Fy   float64
	Ppx, Ppy float64
}

// Deproject converts a pixel coordinate with a depth value (in the same
// linear units as the intrinsics) into a camera-space 3-D point.
func (p PinholeIntrinsics) Deproject(x, y, z float64) r3.Vector {
	xOverZ := (x - p.Ppx) / p.Fx
	yOverZ := (y - p.Ppy) / p.Fy
	return r3.Vector{X: xOverZ * z, Y: yOverZ * z, Z: z}
}

// Project maps a camera-space 3-D point onto this sensor's pixel plane. The
// caller must check Z first; a point behind the camera has no valid
// projection.
func (p PinholeIntrinsics) Project(v r3.Vector) (x, y float64) {
	x = p.Fx*v.X/v.Z + p.Ppx
	y = p.Fy*v.Y/v.Z + p.Ppy
	return x, y
}

// Extrinsics is the rigid transform from the depth sensor's frame to the
// color sensor's frame, as reported by the camera SDK: a rotation and a
// translation in millimetres (§3 "Extrinsics (depth→color)").
type Extrinsics struct {
	R [3][3]float64
	T [3]float64
}

// ToColor rotates and translates a depth-space point (metres) into the
// color camera's coordinate frame.
func (e Extrinsics) ToColor(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: e.R[0][0]*v.X + e.R[0][1]*v.Y + e.R[0][2]*v.Z + e.T[0]/1000.0,
		Y: e.R[1][0]*v.X + e.R[1][1]*v.Y + e.R[1][2]*v.Z + e.T[1]/1000.0,
		Z: e.R[2][0]*v.X + e.R[2][1]*v.Y + e.R[2][2]*v.Z + e.T[2]/1000.0,
	}
}
