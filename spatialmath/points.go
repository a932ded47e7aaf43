// Package spatialmath provides the point, colour and rigid-transform types
// shared by the capture pipeline, calibration engine and streaming servers,
// along with the Procrustes rigid-alignment routine used by calibration.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Point3f is a metric point in either camera- or world-space, depending on
// the pipeline stage that produced it. Invalid marks a point that carries no
// real depth sample (e.g. a zero-depth pixel) and should be treated as a
// hole rather than a sample at the origin.
type Point3f struct {
	X, Y, Z float32
	Invalid bool
}

// Vector returns the point as a float64 r3.Vector for use in linear algebra
// routines (KD-tree, ICP, Procrustes) that need double precision headroom.
func (p Point3f) Vector() r3.Vector {
	return r3.Vector{X: float64(p.X), Y: float64(p.Y), Z: float64(p.Z)}
}

// Point3fFromVector builds a valid Point3f from a float64 vector.
func Point3fFromVector(v r3.Vector) Point3f {
	return Point3f{X: float32(v.X), Y: float32(v.Y), Z: float32(v.Z)}
}

// Point3s is the millimetre-quantised, lossy short representation of a
// Point3f used to transport finalised clouds within the process (and to
// disk via the frame codec).
type Point3s struct {
	X, Y, Z int16
}

// ToPoint3s converts a metric point to its millimetre-rounded short form.
func (p Point3f) ToPoint3s() Point3s {
	return Point3s{
		X: roundToInt16(float64(p.X) * 1000),
		Y: roundToInt16(float64(p.Y) * 1000),
		Z: roundToInt16(float64(p.Z) * 1000),
	}
}

func roundToInt16(v float64) int16 {
	r := math.Round(v)
	if r > math.MaxInt16 {
		return math.MaxInt16
	}
	if r < math.MinInt16 {
		return math.MinInt16
	}
	return int16(r)
}

// ToPoint3f expands a millimetre short point back to a metric float point.
func (p Point3s) ToPoint3f() Point3f {
	return Point3f{X: float32(p.X) / 1000, Y: float32(p.Y) / 1000, Z: float32(p.Z) / 1000}
}

// RGB is an 8-bit colour triplet. The field order is fixed to match the
// byte layout mandated by the wire and recording-file formats (§3, §6):
// a serialised RGB value is exactly the three bytes B, G, R in that order,
// and this struct's field order mirrors that layout so binary.Write/Read
// (or a raw memory cast) round-trips it without reordering.
type RGB struct {
	B, G, R byte
}
