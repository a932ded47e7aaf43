package spatialmath

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestProcrustesIdentity(t *testing.T) {
	// Source and target are the same shape shifted by a fixed offset, so
	// the optimal rotation is the identity and the translation is minus
	// the target's centroid.
	source := []r3.Vector{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1},
	}
	offset := r3.Vector{X: 2, Y: 3, Z: -1}
	target := make([]r3.Vector, len(source))
	for i, s := range source {
		target[i] = s.Add(offset)
	}

	res := Procrustes(source, target)

	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := float32(0)
			if i == j {
				want = 1
			}
			test.That(t, res.R[i][j], test.ShouldAlmostEqual, want, 1e-5)
		}
	}

	var centroid r3.Vector
	for _, v := range target {
		centroid = centroid.Add(v)
	}
	centroid = centroid.Mul(1 / float64(len(target)))
	test.That(t, res.T[0], test.ShouldAlmostEqual, float32(-centroid.X), 1e-4)
	test.That(t, res.T[1], test.ShouldAlmostEqual, float32(-centroid.Y), 1e-4)
	test.That(t, res.T[2], test.ShouldAlmostEqual, float32(-centroid.Z), 1e-4)
}

func TestProcrustesRotation(t *testing.T) {
	// Rotate the source set 90 degrees about Z (x,y,z) -> (-y,x,z) and
	// verify Procrustes recovers that rotation.
	source := []r3.Vector{
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: -1, Y: 0, Z: 0},
		{X: 0, Y: -1, Z: 0},
		{X: 0, Y: 0, Z: 1},
	}
	target := make([]r3.Vector, len(source))
	for i, s := range source {
		target[i] = r3.Vector{X: -s.Y, Y: s.X, Z: s.Z}
	}

	res := Procrustes(source, target)

	// Procrustes solves the row-vector relation source*R ~= target, which
	// under RotateVector's column convention (v' = R*v) means target is
	// recovered from source by the *inverse* rotation, not R itself.
	rotated := InverseRotateVector(source[0].Sub(centroidOf(source)), res.R)
	expected := target[0].Sub(centroidOf(target))
	test.That(t, rotated.X, test.ShouldAlmostEqual, expected.X, 1e-4)
	test.That(t, rotated.Y, test.ShouldAlmostEqual, expected.Y, 1e-4)
	test.That(t, rotated.Z, test.ShouldAlmostEqual, expected.Z, 1e-4)
}

func centroidOf(pts []r3.Vector) r3.Vector {
	var c r3.Vector
	for _, p := range pts {
		c = c.Add(p)
	}
	return c.Mul(1 / float64(len(pts)))
}

func TestInverseRotateRoundTrip(t *testing.T) {
	r := [3][3]float32{
		{0, -1, 0},
		{1, 0, 0},
		{0, 0, 1},
	}
	v := r3.Vector{X: 3, Y: -2, Z: 5}
	rotated := RotateVector(v, r)
	back := InverseRotateVector(rotated, r)
	test.That(t, back.X, test.ShouldAlmostEqual, v.X, 1e-6)
	test.That(t, back.Y, test.ShouldAlmostEqual, v.Y, 1e-6)
	test.That(t, back.Z, test.ShouldAlmostEqual, v.Z, 1e-6)
}
