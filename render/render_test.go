package render

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

func TestPointSizeMatchesFormula(t *testing.T) {
	scale := uint16(500)
	precision := 1.0 / 500.0
	want := 170*precision*precision + 0.8*precision + 0.002

	test.That(t, PointSize(scale), test.ShouldAlmostEqual, want, 1e-9)
}

func TestBillboardProducesSixVerticesCenteredOnPoint(t *testing.T) {
	center := r3.Vector{X: 1, Y: 2, Z: 3}
	color := spatialmath.RGB{R: 1, G: 2, B: 3}
	right := r3.Vector{X: 1, Y: 0, Z: 0}
	up := r3.Vector{X: 0, Y: 1, Z: 0}

	verts := Billboard(center, color, 0.1, right, up)
	test.That(t, len(verts), test.ShouldEqual, 6)

	var sum r3.Vector
	for _, v := range verts {
		sum = sum.Add(v.Position)
		test.That(t, v.Color, test.ShouldResemble, color)
	}
	avg := sum.Mul(1.0 / 6.0)
	test.That(t, avg.X, test.ShouldAlmostEqual, center.X, 1e-9)
	test.That(t, avg.Y, test.ShouldAlmostEqual, center.Y, 1e-9)
	test.That(t, avg.Z, test.ShouldAlmostEqual, center.Z, 1e-9)
}

func TestDocumentQuadSizeClampsToMinimum(t *testing.T) {
	w, h := DocumentQuadSize(1, 1)
	longest := w
	if h > longest {
		longest = h
	}
	test.That(t, longest, test.ShouldAlmostEqual, MinDocumentSize, 1e-9)
}

func TestDocumentQuadSizeClampsToMaximum(t *testing.T) {
	w, h := DocumentQuadSize(100000, 1000)
	longest := w
	if h > longest {
		longest = h
	}
	test.That(t, longest, test.ShouldAlmostEqual, MaxDocumentSize, 1e-9)
}
