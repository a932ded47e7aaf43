package marker

import (
	"testing"

	"go.viam.com/test"
	"gocv.io/x/gocv"
)

// canonicalPentagon is the same shape as normalizedPoints2D, scaled up so
// that truncation to int for the convex-hull check can't collapse distinct
// corners together. Index 0 is the concave (interior) vertex: it sits
// inside the rectangle formed by the other four.
var canonicalPentagon = []gocv.Point2f{
	{X: 0, Y: 100},
	{X: -100, Y: 167},
	{X: -100, Y: -100},
	{X: 100, Y: -100},
	{X: 100, Y: 167},
}

func rotate(pts []gocv.Point2f, shift int) []gocv.Point2f {
	out := make([]gocv.Point2f, len(pts))
	for i := range pts {
		out[i] = pts[(i+shift)%len(pts)]
	}
	return out
}

func TestOrderCornersRotatesConcaveVertexFirst(t *testing.T) {
	input := rotate(canonicalPentagon, 2)

	ordered, ok := orderCorners(input)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, ordered, test.ShouldResemble, canonicalPentagon)
}

func TestOrderCornersRejectsFullyConvexShape(t *testing.T) {
	square := []gocv.Point2f{
		{X: 0, Y: 0},
		{X: 100, Y: 0},
		{X: 100, Y: 100},
		{X: 0, Y: 100},
	}

	_, ok := orderCorners(square)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestPolygonAreaUnitSquare(t *testing.T) {
	square := []gocv.Point2f{
		{X: 0, Y: 0},
		{X: 1, Y: 0},
		{X: 1, Y: 1},
		{X: 0, Y: 1},
	}
	test.That(t, polygonArea(square), test.ShouldAlmostEqual, 1.0)
}

func TestPolygonAreaIsOrientationIndependent(t *testing.T) {
	clockwise := []gocv.Point2f{
		{X: 0, Y: 0},
		{X: 0, Y: 2},
		{X: 2, Y: 2},
		{X: 2, Y: 0},
	}
	test.That(t, polygonArea(clockwise), test.ShouldAlmostEqual, 4.0)
}

func TestDecodeBitsRecoversValidCode(t *testing.T) {
	// Code 1010b = 10, ones=2 (even parity), so the parity bit must be 1.
	vals := []int{1, 0, 1, 0, 0, 1, 0, 1, 1}
	test.That(t, decodeBits(vals), test.ShouldEqual, 10)
}

func TestDecodeBitsRejectsMismatchedInverse(t *testing.T) {
	// vals[0] should be the complement of vals[4]; here both are 1.
	vals := []int{1, 0, 1, 0, 1, 1, 0, 1, 1}
	test.That(t, decodeBits(vals), test.ShouldEqual, -1)
}

func TestDecodeBitsRejectsBadParity(t *testing.T) {
	// Same code bits as the valid case, but the parity bit is flipped.
	vals := []int{1, 0, 1, 0, 0, 1, 0, 1, 0}
	test.That(t, decodeBits(vals), test.ShouldEqual, -1)
}
