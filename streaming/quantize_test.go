package streaming

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"

	"go.viam.com/test"

	"github.com/rarchambault/Holoportation-2025-2026/logging"
	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

func TestScaleClampsToLowerBound(t *testing.T) {
	// A huge point count drives the log term negative enough to hit the
	// 400 floor.
	s := Scale(1_000_000_000, 0.001)
	test.That(t, s, test.ShouldEqual, uint16(400))
}

func TestScaleClampsToUpperBound(t *testing.T) {
	// minPrecision large enough that 255/minPrecision undercuts the
	// formula's own maximum (reached at pointCount 1), so the upper
	// clamp is what actually binds.
	s := Scale(1, 0.05)
	test.That(t, s, test.ShouldEqual, uint16(255.0/0.05))
}

func TestScaleDecreasesAsPointCountGrows(t *testing.T) {
	sparse := Scale(100, 0.01)
	dense := Scale(1_000_000, 0.01)
	test.That(t, dense, test.ShouldBeLessThan, sparse)
}

func TestQuantizeDropsPointsOutsideHalfRange(t *testing.T) {
	halfRange := 1.0
	vertices := []spatialmath.Point3f{
		{X: 0, Y: 0, Z: 1},
		{X: 5, Y: 0, Z: 1},
	}
	colors := []spatialmath.RGB{{R: 1}, {R: 2}}

	out := Quantize(vertices, colors, 400, halfRange)
	test.That(t, len(out), test.ShouldEqual, 1)
	test.That(t, out[0].Color, test.ShouldResemble, colors[0])
}

func TestQuantizeDeduplicatesSameCell(t *testing.T) {
	halfRange := 1.0
	vertices := []spatialmath.Point3f{
		{X: 0, Y: 0, Z: 1},
		{X: 0.0001, Y: 0.0001, Z: 1.0001},
	}
	colors := []spatialmath.RGB{{R: 1}, {R: 2}}

	out := Quantize(vertices, colors, 400, halfRange)
	test.That(t, len(out), test.ShouldEqual, 1)
	// First occurrence's color wins the collision.
	test.That(t, out[0].Color, test.ShouldResemble, colors[0])
}

func TestQuantizeAxisClampsToByteRange(t *testing.T) {
	test.That(t, quantizeAxis(-100, 0, 1, 400), test.ShouldEqual, byte(0))
	test.That(t, quantizeAxis(100, 0, 1, 400), test.ShouldEqual, byte(255))
}

func TestFilterErrorSwallowsExpectedConnectionErrors(t *testing.T) {
	logger := logging.NewLogger("test")
	closed := make(chan struct{})
	close(closed)

	test.That(t, filterError(context.Background(), nil, closed, logger), test.ShouldBeNil)
	test.That(t, filterError(context.Background(), io.EOF, closed, logger), test.ShouldBeNil)
	test.That(t, filterError(context.Background(), context.Canceled, closed, logger), test.ShouldBeNil)
	test.That(t, filterError(context.Background(), net.ErrClosed, closed, logger), test.ShouldBeNil)
}

func TestFilterErrorPassesThroughUnrecognisedErrors(t *testing.T) {
	logger := logging.NewLogger("test")
	closed := make(chan struct{})

	err := errors.New("boom")
	test.That(t, filterError(context.Background(), err, closed, logger), test.ShouldEqual, err)
}
