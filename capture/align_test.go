package capture

import (
	"testing"

	"go.viam.com/test"
	"gocv.io/x/gocv"
)

func identitySettings() Settings {
	intr := PinholeIntrinsics{Fx: 100, Fy: 100, Ppx: 2, Ppy: 2}
	return Settings{
		Intrinsics:      intr,
		ColorIntrinsics: intr,
		Extrinsics:      Extrinsics{R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
	}
}

func TestBilinearSampleAveragesFourNeighbors(t *testing.T) {
	mat := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3)
	defer mat.Close()
	mat.SetUCharAt(0, 0*3+0, 0)
	mat.SetUCharAt(0, 1*3+0, 100)
	mat.SetUCharAt(1, 0*3+0, 0)
	mat.SetUCharAt(1, 1*3+0, 100)

	c := bilinearSample(mat, 0.5, 0.5, 2, 2)
	test.That(t, c.B, test.ShouldEqual, uint8(50))
}

func TestBilinearSampleClampsToBorder(t *testing.T) {
	mat := gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3)
	defer mat.Close()
	mat.SetTo(gocv.NewScalar(10, 20, 30, 0))

	c := bilinearSample(mat, -5, 50, 2, 2)
	test.That(t, c.B, test.ShouldEqual, uint8(10))
	test.That(t, c.G, test.ShouldEqual, uint8(20))
	test.That(t, c.R, test.ShouldEqual, uint8(30))
}

func TestAlignDepthToColorIdentityPreservesDepthAtSamePixel(t *testing.T) {
	depth := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV16U)
	defer depth.Close()
	depth.SetUShortAt(2, 2, 1000)

	color := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer color.Close()
	color.SetTo(gocv.NewScalar(5, 6, 7, 0))

	frame := Frame{Color: color, Depth: depth}
	alignedDepth, alignedColor := alignDepthToColor(frame, identitySettings())

	idx := 2*4 + 2
	test.That(t, alignedDepth[idx], test.ShouldEqual, 1000.0)
	test.That(t, alignedColor[idx].B, test.ShouldEqual, uint8(5))
}

func TestAlignDepthToColorDropsPointsBehindColorCamera(t *testing.T) {
	depth := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV16U)
	defer depth.Close()
	depth.SetUShortAt(2, 2, 1000)

	color := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer color.Close()

	s := identitySettings()
	// A translation that pushes every point behind the color camera means
	// nothing survives the Z <= 0 check.
	s.Extrinsics.T = [3]float64{0, 0, -1_000_000}

	frame := Frame{Color: color, Depth: depth}
	alignedDepth, _ := alignDepthToColor(frame, s)

	for _, d := range alignedDepth {
		test.That(t, d, test.ShouldEqual, 0.0)
	}
}

func TestAlignDepthToColorKeepsSmallerDepthOnCollision(t *testing.T) {
	depth := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV16U)
	defer depth.Close()
	depth.SetUShortAt(1, 1, 2000)
	depth.SetUShortAt(3, 3, 500)

	color := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3)
	defer color.Close()

	// A tiny color focal length collapses every projected pixel onto the
	// principal point, forcing both source pixels to collide on one
	// aligned cell.
	s := Settings{
		Intrinsics:      PinholeIntrinsics{Fx: 100, Fy: 100, Ppx: 2, Ppy: 2},
		ColorIntrinsics: PinholeIntrinsics{Fx: 0.001, Fy: 0.001, Ppx: 2, Ppy: 2},
		Extrinsics:      Extrinsics{R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}},
	}

	frame := Frame{Color: color, Depth: depth}
	alignedDepth, _ := alignDepthToColor(frame, s)

	idx := 2*4 + 2
	test.That(t, alignedDepth[idx], test.ShouldEqual, 500.0)
}
