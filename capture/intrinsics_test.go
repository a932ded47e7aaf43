package capture

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestDeprojectPrincipalPoint(t *testing.T) {
	intr := PinholeIntrinsics{Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}

	v := intr.Deproject(320, 240, 2000)
	test.That(t, v.X, test.ShouldAlmostEqual, 0.0)
	test.That(t, v.Y, test.ShouldAlmostEqual, 0.0)
	test.That(t, v.Z, test.ShouldAlmostEqual, 2000.0)
}

func TestDeprojectOffsetPixel(t *testing.T) {
	intr := PinholeIntrinsics{Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}

	v := intr.Deproject(320+500, 240, 1000)
	test.That(t, v.X, test.ShouldAlmostEqual, 1000.0)
	test.That(t, v.Y, test.ShouldAlmostEqual, 0.0)
}

func TestProjectIsDeprojectInverse(t *testing.T) {
	intr := PinholeIntrinsics{Fx: 500, Fy: 500, Ppx: 320, Ppy: 240}

	v := intr.Deproject(400, 260, 2.0)
	x, y := intr.Project(v)
	test.That(t, x, test.ShouldAlmostEqual, 400.0)
	test.That(t, y, test.ShouldAlmostEqual, 260.0)
}

func TestExtrinsicsToColorIdentityIsTranslationOnly(t *testing.T) {
	ext := Extrinsics{
		R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		T: [3]float64{10, 20, 30},
	}

	v := ext.ToColor(r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, v.X, test.ShouldAlmostEqual, 1.01)
	test.That(t, v.Y, test.ShouldAlmostEqual, 2.02)
	test.That(t, v.Z, test.ShouldAlmostEqual, 3.03)
}
