package capture

import (
	"math"

	"gocv.io/x/gocv"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// alignDepthToColor implements §4.C8 step 3: every depth pixel is
// back-projected into depth-camera space, carried into color-camera space
// via the depth→color extrinsic, and projected onto the color sensor. The
// result is resampled onto the depth sensor's own pixel grid, so the rest
// of the pipeline can keep working in depth-resolution buffers: a
// projection that lands on an aligned pixel already claimed by a nearer
// source point loses (the smaller depth survives), and a point that lands
// behind the color camera (Z <= 0) or off either sensor is left as a zero
// vertex with black color, exactly like an invalid source depth.
func alignDepthToColor(frame Frame, s Settings) ([]float64, []spatialmath.RGB) {
	depthW, depthH := frame.Depth.Cols(), frame.Depth.Rows()
	colorW, colorH := frame.Color.Cols(), frame.Color.Rows()

	alignedDepth := make([]float64, depthW*depthH)
	alignedColor := make([]spatialmath.RGB, depthW*depthH)

	if colorW == 0 || colorH == 0 {
		return alignedDepth, alignedColor
	}

	scaleX := float64(depthW) / float64(colorW)
	scaleY := float64(depthH) / float64(colorH)

	for v := 0; v < depthH; v++ {
		for u := 0; u < depthW; u++ {
			d := float64(frame.Depth.GetUShortAt(v, u))
			if d <= 0 {
				continue
			}

			depthPoint := s.Intrinsics.Deproject(float64(u), float64(v), d/1000.0)
			colorPoint := s.Extrinsics.ToColor(depthPoint)
			if colorPoint.Z <= 0 {
				continue
			}

			px, py := s.ColorIntrinsics.Project(colorPoint)
			alignedU := int(math.Round(px * scaleX))
			alignedV := int(math.Round(py * scaleY))
			if alignedU < 0 || alignedV < 0 || alignedU >= depthW || alignedV >= depthH {
				continue
			}

			idx := alignedV*depthW + alignedU
			if alignedDepth[idx] != 0 && alignedDepth[idx] <= d {
				continue
			}
			alignedDepth[idx] = d
			alignedColor[idx] = bilinearSample(frame.Color, px, py, colorW, colorH)
		}
	}
	return alignedDepth, alignedColor
}

// bilinearSample reads a bilinearly interpolated BGR pixel from mat at a
// fractional position, clamping the sample position to the image border.
func bilinearSample(mat gocv.Mat, x, y float64, width, height int) spatialmath.RGB {
	x = math.Max(0, math.Min(x, float64(width-1)))
	y = math.Max(0, math.Min(y, float64(height-1)))

	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= width {
		x1 = width - 1
	}
	if y1 >= height {
		y1 = height - 1
	}
	fx, fy := x-float64(x0), y-float64(y0)

	c00 := mat.GetVecbAt(y0, x0)
	c10 := mat.GetVecbAt(y0, x1)
	c01 := mat.GetVecbAt(y1, x0)
	c11 := mat.GetVecbAt(y1, x1)

	blend := func(channel int) byte {
		top := float64(c00[channel])*(1-fx) + float64(c10[channel])*fx
		bottom := float64(c01[channel])*(1-fx) + float64(c11[channel])*fx
		return byte(math.Round(top*(1-fy) + bottom*fy))
	}

	return spatialmath.RGB{B: blend(0), G: blend(1), R: blend(2)}
}
