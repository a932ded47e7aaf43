// Package marker implements the fiducial marker detector used by the
// calibration engine (§4.C4): threshold, contour, and homography-based
// detection of the pentagonal calibration markers, plus their 4-bit-plus-
// parity code decoding.
package marker

import (
	"image"

	"gocv.io/x/gocv"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// Number of corners a valid marker contour must approximate to.
const numCorners = 5

// Marker size and contour-area bounds, thresholds, and code geometry, all
// carried over unchanged from the reference detector.
const (
	minContourArea    = 100
	maxContourArea    = 1_000_000_000
	colorBitThreshold = 120
	approxPolyCoeff   = 0.12

	normalizedMarkerSize   = 2.0
	normalizedBorderSize   = 0.4
	warpedResolutionPerUnit = 50
	bitGridSize            = 3
	codeBitThreshold       = 128
)

// normalizedPoints2D are the marker's corner shape in normalized 2-D space,
// used to build the homography that warps a detected marker to a
// front-facing square for code extraction. Index 0 is the concave
// (bottom-centre) corner.
var normalizedPoints2D = []gocv.Point2f{
	{X: 0.0, Y: 1.0},
	{X: -1.0, Y: 1.6667},
	{X: -1.0, Y: -1.0},
	{X: 1.0, Y: -1.0},
	{X: 1.0, Y: 1.6667},
}

// LocalPoints3D are the same corners' positions in local marker space, used
// by the calibration engine to build 3-D correspondences once a marker's
// pixel corners are matched against a depth frame.
var LocalPoints3D = []spatialmath.Point3f{
	{X: 0.0, Y: -1.0, Z: 0.0},
	{X: -1.0, Y: -1.6667, Z: 0.0},
	{X: -1.0, Y: 1.0, Z: 0.0},
	{X: 1.0, Y: 1.0, Z: 0.0},
	{X: 1.0, Y: -1.6667, Z: 0.0},
}

// Detection is a marker found in a color frame: its decoded numeric code
// and its five corners in pixel space, ordered to match LocalPoints3D.
type Detection struct {
	Code    int
	Corners []gocv.Point2f
}

// Detect finds every marker-shaped contour in a BGR color frame and returns
// the one with the largest corner-polygon area, mirroring the reference
// detector's "keep the biggest" selection (§4.C4).
func Detect(frame gocv.Mat) (Detection, bool) {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	gocv.Threshold(gray, &gray, colorBitThreshold, 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(gray, gocv.RetrievalCComp, gocv.ChainApproxNone)
	defer contours.Close()

	var best Detection
	bestArea := -1.0
	found := false

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < minContourArea || area > maxContourArea {
			continue
		}

		approx := gocv.ApproxPolyDP(contour, approxPolyCoeff*sqrtF(area), true)
		if approx.Size() != numCorners {
			approx.Close()
			continue
		}
		if gocv.IsContourConvex(approx) {
			approx.Close()
			continue
		}

		corners := pointsToFloat(approx)
		approx.Close()

		ordered, ok := orderCorners(corners)
		if !ok {
			continue
		}

		code := decodeCode(gray, normalizedPoints2D, ordered)
		if code < 0 {
			reversed := reverseTail(ordered)
			code = decodeCode(gray, normalizedPoints2D, reversed)
			if code < 0 {
				continue
			}
			ordered = reversed
		}

		area = polygonArea(ordered)
		if !found || area > bestArea {
			found = true
			bestArea = area
			best = Detection{Code: code, Corners: ordered}
		}
	}

	return best, found
}

func sqrtF(v float64) float64 {
	if v < 0 {
		return 0
	}
	// math.Sqrt inlined to keep this file's only import surface gocv/image.
	x := v
	for i := 0; i < 30; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func pointsToFloat(pv gocv.PointVector) []gocv.Point2f {
	pts := pv.ToPoints()
	out := make([]gocv.Point2f, len(pts))
	for i, p := range pts {
		out[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return out
}

// orderCorners rotates corners so the single concave (non-convex-hull)
// point comes first, giving every detected marker a consistent winding
// order before code decoding. It fails when the polygon isn't a
// pentagon with exactly one concave vertex, mirroring OrderCorners in
// the reference detector.
func orderCorners(corners []gocv.Point2f) ([]gocv.Point2f, bool) {
	hullPts := make([]gocv.Point, len(corners))
	for i, c := range corners {
		hullPts[i] = gocv.Point{X: int(c.X), Y: int(c.Y)}
	}
	pv := gocv.NewPointVectorFromPoints(hullPts)
	defer pv.Close()

	hullIdx := gocv.NewMat()
	defer hullIdx.Close()
	gocv.ConvexHull(pv, &hullIdx, true, false)

	if hullIdx.Rows() != len(corners)-1 {
		return nil, false
	}

	onHull := make(map[int]bool, hullIdx.Rows())
	for i := 0; i < hullIdx.Rows(); i++ {
		onHull[int(hullIdx.GetIntAt(i, 0))] = true
	}

	concave := -1
	for i := range corners {
		if !onHull[i] {
			concave = i
			break
		}
	}
	if concave == -1 {
		return nil, false
	}

	out := make([]gocv.Point2f, len(corners))
	for i := range corners {
		out[i] = corners[(concave+i)%len(corners)]
	}
	return out, true
}

func reverseTail(corners []gocv.Point2f) []gocv.Point2f {
	out := make([]gocv.Point2f, len(corners))
	out[0] = corners[0]
	for i, j := 1, len(corners)-1; i < len(corners); i, j = i+1, j-1 {
		out[i] = corners[j]
	}
	return out
}

func polygonArea(pts []gocv.Point2f) float64 {
	var area float64
	n := len(pts)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		area += float64(pts[i].X)*float64(pts[j].Y) - float64(pts[j].X)*float64(pts[i].Y)
	}
	if area < 0 {
		area = -area
	}
	return area / 2
}

// decodeCode warps the marker to a front-facing square via the homography
// between the detected corners and the normalized marker shape, then reads
// its 3x3 bit grid: the first 4 cells hold the code, the next 4 the same
// code inverted (any code cell equal to its inverted cell invalidates the
// read), and the 9th
// cell is a parity bit over the ones-count of the code bits. Returns -1 on
// any validation failure, exactly as the reference GetCode does.
func decodeCode(gray gocv.Mat, normalized, corners []gocv.Point2f) int {
	interior := normalizedMarkerSize - 2*normalizedBorderSize

	mapped := make([]gocv.Point2f, len(normalized))
	for i, p := range normalized {
		mapped[i] = gocv.Point2f{
			X: (p.X - float32(normalizedBorderSize) + 1) * warpedResolutionPerUnit,
			Y: (p.Y - float32(normalizedBorderSize) + 1) * warpedResolutionPerUnit,
		}
	}

	srcPV := gocv.NewPoint2fVectorFromPoints(corners)
	defer srcPV.Close()
	dstPV := gocv.NewPoint2fVectorFromPoints(mapped)
	defer dstPV.Close()

	mask := gocv.NewMat()
	defer mask.Close()
	h := gocv.FindHomography(srcPV, &mask, gocv.HomograpyMethodAllPoints, 3, dstPV)
	defer h.Close()
	if h.Empty() {
		return -1
	}

	side := int(warpedResolutionPerUnit * interior)
	warped := gocv.NewMat()
	defer warped.Close()
	gocv.WarpPerspective(gray, &warped, h, image.Point{X: side, Y: side})

	cellW := warped.Cols() / bitGridSize
	cellH := warped.Rows() / bitGridSize
	cellArea := cellW * cellH
	if cellArea == 0 {
		return -1
	}

	integral := gocv.NewMat()
	defer integral.Close()
	gocv.Integral(warped, &integral, gocv.NewMat(), gocv.NewMat())

	vals := make([]int, bitGridSize*bitGridSize)
	for i := 0; i < bitGridSize; i++ {
		for j := 0; j < bitGridSize; j++ {
			sum := integral.GetIntAt((i+1)*cellW, (j+1)*cellH)
			sum += integral.GetIntAt(i*cellW, j*cellH)
			sum -= integral.GetIntAt((i+1)*cellW, j*cellH)
			sum -= integral.GetIntAt(i*cellW, (j+1)*cellH)

			avg := int(sum) / cellArea
			if avg >= codeBitThreshold {
				vals[j+i*bitGridSize] = 1
			}
		}
	}

	return decodeBits(vals)
}

// decodeBits validates and decodes a row-major 3x3 grid of 0/1 cells (as
// filled by decodeCode): cells 0-3 hold the code, cells 4-7 the same code
// inverted (any pair matching invalidates the read), and cell 8 is a parity
// bit over the ones-count of the code bits. Returns -1 on any validation
// failure, exactly as the reference GetCode does.
func decodeBits(vals []int) int {
	ones := 0
	code := 0
	for i := 0; i < 4; i++ {
		if vals[i] == vals[i+4] {
			return -1
		}
		if vals[i] == 1 {
			code += 1 << (3 - i)
			ones++
		}
	}

	even := ones%2 == 0
	if (even && vals[8] == 0) || (!even && vals[8] == 1) {
		return -1
	}
	return code
}
