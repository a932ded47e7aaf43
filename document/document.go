// Package document implements background-subtraction document detection
// (§4.C7): a learned per-pixel depth background, a foreground mask cleaned
// by morphological open/close, Canny-edge quadrilateral proposals scored by
// area ratio and Laplacian-variance sharpness, run asynchronously against a
// stream of submitted frames.
package document

import (
	"context"
	"image"

	"gocv.io/x/gocv"
	"go.viam.com/utils"

	"github.com/rarchambault/Holoportation-2025-2026/logging"
)

const (
	numRequiredBackgroundSamples = 5
	depthForegroundThreshold     = 15
	minAreaRatio                 = 0.01
	minAspectRatio               = 0.5
	maxAspectRatio               = 2.0
	approxPolyArcCoeff           = 0.018
)

// Result is a detected document: its cropped color pixels, its size in
// pixels, and the score used to rank it against other candidates in the
// same frame.
type Result struct {
	Data   gocv.Mat
	Width  int
	Height int
	Score  float64
}

// Detector runs document detection against a stream of submitted frames on
// its own goroutine, delivering results through a callback exactly as the
// reference detector's dedicated thread does.
type Detector struct {
	logger   logging.Logger
	callback func(Result)

	frames  chan frame
	workers utils.StoppableWorkers

	backgroundSamples []gocv.Mat
	averageBackground gocv.Mat
	haveBackground    bool
}

type frame struct {
	color gocv.Mat
	depth gocv.Mat
}

// New starts a detector whose worker goroutine invokes callback for every
// frame in which a document is found. Call Close to stop the worker and
// release any buffered frame.
func New(logger logging.Logger, callback func(Result)) *Detector {
	d := &Detector{
		logger:   logger,
		callback: callback,
		frames:   make(chan frame, 1),
	}
	d.workers = utils.NewStoppableWorkers(d.run)
	return d
}

// SubmitFrame hands a new color/depth pair to the detector. If a frame is
// already pending, it is dropped in favor of the newest one, matching the
// reference implementation's "latest frame wins" queuing.
func (d *Detector) SubmitFrame(color, depth gocv.Mat) {
	select {
	case <-d.frames:
	default:
	}
	d.frames <- frame{color: color, depth: depth}
}

// Close stops the detector's background goroutine.
func (d *Detector) Close() {
	d.workers.Stop()
}

func (d *Detector) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-d.frames:
			result, found := d.detect(f.color, f.depth)
			if found && d.callback != nil {
				d.callback(result)
			}
		}
	}
}

// detect runs one frame through background learning (if not yet warmed up),
// foreground masking, edge-based quadrilateral proposal, and sharpness
// scoring, mirroring Detect in the reference detector step for step.
func (d *Detector) detect(color, depth gocv.Mat) (Result, bool) {
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(color, &resized, image.Point{X: depth.Cols(), Y: depth.Rows()}, 0, 0, gocv.InterpolationLinear)

	if !d.haveBackground {
		d.backgroundSamples = append(d.backgroundSamples, depth.Clone())
		if len(d.backgroundSamples) < numRequiredBackgroundSamples {
			return Result{}, false
		}
		d.averageBackground = averageDepth(d.backgroundSamples, resized.Size())
		d.haveBackground = true
	}

	foreground := foregroundMask(d.averageBackground, depth, resized.Size())
	defer foreground.Close()

	masked := resized.Clone()
	defer masked.Close()
	masked.SetTo(gocv.NewScalar(0, 0, 0, 0), invertMask(foreground))

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(masked, &gray, gocv.ColorRGBToGray)
	gocv.GaussianBlur(gray, &gray, image.Point{X: 5, Y: 5}, 0, 0, gocv.BorderDefault)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 100, 200)
	gocv.Dilate(edges, &edges, gocv.NewMat())

	contours := gocv.FindContours(edges, gocv.RetrievalList, gocv.ChainApproxSimple)
	defer contours.Close()

	imageArea := float64(resized.Cols() * resized.Rows())

	scaleX := float64(color.Cols()) / float64(resized.Cols())
	scaleY := float64(color.Rows()) / float64(resized.Rows())

	best := Result{}
	found := false

	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		arcLen := gocv.ArcLength(contour, true)
		approx := gocv.ApproxPolyDP(contour, arcLen*approxPolyArcCoeff, true)

		if approx.Size() != 4 || !gocv.IsContourConvex(approx) {
			approx.Close()
			continue
		}

		box := gocv.BoundingRect(approx)
		approx.Close()

		areaRatio := float64(box.Dx()*box.Dy()) / imageArea
		if areaRatio < minAreaRatio {
			continue
		}
		aspect := float64(box.Dx()) / float64(box.Dy())
		if aspect < minAspectRatio || aspect > maxAspectRatio {
			continue
		}

		origBox := image.Rect(
			int(float64(box.Min.X)*scaleX), int(float64(box.Min.Y)*scaleY),
			int(float64(box.Max.X)*scaleX), int(float64(box.Max.Y)*scaleY),
		)
		cropped := color.Region(origBox).Clone()

		score := sharpnessScore(cropped, areaRatio)
		if score > best.Score {
			if found {
				best.Data.Close()
			}
			best = Result{Data: cropped, Width: cropped.Cols(), Height: cropped.Rows(), Score: score}
			found = true
		} else {
			cropped.Close()
		}
	}

	return best, found
}

// meanAbsDiffCompareSize is the fixed resolution both images are resized to
// before comparison, so MeanAbsDiff is meaningful between two crops of
// different sizes.
const meanAbsDiffCompareSize = 64

// MeanAbsDiff returns the mean absolute pixel difference between two color
// images, normalised to [0,1], after resizing both to a common size and
// converting to greyscale. Used by the streaming layer's publish gating
// (§4.C7 rate limiting, condition (b)).
func MeanAbsDiff(a, b gocv.Mat) float64 {
	size := image.Point{X: meanAbsDiffCompareSize, Y: meanAbsDiffCompareSize}

	ra, rb := gocv.NewMat(), gocv.NewMat()
	defer ra.Close()
	defer rb.Close()
	gocv.Resize(a, &ra, size, 0, 0, gocv.InterpolationLinear)
	gocv.Resize(b, &rb, size, 0, 0, gocv.InterpolationLinear)

	ga, gb := gocv.NewMat(), gocv.NewMat()
	defer ga.Close()
	defer gb.Close()
	gocv.CvtColor(ra, &ga, gocv.ColorRGBToGray)
	gocv.CvtColor(rb, &gb, gocv.ColorRGBToGray)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(ga, gb, &diff)

	mean, stddev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(diff, &mean, &stddev)

	return mean.GetDoubleAt(0, 0) / 255.0
}

func averageDepth(samples []gocv.Mat, size image.Point) gocv.Mat {
	sum := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV32F)
	defer sum.Close()
	count := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV32S)
	defer count.Close()

	for _, s := range samples {
		for y := 0; y < size.Y; y++ {
			for x := 0; x < size.X; x++ {
				v := s.GetUShortAt(y, x)
				if v > 0 {
					sum.SetFloatAt(y, x, sum.GetFloatAt(y, x)+float32(v))
					count.SetIntAt(y, x, count.GetIntAt(y, x)+1)
				}
			}
		}
	}

	out := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV16U)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			c := count.GetIntAt(y, x)
			if c == 0 {
				continue
			}
			out.SetUShortAt(y, x, uint16(sum.GetFloatAt(y, x)/float32(c)))
		}
	}
	return out
}

func foregroundMask(background, current gocv.Mat, size image.Point) gocv.Mat {
	mask := gocv.NewMatWithSize(size.Y, size.X, gocv.MatTypeCV8U)
	for y := 0; y < size.Y; y++ {
		for x := 0; x < size.X; x++ {
			bg := int(background.GetUShortAt(y, x))
			cur := int(current.GetUShortAt(y, x))
			diff := bg - cur
			if diff > depthForegroundThreshold || (bg == 0 && diff < -depthForegroundThreshold) {
				mask.SetUCharAt(y, x, 255)
			}
		}
	}

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 5, Y: 5})
	defer kernel.Close()
	gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)
	return mask
}

func invertMask(mask gocv.Mat) gocv.Mat {
	inverted := gocv.NewMat()
	gocv.BitwiseNot(mask, &inverted)
	return inverted
}

func sharpnessScore(cropped gocv.Mat, areaRatio float64) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(cropped, &gray, gocv.ColorRGBToGray)

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)

	mean, stddev := gocv.NewMat(), gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(lap, &mean, &stddev)

	sd := stddev.GetDoubleAt(0, 0)
	sharpness := sd * sd
	return 0.9*sharpness/1000.0 + 0.1*areaRatio
}
