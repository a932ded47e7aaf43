// Package calibration implements the per-camera extrinsic calibration
// engine (§4.C5): marker detection against a depth frame, Procrustes
// alignment of the accumulated marker samples, and composition with a
// preconfigured marker pose to produce a camera-to-global rigid transform.
package calibration

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/rarchambault/Holoportation-2025-2026/logging"
	"github.com/rarchambault/Holoportation-2025-2026/marker"
	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// NumRequiredSamples is the number of consecutive marker detections that
// must be averaged before a calibration is accepted, matching the
// reference implementation's sample-averaging window.
const NumRequiredSamples = 20

// MarkerPose is a preconfigured marker's known position and orientation in
// global space: globalPoint = R*localPoint + T.
type MarkerPose struct {
	MarkerID int              `json:"markerId"`
	R        [3][3]float32    `json:"r"`
	T        [3]float32       `json:"t"`
}

// State is one camera's accumulated calibration state: the camera-to-global
// transform once calibrated, and the marker samples collected so far.
type State struct {
	WorldR       [3][3]float32
	WorldT       [3]float32
	UsedMarkerID int
	IsCalibrated bool

	samples []marker3D
	logger  logging.Logger
}

type marker3D struct {
	corners []r3.Vector
}

// NewState returns a fresh, uncalibrated state with an identity transform.
func NewState(logger logging.Logger) *State {
	return &State{
		WorldR: spatialmath.Identity().R,
		logger: logger,
	}
}

// DepthLookup resolves the camera-space 3-D point aligned to a given color
// pixel, returning ok=false when the pixel has no valid depth.
type DepthLookup func(x, y int) (r3.Vector, bool)

// Calibrate feeds one color/depth frame pair through marker detection. It
// returns true once enough consecutive samples of a known marker have been
// averaged and folded into the camera's world transform (§4.C5 steps 1-6).
// Every accepted detection but the NumRequiredSamples-th returns false with
// a nil error while sampling continues.
func Calibrate(state *State, det marker.Detection, poses []MarkerPose, lookup DepthLookup) (bool, error) {
	if state.IsCalibrated {
		// Idempotent once calibrated: further submissions must not change
		// (WorldR, WorldT) until Reset is called.
		return true, nil
	}

	pose, ok := findPose(poses, det.Code)
	if !ok {
		return false, nil
	}
	state.UsedMarkerID = pose.MarkerID

	corners, ok := interpolateCorners(det.Corners, lookup)
	if !ok {
		return false, nil
	}

	state.samples = append(state.samples, marker3D{corners: corners})
	if len(state.samples) < NumRequiredSamples {
		return false, nil
	}

	averaged := averageSamples(state.samples)

	localPoints := make([]r3.Vector, len(marker.LocalPoints3D))
	for i, p := range marker.LocalPoints3D {
		localPoints[i] = p.Vector()
	}

	result := spatialmath.Procrustes(localPoints, averaged)

	worldR := spatialmath.MulRotation(pose.R, result.R)
	translationIncr := spatialmath.InverseRotateVector(toVector(pose.T), worldR)

	state.WorldR = worldR
	state.WorldT = addArray(result.T, toArray(translationIncr))
	state.IsCalibrated = true

	state.samples = nil
	if state.logger != nil {
		state.logger.Infow("calibration accepted", "markerId", pose.MarkerID)
	}
	return true, nil
}

func findPose(poses []MarkerPose, code int) (MarkerPose, bool) {
	for _, p := range poses {
		if p.MarkerID == code {
			return p, true
		}
	}
	return MarkerPose{}, false
}

// interpolateCorners bilinearly interpolates the camera-space 3-D position
// of each detected marker corner from its four surrounding depth samples,
// failing if any of them lacks valid depth (§4.C5 step 3).
func interpolateCorners(corners []gocv.Point2f, lookup DepthLookup) ([]r3.Vector, bool) {
	out := make([]r3.Vector, len(corners))
	for i, c := range corners {
		minX, minY := int(c.X), int(c.Y)
		maxX, maxY := minX+1, minY+1
		dx, dy := float64(c.X)-float64(minX), float64(c.Y)-float64(minY)

		p00, ok00 := lookup(minX, minY)
		p10, ok10 := lookup(maxX, minY)
		p01, ok01 := lookup(minX, maxY)
		p11, ok11 := lookup(maxX, maxY)
		if !ok00 || !ok10 || !ok01 || !ok11 {
			return nil, false
		}

		out[i] = p00.Mul((1 - dx) * (1 - dy)).
			Add(p10.Mul(dx * (1 - dy))).
			Add(p01.Mul((1 - dx) * dy)).
			Add(p11.Mul(dx * dy))
	}
	return out, true
}

func averageSamples(samples []marker3D) []r3.Vector {
	n := len(samples[0].corners)
	out := make([]r3.Vector, n)
	for _, s := range samples {
		for i, c := range s.corners {
			out[i] = out[i].Add(c)
		}
	}
	for i := range out {
		out[i] = out[i].Mul(1 / float64(len(samples)))
	}
	return out
}

func toVector(a [3]float32) r3.Vector {
	return r3.Vector{X: float64(a[0]), Y: float64(a[1]), Z: float64(a[2])}
}

func toArray(v r3.Vector) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

func addArray(a, b [3]float32) [3]float32 {
	return [3]float32{a[0] + b[0], a[1] + b[1], a[2] + b[2]}
}

// Transform returns the camera-to-global affine transform this state
// currently holds.
func (s *State) Transform() spatialmath.AffineTransform {
	return spatialmath.AffineTransform{R: s.WorldR, T: s.WorldT}
}

// ComposeRefinement composes an ICP-derived pose correction (r, t: world' =
// r*world+t) with an existing calibration-convention transform, producing
// the new world_R/world_T pair under the same v' = R*(v+T) convention
// (§4.C10 calibration refinement). It is a pure function so the coordinator
// can compute a camera's refined transform without reaching into that
// camera's pipeline-owned calibration state directly.
func ComposeRefinement(current spatialmath.AffineTransform, r [3][3]float32, t [3]float32) spatialmath.AffineTransform {
	newR := spatialmath.MulRotation(r, current.R)
	newT := addArray(current.T, toArray(spatialmath.InverseRotateVector(toVector(t), newR)))
	return spatialmath.AffineTransform{R: newR, T: newT}
}

// Refine composes an ICP-derived pose correction into this state's own
// transform in place. See ComposeRefinement for the underlying math.
func (s *State) Refine(r [3][3]float32, t [3]float32) {
	next := ComposeRefinement(s.Transform(), r, t)
	s.WorldR = next.R
	s.WorldT = next.T
}

// Receive replaces the state's transform outright with one computed
// elsewhere (e.g. by the coordinator after an ICP refinement pass) and
// pushed back down to the owning pipeline (§4.C8 `receive_calibration`).
// Unlike Refine, this does not compose with the existing transform.
func (s *State) Receive(t spatialmath.AffineTransform) {
	s.WorldR = t.R
	s.WorldT = t.T
	s.IsCalibrated = true
}

// Reset discards any in-progress marker samples and returns the state to
// uncalibrated, so a fresh Calibrate pass can run and replace WorldR/WorldT
// (§4.C5 reset).
func (s *State) Reset() {
	s.samples = nil
	s.IsCalibrated = false
	s.WorldR = spatialmath.Identity().R
	s.WorldT = [3]float32{}
	s.UsedMarkerID = 0
}

// persisted mirrors the flat text layout the reference calibration file
// used, expressed here as JSON per the configuration section of this
// project's ambient stack.
type persisted struct {
	WorldT       [3]float32    `json:"worldT"`
	WorldR       [3][3]float32 `json:"worldR"`
	UsedMarkerID int           `json:"usedMarkerId"`
	IsCalibrated bool          `json:"isCalibrated"`
}

// Load restores a previously saved calibration from the file at path. A
// missing file is not an error; the caller gets back an
// uncalibrated state.
func Load(path string, logger logging.Logger) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return NewState(logger), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading calibration file")
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "parsing calibration file")
	}

	return &State{
		WorldT:       p.WorldT,
		WorldR:       p.WorldR,
		UsedMarkerID: p.UsedMarkerID,
		IsCalibrated: p.IsCalibrated,
		logger:       logger,
	}, nil
}

// Save writes the current calibration to disk, keyed by camera serial
// number as CalibrationPath does for the coordinator's config layout.
func Save(path string, s *State) error {
	p := persisted{WorldT: s.WorldT, WorldR: s.WorldR, UsedMarkerID: s.UsedMarkerID, IsCalibrated: s.IsCalibrated}
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling calibration")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "writing calibration file")
	}
	return nil
}

// CalibrationPath returns the on-disk path for a camera's calibration file,
// following the reference implementation's "calibration_<serial>" naming.
func CalibrationPath(dir, serialNumber string) string {
	return fmt.Sprintf("%s/calibration_%s.json", dir, serialNumber)
}
