// Package capture implements the per-camera capture pipeline (§4.C8): a
// worker loop that pulls color/depth frame pairs from a camera source,
// back-projects depth into camera-space points, applies the calibration
// transform, filters outliers and low-density points, feeds marker
// detection into the calibration engine, and hands off document detections
// and finished frames to the coordinator, all while tracking the camera's
// hardware sync role.
package capture

import (
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gocv.io/x/gocv"

	"github.com/rarchambault/Holoportation-2025-2026/calibration"
	"github.com/rarchambault/Holoportation-2025-2026/codec"
	"github.com/rarchambault/Holoportation-2025-2026/config"
	"github.com/rarchambault/Holoportation-2025-2026/document"
	"github.com/rarchambault/Holoportation-2025-2026/logging"
	"github.com/rarchambault/Holoportation-2025-2026/marker"
	"github.com/rarchambault/Holoportation-2025-2026/pointcloud"
	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// Frame is one aligned color/depth capture from a camera.
type Frame struct {
	Color     gocv.Mat
	Depth     gocv.Mat
	Timestamp uint64
}

// Source pulls the next available aligned color/depth frame. Real sources
// wrap a specific camera SDK; tests and fixture playback can substitute a
// canned sequence.
type Source interface {
	NextFrame(ctx context.Context) (Frame, error)
}

// ExposureController is an optional capability a Source may implement when
// its underlying camera SDK supports runtime auto-exposure control.
// SetSettings applies auto_exposure/exposure_step through it when present
// and otherwise leaves exposure alone, the same optional-capability pattern
// the teacher's camera component uses for driver features not every
// implementation has.
type ExposureController interface {
	SetAutoExposure(enabled bool, step int) error
}

// Settings configures one camera's pipeline: its depth and color
// intrinsics, the depth→color extrinsic, its region of interest for
// bounds-clipping and de-duplication, and its outlier/density thresholds.
type Settings struct {
	Intrinsics       PinholeIntrinsics
	ColorIntrinsics  PinholeIntrinsics
	Extrinsics       Extrinsics
	SerialNumber     string
	VoxelSize        float64
	RegionCenter     r3.Vector
	RegionHalfRange  float64
	MinBounds        r3.Vector
	MaxBounds        r3.Vector
	OutlierK         int
	OutlierMaxDist   float32
	DensityVoxelSize float64
	DensityMinCount  int
	MarkerPoses      []calibration.MarkerPose
}

// documentSubmitInterval is the minimum spacing between frames forwarded to
// the document detector (§4.C7 rate limiting, DocumentServerSendDelayMs).
const documentSubmitInterval = time.Second

// Pipeline runs the full per-camera capture loop on its own goroutine.
type Pipeline struct {
	settingsMu sync.RWMutex
	settings   Settings

	source       Source
	serialNumber string
	logger       logging.Logger

	calState *calibration.State
	docs     *document.Detector

	role               atomic.Int32
	syncOffset         atomic.Int32
	masterPending      atomic.Bool
	calibrateRequested atomic.Bool

	recorder       atomic.Pointer[codec.Writer]
	recordingPath  atomic.Pointer[string]
	ownsRecorder   atomic.Bool
	saveBinaryPLY  atomic.Bool

	onFrame      func(vertices []spatialmath.Point3f, colors []spatialmath.RGB, timestamp uint64)
	onDocument   func(document.Result)
	onCalibrated func(spatialmath.AffineTransform)

	frameMu    sync.Mutex
	lastFrame  []spatialmath.Point3f
	lastColors []spatialmath.RGB
	lastStamp  uint64

	lastDocSubmit time.Time

	workers utils.StoppableWorkers
}

// New builds a pipeline for one camera, starting in the Standalone sync
// role and uncalibrated, matching the reference client's startup sequence
// ("First initialize the camera as standalone").
func New(settings Settings, source Source, logger logging.Logger, onFrame func([]spatialmath.Point3f, []spatialmath.RGB, uint64)) *Pipeline {
	p := &Pipeline{
		settings:     settings,
		source:       source,
		serialNumber: settings.SerialNumber,
		logger:       logger,
		calState:     calibration.NewState(logger),
		onFrame:      onFrame,
	}
	p.role.Store(int32(RoleStandalone))
	p.docs = document.New(logger, p.handleDocument)
	return p
}

// currentSettings returns a snapshot of the pipeline's settings, safe to
// use without holding settingsMu for the rest of a frame's processing.
func (p *Pipeline) currentSettings() Settings {
	p.settingsMu.RLock()
	defer p.settingsMu.RUnlock()
	return p.settings
}

// SetSettings applies a `set_settings` broadcast from the coordinator
// (§4.C8): bounds, marker poses, the KNN outlier filter's enable flag and
// parameters, and, when the underlying source supports it, auto-exposure.
// Intrinsics, extrinsics and voxel/region geometry describe the physical
// camera rather than a user-adjustable setting and are fixed at
// construction time.
func (p *Pipeline) SetSettings(cfg config.CameraSettings) {
	p.settingsMu.Lock()
	p.settings.MinBounds = r3.Vector{X: float64(cfg.MinBounds[0]), Y: float64(cfg.MinBounds[1]), Z: float64(cfg.MinBounds[2])}
	p.settings.MaxBounds = r3.Vector{X: float64(cfg.MaxBounds[0]), Y: float64(cfg.MaxBounds[1]), Z: float64(cfg.MaxBounds[2])}
	p.settings.MarkerPoses = cfg.MarkerPoses
	if cfg.Filter {
		p.settings.OutlierK = cfg.FilterNeighbours
		p.settings.OutlierMaxDist = cfg.FilterThreshold
	} else {
		p.settings.OutlierK = 0
	}
	p.settingsMu.Unlock()

	p.saveBinaryPLY.Store(cfg.SaveBinaryPLY)

	if ec, ok := p.source.(ExposureController); ok {
		if err := ec.SetAutoExposure(cfg.AutoExposure, cfg.ExposureStep); err != nil && p.logger != nil {
			p.logger.Warnw("failed to apply exposure setting", "camera", p.serialNumber, "error", err)
		}
	}
}

// SetDocumentCallback registers the coordinator's document-arrival
// callback, invoked from the pipeline's detector goroutine whenever C7
// finds a document in a submitted frame.
func (p *Pipeline) SetDocumentCallback(cb func(document.Result)) {
	p.onDocument = cb
}

// SetCalibrationCallback registers the coordinator's calibration-ACK
// callback, invoked from the capture loop once a requested Calibrate() call
// succeeds (§4.C8 step 7: "save calibration and ACK with R_world, T_world").
func (p *Pipeline) SetCalibrationCallback(cb func(spatialmath.AffineTransform)) {
	p.onCalibrated = cb
}

// Calibrate requests that the next frames with a detected marker be run
// through the calibration engine (§4.C8 `calibrate`). Any existing
// calibration is discarded immediately so the pipeline reports uncalibrated
// until the new pass completes; C5's idempotency guard only applies between
// Calibrate() calls, not across them.
func (p *Pipeline) Calibrate() {
	p.calState.Reset()
	p.calibrateRequested.Store(true)
}

// SetSyncRole updates the camera's hardware sync role directly, without
// running the close/reopen/ACK sequence. It is the low-level primitive
// EnableSync, StartMaster and DisableSync build on, and remains useful on
// its own for tests and fixture playback that have no hardware to restart.
func (p *Pipeline) SetSyncRole(role SyncRole) {
	p.role.Store(int32(role))
	if p.logger != nil {
		p.logger.Infow("sync role changed", "camera", p.serialNumber, "role", role.String())
	}
}

// SyncRole returns the camera's current hardware sync role.
func (p *Pipeline) SyncRole() SyncRole {
	return SyncRole(p.role.Load())
}

// EnableSync runs one camera's half of the sync-enable protocol (§4.C8
// sync role transitions). Subordinate and Standalone cameras close and
// reopen immediately and ACK on return. Master closes and ACKs but does
// NOT reopen: the coordinator must call StartMaster once every Subordinate
// has ACKed, per §4.C10's two-phase protocol.
func (p *Pipeline) EnableSync(role SyncRole, offsetUnits int, onACK func(SyncRole)) {
	p.syncOffset.Store(int32(offsetUnits))

	switch role {
	case RoleMaster:
		p.masterPending.Store(true)
	case RoleSubordinate:
		if p.logger != nil {
			delay := offsetUnits * trigger2ImageDelayUsPerOffsetUnit
			p.logger.Infow("reopening as subordinate", "camera", p.serialNumber, "trigger2ImageDelayUs", delay)
		}
	}

	p.role.Store(int32(role))
	if onACK != nil {
		onACK(role)
	}
}

// StartMaster completes the Master half of the sync-enable protocol,
// reopening the camera once the coordinator has confirmed every
// Subordinate has ACKed. Calling it while no EnableSync(RoleMaster, ...)
// is pending is a no-op.
func (p *Pipeline) StartMaster(onACK func(SyncRole)) {
	if !p.masterPending.CompareAndSwap(true, false) {
		return
	}
	if p.logger != nil {
		p.logger.Infow("starting as master", "camera", p.serialNumber)
	}
	if onACK != nil {
		onACK(RoleMaster)
	}
}

// DisableSync resets the camera to Standalone and ACKs immediately; unlike
// Master's enable path, disabling sync never waits on another camera.
func (p *Pipeline) DisableSync(onACK func(SyncRole)) {
	p.masterPending.Store(false)
	p.role.Store(int32(RoleStandalone))
	if p.logger != nil {
		p.logger.Infow("sync disabled", "camera", p.serialNumber)
	}
	if onACK != nil {
		onACK(RoleStandalone)
	}
}

// StartRecording begins writing every subsequent processed frame to disk,
// opening and owning a private recording file for this camera alone.
func (p *Pipeline) StartRecording(path string) error {
	w, err := codec.NewWriter(path)
	if err != nil {
		return err
	}
	p.recorder.Store(w)
	p.recordingPath.Store(&path)
	p.ownsRecorder.Store(true)
	return nil
}

// StartRecordingShared attaches an already-open writer, e.g. one several
// merge_scans cameras write frames into together (§6 merge_scans). The
// pipeline never closes a shared writer itself; the caller that opened it
// is responsible for closing it once every attached pipeline has stopped.
func (p *Pipeline) StartRecordingShared(w *codec.Writer, path string) {
	p.recorder.Store(w)
	p.recordingPath.Store(&path)
	p.ownsRecorder.Store(false)
}

// StopRecording stops any in-progress recording, closing the file if this
// pipeline owns it privately (StartRecording) and merely detaching if it
// was writing into a writer shared with other cameras
// (StartRecordingShared). save_binary_ply additionally snapshots the most
// recently processed frame as a standalone PLY file alongside the
// recording, for viewers that read that interchange format directly.
func (p *Pipeline) StopRecording() error {
	w := p.recorder.Swap(nil)
	owned := p.ownsRecorder.Swap(false)

	if p.saveBinaryPLY.Load() {
		if err := p.writePLYSnapshot(); err != nil && p.logger != nil {
			p.logger.Warnw("failed to write ply snapshot", "camera", p.serialNumber, "error", err)
		}
	}

	if w == nil || !owned {
		return nil
	}
	return w.Close()
}

func (p *Pipeline) writePLYSnapshot() error {
	path := p.recordingPath.Load()
	if path == nil || *path == "" {
		return nil
	}
	vertices, colors, _ := p.Latest()
	points := make([]spatialmath.Point3s, len(vertices))
	for i, v := range vertices {
		points[i] = v.ToPoint3s()
	}
	return codec.WritePLY(*path+".ply", codec.Frame{Points: points, Colors: colors}, true)
}

// ClearRecordings deletes the file left behind by the most recent
// recording, if any (§4.C8 `clear_recordings`). A recording still in
// progress is stopped first so its file is not left dangling half-written.
func (p *Pipeline) ClearRecordings() error {
	_ = p.StopRecording()

	path := p.recordingPath.Swap(nil)
	if path == nil || *path == "" {
		return nil
	}
	if err := os.Remove(*path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "clearing recording")
	}
	return nil
}

// RequestRecorded plays back every frame from the most recent recording
// (§4.C8 `request_recorded`), returning an error if nothing has been
// recorded yet.
func (p *Pipeline) RequestRecorded() ([]codec.Frame, error) {
	path := p.recordingPath.Load()
	if path == nil || *path == "" {
		return nil, errors.New("no recording available")
	}

	reader, closer, err := codec.NewReader(*path)
	if err != nil {
		return nil, err
	}
	defer closer()

	var frames []codec.Frame
	for {
		f, err := reader.ReadFrame()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// ReceiveCalibration replaces the pipeline's calibration transform outright
// with one computed elsewhere, e.g. by the coordinator's ICP refinement
// loop (§4.C8 `receive_calibration`). This is the channel-send equivalent
// of the reference's calibration ACK path: the coordinator computes, the
// pipeline just stores.
func (p *Pipeline) ReceiveCalibration(t spatialmath.AffineTransform) {
	p.calState.Receive(t)
}

// Start begins pulling frames from the source and processing them until
// Stop is called.
func (p *Pipeline) Start(ctx context.Context) {
	p.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			frame, err := p.source.NextFrame(ctx)
			if err != nil {
				if p.logger != nil {
					p.logger.CWarnw(ctx, "failed to read frame", "camera", p.serialNumber, "error", err)
				}
				continue
			}

			p.processFrame(ctx, frame)
		}
	})
}

// Stop halts the capture loop and any in-flight document detection.
func (p *Pipeline) Stop() {
	p.workers.Stop()
	p.docs.Close()
	_ = p.StopRecording()
}

// processFrame runs one camera frame through §4.C8 steps 3-8: back-project
// & align, calibrate, clip, voxel-reduce, density-filter, KNN-filter,
// quantize, record and publish.
func (p *Pipeline) processFrame(ctx context.Context, frame Frame) {
	s := p.currentSettings()

	depthLookup := func(x, y int) (r3.Vector, bool) {
		if x < 0 || y < 0 || x >= frame.Depth.Cols() || y >= frame.Depth.Rows() {
			return r3.Vector{}, false
		}
		d := float64(frame.Depth.GetUShortAt(y, x))
		if d <= 0 {
			return r3.Vector{}, false
		}
		return s.Intrinsics.Deproject(float64(x), float64(y), d/1000.0), true
	}

	if p.calibrateRequested.Load() {
		if det, found := marker.Detect(frame.Color); found {
			done, err := calibration.Calibrate(p.calState, det, s.MarkerPoses, depthLookup)
			if err != nil && p.logger != nil {
				p.logger.Warnw("calibration failed", "camera", p.serialNumber, "error", err)
			}
			if done {
				p.calibrateRequested.Store(false)
				if p.onCalibrated != nil {
					p.onCalibrated(p.calState.Transform())
				}
			}
		}
	}

	if time.Since(p.lastDocSubmit) >= documentSubmitInterval {
		p.docs.SubmitFrame(frame.Color, frame.Depth)
		p.lastDocSubmit = time.Now()
	}

	// Step 3: back-project & align.
	vertices, colors := p.deprojectFrame(frame, s)

	// Step 5, in order: calibrate, bounds-clip, voxel de-dup (world
	// space), density filter, KNN filter.
	if p.calState.IsCalibrated {
		transform := p.calState.Transform()
		for i := range vertices {
			vertices[i] = spatialmath.Point3fFromVector(transform.ApplyCalibration(vertices[i].Vector()))
		}
	}

	vertices, colors = clipToBounds(vertices, colors, s.MinBounds, s.MaxBounds)

	voxels := pointcloud.NewVoxelSet(s.VoxelSize, s.RegionCenter.X, s.RegionCenter.Y, s.RegionCenter.Z, s.RegionHalfRange)
	vertices, colors = dedupVoxels(voxels, vertices, colors)

	vertices, colors = p.filterDensity(vertices, colors, s)
	vertices, colors = pointcloud.FilterOutliers(vertices, colors, s.OutlierK, s.OutlierMaxDist)

	if w := p.recorder.Load(); w != nil {
		points := make([]spatialmath.Point3s, len(vertices))
		for i, v := range vertices {
			points[i] = v.ToPoint3s()
		}
		_ = w.WriteFrame(codec.Frame{Points: points, Colors: colors, Timestamp: frame.Timestamp})
	}

	p.frameMu.Lock()
	p.lastFrame = vertices
	p.lastColors = colors
	p.lastStamp = frame.Timestamp
	p.frameMu.Unlock()

	if p.onFrame != nil {
		p.onFrame(vertices, colors, frame.Timestamp)
	}
}

// clipToBounds drops any point outside the configured [min,max] box
// (§4.C8 step 5, testable scenario 4). A zero-valued min and max together
// mean bounds-clipping is unconfigured, matching this pipeline's other
// zero-disables-the-filter settings (OutlierK, DensityMinCount).
func clipToBounds(vertices []spatialmath.Point3f, colors []spatialmath.RGB, min, max r3.Vector) ([]spatialmath.Point3f, []spatialmath.RGB) {
	if min == (r3.Vector{}) && max == (r3.Vector{}) {
		return vertices, colors
	}

	outVertices := make([]spatialmath.Point3f, 0, len(vertices))
	outColors := make([]spatialmath.RGB, 0, len(colors))
	for i, v := range vertices {
		x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
		if x < min.X || x > max.X || y < min.Y || y > max.Y || z < min.Z || z > max.Z {
			continue
		}
		outVertices = append(outVertices, v)
		outColors = append(outColors, colors[i])
	}
	return outVertices, outColors
}

// dedupVoxels drops any point whose voxel cell already holds a survivor
// from this frame (C1), run in world space once calibration and
// bounds-clipping have been applied (§4.C8 step 5).
func dedupVoxels(voxels *pointcloud.VoxelSet, vertices []spatialmath.Point3f, colors []spatialmath.RGB) ([]spatialmath.Point3f, []spatialmath.RGB) {
	outVertices := make([]spatialmath.Point3f, 0, len(vertices))
	outColors := make([]spatialmath.RGB, 0, len(colors))
	for i, v := range vertices {
		if !voxels.Insert(float64(v.X), float64(v.Y), float64(v.Z)) {
			continue
		}
		outVertices = append(outVertices, v)
		outColors = append(outColors, colors[i])
	}
	return outVertices, outColors
}

// Latest returns a copy of the most recently processed frame's world-space
// vertices and colors, guarded by the pipeline's frame lock (§5 resource
// table: "readers copy under lock").
func (p *Pipeline) Latest() ([]spatialmath.Point3f, []spatialmath.RGB, uint64) {
	p.frameMu.Lock()
	defer p.frameMu.Unlock()
	vertices := make([]spatialmath.Point3f, len(p.lastFrame))
	copy(vertices, p.lastFrame)
	colors := make([]spatialmath.RGB, len(p.lastColors))
	copy(colors, p.lastColors)
	return vertices, colors, p.lastStamp
}

// CalibrationState exposes the pipeline's calibration engine so the
// coordinator can drive the ICP refinement loop and persist updates
// (§4.C10 calibration refinement).
func (p *Pipeline) CalibrationState() *calibration.State {
	return p.calState
}

// SerialNumber returns the camera serial number this pipeline was
// configured with.
func (p *Pipeline) SerialNumber() string {
	return p.serialNumber
}

// deprojectFrame runs the alignment step (§4.C8 step 3) and converts every
// aligned pixel with a valid depth into a camera-space vertex and its
// sampled color, in lock-step. Voxel de-duplication happens later, in
// world space, once the calibration transform has been applied (§4.C8 step
// 5) — unlike the reference implementation's bug of de-duplicating in
// camera space before any transform is applied.
func (p *Pipeline) deprojectFrame(frame Frame, s Settings) ([]spatialmath.Point3f, []spatialmath.RGB) {
	alignedDepth, alignedColor := alignDepthToColor(frame, s)
	depthW, depthH := frame.Depth.Cols(), frame.Depth.Rows()

	vertices := make([]spatialmath.Point3f, 0, depthW*depthH/4)
	colors := make([]spatialmath.RGB, 0, depthW*depthH/4)

	for v := 0; v < depthH; v++ {
		for u := 0; u < depthW; u++ {
			idx := v*depthW + u
			d := alignedDepth[idx]
			if d <= 0 {
				continue
			}
			vertex := s.Intrinsics.Deproject(float64(u), float64(v), d/1000.0)
			vertices = append(vertices, spatialmath.Point3fFromVector(vertex))
			colors = append(colors, alignedColor[idx])
		}
	}

	// The reference implementation's mismatch-handling bug takes the
	// larger of the two counts on a size mismatch; clamp to the smaller
	// instead (§9 design notes) even though by construction the two
	// slices above are always built in lock-step.
	if len(colors) < len(vertices) {
		vertices = vertices[:len(colors)]
	} else if len(vertices) < len(colors) {
		colors = colors[:len(vertices)]
	}

	return vertices, colors
}

func (p *Pipeline) filterDensity(vertices []spatialmath.Point3f, colors []spatialmath.RGB, s Settings) ([]spatialmath.Point3f, []spatialmath.RGB) {
	if s.DensityMinCount <= 0 {
		return vertices, colors
	}

	pts := make([]pointcloud.XYZPoint, len(vertices))
	for i, v := range vertices {
		pts[i] = pointcloud.XYZ(float64(v.X), float64(v.Y), float64(v.Z))
	}
	keep := pointcloud.FilterByDensity(pts, s.DensityVoxelSize, s.DensityMinCount)

	outVertices := make([]spatialmath.Point3f, 0, len(vertices))
	outColors := make([]spatialmath.RGB, 0, len(colors))
	for i, k := range keep {
		if !k {
			continue
		}
		outVertices = append(outVertices, vertices[i])
		outColors = append(outColors, colors[i])
	}
	return outVertices, outColors
}

func (p *Pipeline) handleDocument(res document.Result) {
	if p.logger != nil {
		p.logger.Infow("document detected", "camera", p.serialNumber, "score", res.Score, "width", res.Width, "height", res.Height)
	}
	if p.onDocument != nil {
		p.onDocument(res)
	}
}
