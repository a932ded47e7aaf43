// Package coordinator implements the multi-camera orchestrator (§4.C10):
// camera enumeration, one capture pipeline per device, the hardware
// sync-enable protocol, cross-camera ICP calibration refinement, and the
// merge-locked live frame fusion that feeds the streaming servers.
package coordinator

import (
	"context"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/rarchambault/Holoportation-2025-2026/calibration"
	"github.com/rarchambault/Holoportation-2025-2026/capture"
	"github.com/rarchambault/Holoportation-2025-2026/codec"
	"github.com/rarchambault/Holoportation-2025-2026/config"
	"github.com/rarchambault/Holoportation-2025-2026/document"
	"github.com/rarchambault/Holoportation-2025-2026/logging"
	"github.com/rarchambault/Holoportation-2025-2026/pointcloud"
	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
	"github.com/rarchambault/Holoportation-2025-2026/streaming"
)

// Device is one enumerated camera: its serial number, frame source and the
// settings its pipeline should run with. An SDK-specific enumerator
// produces these; this package has no dependency on any particular camera
// driver.
type Device struct {
	SerialNumber string
	Source       capture.Source
	Settings     capture.Settings
}

// Enumerate discovers the currently attached cameras.
type Enumerate func(ctx context.Context) ([]Device, error)

// Callbacks are the coordinator's outbound notifications, mirroring the
// reference coordinator's per-event registration points (§4.C10).
type Callbacks struct {
	OnSerialNumber func(serial string)
	OnFrame        func(serial string, vertices []spatialmath.Point3f, colors []spatialmath.RGB, timestamp uint64)
	OnCalibration  func(serial string, transform spatialmath.AffineTransform)
	OnRecordingACK func(serial string, err error)
	OnSyncACK      func(serial string, role capture.SyncRole)
	OnDocument     func(serial string, res document.Result)
}

// pipelineEntry pairs a running pipeline with the device it was built from.
type pipelineEntry struct {
	serial   string
	pipeline *capture.Pipeline
}

// Coordinator exclusively owns the pipeline set and the fused buffers
// consumed by the streaming servers (§4 Ownership).
type Coordinator struct {
	logger    logging.Logger
	calibDir  string
	callbacks Callbacks

	mu             sync.Mutex
	pipelines      []pipelineEntry
	sharedRecorder *codec.Writer

	syncMu                sync.Mutex
	allDevicesInitialized bool

	mergeMu      sync.Mutex
	fusedVerts   []spatialmath.Point3f
	fusedColors  []spatialmath.RGB
	minPrecision float64
	halfRange    float64
}

// New builds an empty coordinator. Call AddDevices to populate it with one
// pipeline per discovered device.
func New(logger logging.Logger, calibDir string, callbacks Callbacks, minPrecision, halfRange float64) *Coordinator {
	return &Coordinator{
		logger:       logger,
		calibDir:     calibDir,
		callbacks:    callbacks,
		minPrecision: minPrecision,
		halfRange:    halfRange,
	}
}

// AddDevices enumerates cameras and creates one pipeline per device,
// restoring any saved calibration and starting each pipeline's capture
// loop. Every pipeline starts Standalone (§4.C8 initial behaviour).
func (c *Coordinator) AddDevices(ctx context.Context, enumerate Enumerate) error {
	devices, err := enumerate(ctx)
	if err != nil {
		return errors.Wrap(err, "enumerating cameras")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range devices {
		serial := d.SerialNumber
		p := capture.New(d.Settings, d.Source, c.logger, func(vertices []spatialmath.Point3f, colors []spatialmath.RGB, timestamp uint64) {
			if c.callbacks.OnFrame != nil {
				c.callbacks.OnFrame(serial, vertices, colors, timestamp)
			}
		})
		p.SetDocumentCallback(func(res document.Result) {
			if c.callbacks.OnDocument != nil {
				c.callbacks.OnDocument(serial, res)
			}
		})
		p.SetCalibrationCallback(func(transform spatialmath.AffineTransform) {
			if serial != "" {
				_ = calibration.Save(calibration.CalibrationPath(c.calibDir, serial), p.CalibrationState())
			}
			if c.callbacks.OnCalibration != nil {
				c.callbacks.OnCalibration(serial, transform)
			}
		})

		if serial != "" {
			if saved, err := calibration.Load(calibration.CalibrationPath(c.calibDir, serial), c.logger); err == nil {
				*p.CalibrationState() = *saved
			}
			if c.callbacks.OnSerialNumber != nil {
				c.callbacks.OnSerialNumber(serial)
			}
		}

		p.Start(ctx)
		c.pipelines = append(c.pipelines, pipelineEntry{serial: serial, pipeline: p})
	}
	return nil
}

// ApplySettings pushes each configured camera's settings (bounds, marker
// poses, outlier filter, exposure and save_binary_ply) down to its
// pipeline, keyed by serial number (§4.C8 `set_settings`). Cameras with no
// matching entry in cameras are left with their construction-time defaults.
func (c *Coordinator) ApplySettings(cameras map[string]config.CameraSettings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.pipelines {
		if settings, ok := cameras[e.serial]; ok {
			e.pipeline.SetSettings(settings)
		}
	}
}

// Stop halts every pipeline's capture loop.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.pipelines {
		e.pipeline.Stop()
	}
}

// FusedCloudProvider adapts the coordinator's merge-locked fused buffer to
// the shape the point-cloud streaming server expects.
func (c *Coordinator) FusedCloudProvider() func() streaming.FusedCloud {
	return func() streaming.FusedCloud {
		c.mergeMu.Lock()
		defer c.mergeMu.Unlock()
		return streaming.FusedCloud{
			Vertices:     c.fusedVerts,
			Colors:       c.fusedColors,
			MinPrecision: c.minPrecision,
			HalfRange:    c.halfRange,
		}
	}
}

// MergeTick pulls the latest cloud from every pipeline and concatenates
// them into the fused buffer under the merge lock (§4.C10 live frame
// fusion). Call this on the coordinator's own tick cadence.
func (c *Coordinator) MergeTick() {
	c.mu.Lock()
	entries := append([]pipelineEntry(nil), c.pipelines...)
	c.mu.Unlock()

	var verts []spatialmath.Point3f
	var colors []spatialmath.RGB
	for _, e := range entries {
		v, col, _ := e.pipeline.Latest()
		verts = append(verts, v...)
		colors = append(colors, col...)
	}

	c.mergeMu.Lock()
	c.fusedVerts = verts
	c.fusedColors = colors
	c.mergeMu.Unlock()
}

// StartRecording starts recording on every pipeline. Cameras whose
// configuration sets merge_scans share a single writer and recording file
// instead of each getting their own (§6 merge_scans); the shared file is
// opened at the first such camera's path and every other merge_scans camera
// attaches to it instead of opening a second file.
func (c *Coordinator) StartRecording(cameras map[string]config.CameraSettings, pathFor func(serial string) string) error {
	c.mu.Lock()
	entries := append([]pipelineEntry(nil), c.pipelines...)
	c.mu.Unlock()

	var sharedWriter *codec.Writer
	var sharedPath string
	for _, e := range entries {
		if cameras[e.serial].MergeScans {
			if sharedWriter == nil {
				path := pathFor(e.serial)
				w, err := codec.NewWriter(path)
				if err != nil {
					if c.callbacks.OnRecordingACK != nil {
						c.callbacks.OnRecordingACK(e.serial, err)
					}
					return err
				}
				sharedWriter, sharedPath = w, path
				c.mu.Lock()
				c.sharedRecorder = w
				c.mu.Unlock()
			}
			e.pipeline.StartRecordingShared(sharedWriter, sharedPath)
			if c.callbacks.OnRecordingACK != nil {
				c.callbacks.OnRecordingACK(e.serial, nil)
			}
			continue
		}

		if err := e.pipeline.StartRecording(pathFor(e.serial)); err != nil {
			if c.callbacks.OnRecordingACK != nil {
				c.callbacks.OnRecordingACK(e.serial, err)
			}
			return err
		}
		if c.callbacks.OnRecordingACK != nil {
			c.callbacks.OnRecordingACK(e.serial, nil)
		}
	}
	return nil
}

// StopRecording stops recording on every pipeline, then closes the shared
// merge_scans writer, if one was opened, now that every camera attached to
// it has detached.
func (c *Coordinator) StopRecording() error {
	c.mu.Lock()
	entries := append([]pipelineEntry(nil), c.pipelines...)
	shared := c.sharedRecorder
	c.sharedRecorder = nil
	c.mu.Unlock()

	for _, e := range entries {
		if err := e.pipeline.StopRecording(); err != nil {
			return err
		}
	}
	if shared != nil {
		return shared.Close()
	}
	return nil
}

// EnableSync runs the two-phase sync-enable protocol (§4.C10): sort cameras
// by serial number and assign the lowest non-empty serial as Master, the
// rest as Subordinates, leaving empty-serial cameras Standalone. Phase one
// dispatches enable_sync to every camera; the Master's own reopen is left
// pending by its pipeline rather than ACKed to the caller. Phase two only
// begins once every Subordinate and Standalone camera has ACKed, at which
// point start_master() is dispatched to the Master exactly once. This
// ordering constraint ("all others ACKed before Master restarts") is the
// substance of §8 scenario 2.
func (c *Coordinator) EnableSync() error {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	c.allDevicesInitialized = false

	c.mu.Lock()
	entries := append([]pipelineEntry(nil), c.pipelines...)
	c.mu.Unlock()

	sortable := append([]pipelineEntry(nil), entries...)
	sort.Slice(sortable, func(i, j int) bool { return sortable[i].serial < sortable[j].serial })

	masterIdx := -1
	for i, e := range sortable {
		if e.serial != "" {
			masterIdx = i
			break
		}
	}

	offset := 0
	for i, e := range sortable {
		if i == masterIdx {
			// The Master's own enable_sync ACK is internal bookkeeping
			// (masterPending); it is not surfaced until start_master runs.
			e.pipeline.EnableSync(capture.RoleMaster, 0, nil)
			continue
		}
		if e.serial == "" {
			e.pipeline.EnableSync(capture.RoleStandalone, 0, func(role capture.SyncRole) { c.ackSync(e.serial, role) })
			continue
		}
		offset++
		e.pipeline.EnableSync(capture.RoleSubordinate, offset, func(role capture.SyncRole) { c.ackSync(e.serial, role) })
	}

	if masterIdx >= 0 {
		master := sortable[masterIdx]
		master.pipeline.StartMaster(func(role capture.SyncRole) { c.ackSync(master.serial, role) })
	}

	c.allDevicesInitialized = true
	return nil
}

// DisableSync resets every pipeline to Standalone.
func (c *Coordinator) DisableSync() {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	c.allDevicesInitialized = false

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.pipelines {
		e.pipeline.DisableSync(func(role capture.SyncRole) { c.ackSync(e.serial, role) })
	}
	c.allDevicesInitialized = true
}

func (c *Coordinator) ackSync(serial string, role capture.SyncRole) {
	if c.callbacks.OnSyncACK != nil {
		c.callbacks.OnSyncACK(serial, role)
	}
}

// AllDevicesInitialized reports whether the coordinator is between sync
// role transitions; settings changes to sync should be rejected while
// false (§5 Sync role serialisation).
func (c *Coordinator) AllDevicesInitialized() bool {
	c.syncMu.Lock()
	defer c.syncMu.Unlock()
	return c.allDevicesInitialized
}

// Calibrate requests a fresh one-shot calibration pass (§4.C8 `calibrate`,
// §4.C10 "orchestrate calibration... commands"). An empty serial requests
// calibration on every camera; a specific serial with no matching pipeline
// is an error.
func (c *Coordinator) Calibrate(serial string) error {
	c.mu.Lock()
	entries := append([]pipelineEntry(nil), c.pipelines...)
	c.mu.Unlock()

	found := false
	for _, e := range entries {
		if serial != "" && e.serial != serial {
			continue
		}
		e.pipeline.Calibrate()
		found = true
	}
	if serial != "" && !found {
		return errors.Errorf("unknown camera serial %q", serial)
	}
	return nil
}

// RefineCalibration runs the ICP refinement loop (§4.C10): for
// refineIterations passes, aligns each camera's cloud against the
// concatenation of every other camera's cloud, accumulates the
// per-camera correction, and folds it into that camera's world
// transform.
func (c *Coordinator) RefineCalibration(refineIterations, icpIterations int) error {
	c.mu.Lock()
	entries := append([]pipelineEntry(nil), c.pipelines...)
	c.mu.Unlock()

	if len(entries) < 2 {
		return nil
	}

	for pass := 0; pass < refineIterations; pass++ {
		clouds := make([][]r3.Vector, len(entries))
		for i, e := range entries {
			verts, _, _ := e.pipeline.Latest()
			pts := make([]r3.Vector, len(verts))
			for j, v := range verts {
				pts[j] = v.Vector()
			}
			clouds[i] = pts
		}

		for i, e := range entries {
			var target []r3.Vector
			for j := range entries {
				if j == i {
					continue
				}
				target = append(target, clouds[j]...)
			}
			if len(target) == 0 || len(clouds[i]) == 0 {
				continue
			}

			result := pointcloud.RegisterICP(target, clouds[i], icpIterations)
			current := e.pipeline.CalibrationState().Transform()
			composed := calibration.ComposeRefinement(current, result.R, result.T)
			e.pipeline.ReceiveCalibration(composed)

			if c.callbacks.OnCalibration != nil {
				c.callbacks.OnCalibration(e.serial, e.pipeline.CalibrationState().Transform())
			}
		}
	}

	for _, e := range entries {
		if e.serial == "" {
			continue
		}
		_ = calibration.Save(calibration.CalibrationPath(c.calibDir, e.serial), e.pipeline.CalibrationState())
	}
	return nil
}
