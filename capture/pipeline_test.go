package capture

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/rarchambault/Holoportation-2025-2026/config"
	"github.com/rarchambault/Holoportation-2025-2026/logging"
	"github.com/rarchambault/Holoportation-2025-2026/pointcloud"
	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// blockingSource never returns a frame; used to exercise pipeline
// lifecycle methods without needing real gocv frame data.
type blockingSource struct{}

func (blockingSource) NextFrame(ctx context.Context) (Frame, error) {
	<-ctx.Done()
	return Frame{}, ctx.Err()
}

func TestNewPipelineStartsStandaloneAndUncalibrated(t *testing.T) {
	p := New(Settings{SerialNumber: "AB123"}, blockingSource{}, logging.NewLogger("test"), nil)
	test.That(t, p.SyncRole(), test.ShouldEqual, RoleStandalone)
	test.That(t, p.CalibrationState().IsCalibrated, test.ShouldBeFalse)
	test.That(t, p.SerialNumber(), test.ShouldEqual, "AB123")
}

func TestSetSyncRoleUpdatesRole(t *testing.T) {
	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)
	p.SetSyncRole(RoleMaster)
	test.That(t, p.SyncRole(), test.ShouldEqual, RoleMaster)
}

func TestStartStopRecordingRoundTrip(t *testing.T) {
	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)
	path := filepath.Join(t.TempDir(), "recording.bin")

	test.That(t, p.StartRecording(path), test.ShouldBeNil)
	test.That(t, p.StopRecording(), test.ShouldBeNil)
	// A second stop with nothing in progress is a no-op, not an error.
	test.That(t, p.StopRecording(), test.ShouldBeNil)
}

func TestLatestIsEmptyBeforeAnyFrame(t *testing.T) {
	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)
	vertices, colors, timestamp := p.Latest()
	test.That(t, len(vertices), test.ShouldEqual, 0)
	test.That(t, len(colors), test.ShouldEqual, 0)
	test.That(t, timestamp, test.ShouldEqual, uint64(0))
}

func TestStartStopLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)
	p.Start(ctx)
	p.Stop()
}

// TestClipToBoundsScenario4 exercises the literal bounds-clipping scenario:
// with min=(-0.1,-0.1,0), max=(0.1,0.1,0.3), (0.2,0,0.1) is dropped and
// (0,0,0.1) is kept.
func TestClipToBoundsScenario4(t *testing.T) {
	min := r3.Vector{X: -0.1, Y: -0.1, Z: 0}
	max := r3.Vector{X: 0.1, Y: 0.1, Z: 0.3}

	vertices := []spatialmath.Point3f{
		{X: 0.2, Y: 0, Z: 0.1},
		{X: 0, Y: 0, Z: 0.1},
	}
	colors := []spatialmath.RGB{{R: 1}, {R: 2}}

	outVertices, outColors := clipToBounds(vertices, colors, min, max)
	test.That(t, len(outVertices), test.ShouldEqual, 1)
	test.That(t, outVertices[0].X, test.ShouldAlmostEqual, 0.0)
	test.That(t, outColors[0].R, test.ShouldEqual, uint8(2))
}

func TestClipToBoundsUnconfiguredIsNoOp(t *testing.T) {
	vertices := []spatialmath.Point3f{{X: 100, Y: 100, Z: 100}}
	colors := []spatialmath.RGB{{R: 9}}

	outVertices, _ := clipToBounds(vertices, colors, r3.Vector{}, r3.Vector{})
	test.That(t, len(outVertices), test.ShouldEqual, 1)
}

func TestDedupVoxelsDropsSecondPointInSameCell(t *testing.T) {
	// A 1cm voxel with a half-range offset from any multiple of the voxel
	// size keeps both points safely away from a cell boundary, so their
	// 0.5mm separation lands them in the same cell unambiguously.
	voxels := pointcloud.NewVoxelSet(0.01, 0, 0, 0.15, 0.995)
	vertices := []spatialmath.Point3f{
		{X: 0.0, Y: 0.0, Z: 0.15},
		{X: 0.0005, Y: 0.0005, Z: 0.1505},
	}
	colors := []spatialmath.RGB{{R: 1}, {R: 2}}

	outVertices, outColors := dedupVoxels(voxels, vertices, colors)
	test.That(t, len(outVertices), test.ShouldEqual, 1)
	test.That(t, outColors[0].R, test.ShouldEqual, uint8(1))
}

func TestSetSettingsAppliesBoundsAndFilterFlag(t *testing.T) {
	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)

	p.SetSettings(config.CameraSettings{
		MinBounds:        [3]float32{-1, -1, -1},
		MaxBounds:        [3]float32{1, 1, 1},
		Filter:           true,
		FilterNeighbours: 8,
		FilterThreshold:  0.02,
	})

	s := p.currentSettings()
	test.That(t, s.MinBounds, test.ShouldResemble, r3.Vector{X: -1, Y: -1, Z: -1})
	test.That(t, s.OutlierK, test.ShouldEqual, 8)

	p.SetSettings(config.CameraSettings{Filter: false})
	test.That(t, p.currentSettings().OutlierK, test.ShouldEqual, 0)
}

func TestEnableSyncSubordinateAcksImmediatelyMasterWaits(t *testing.T) {
	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)

	var acked []SyncRole
	p.EnableSync(RoleSubordinate, 2, func(r SyncRole) { acked = append(acked, r) })
	test.That(t, p.SyncRole(), test.ShouldEqual, RoleSubordinate)
	test.That(t, len(acked), test.ShouldEqual, 1)

	master := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)
	var masterAcked []SyncRole
	master.EnableSync(RoleMaster, 0, func(r SyncRole) { masterAcked = append(masterAcked, r) })
	test.That(t, len(masterAcked), test.ShouldEqual, 1)

	var startAcked []SyncRole
	master.StartMaster(func(r SyncRole) { startAcked = append(startAcked, r) })
	test.That(t, len(startAcked), test.ShouldEqual, 1)

	// A second StartMaster call with nothing pending is a no-op.
	master.StartMaster(func(r SyncRole) { startAcked = append(startAcked, r) })
	test.That(t, len(startAcked), test.ShouldEqual, 1)
}

func TestClearRecordingsRemovesFile(t *testing.T) {
	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)
	path := filepath.Join(t.TempDir(), "recording.bin")

	test.That(t, p.StartRecording(path), test.ShouldBeNil)
	test.That(t, p.ClearRecordings(), test.ShouldBeNil)

	_, err := p.RequestRecorded()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReceiveCalibrationUpdatesState(t *testing.T) {
	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)
	transform := spatialmath.AffineTransform{R: spatialmath.Identity().R, T: [3]float32{1, 2, 3}}

	p.ReceiveCalibration(transform)
	test.That(t, p.CalibrationState().IsCalibrated, test.ShouldBeTrue)
	test.That(t, p.CalibrationState().WorldT, test.ShouldResemble, transform.T)
}

func TestCalibrateResetsExistingCalibrationAndRequestsANewOne(t *testing.T) {
	p := New(Settings{}, blockingSource{}, logging.NewLogger("test"), nil)
	p.ReceiveCalibration(spatialmath.AffineTransform{R: spatialmath.Identity().R, T: [3]float32{1, 2, 3}})
	test.That(t, p.CalibrationState().IsCalibrated, test.ShouldBeTrue)

	p.Calibrate()
	test.That(t, p.CalibrationState().IsCalibrated, test.ShouldBeFalse)
	test.That(t, p.calibrateRequested.Load(), test.ShouldBeTrue)
}
