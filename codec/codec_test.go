package codec

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.bin")

	w, err := NewWriter(path)
	test.That(t, err, test.ShouldBeNil)

	frame := Frame{
		Points: []spatialmath.Point3s{
			{X: 1, Y: 2, Z: 3},
			{X: -1, Y: -2, Z: -3},
		},
		Colors: []spatialmath.RGB{
			{R: 10, G: 20, B: 30},
			{R: 40, G: 50, B: 60},
		},
		Timestamp: 1234,
	}
	test.That(t, w.WriteFrame(frame), test.ShouldBeNil)

	emptyFrame := Frame{Timestamp: 5678}
	test.That(t, w.WriteFrame(emptyFrame), test.ShouldBeNil)
	test.That(t, w.Close(), test.ShouldBeNil)

	r, closeFn, err := NewReader(path)
	test.That(t, err, test.ShouldBeNil)
	defer closeFn()

	got, err := r.ReadFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got.Points), test.ShouldEqual, 2)
	test.That(t, got.Timestamp, test.ShouldEqual, uint64(1234))
	test.That(t, got.Points[0], test.ShouldResemble, frame.Points[0])
	test.That(t, got.Colors[1], test.ShouldResemble, frame.Colors[1])

	got, err = r.ReadFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(got.Points), test.ShouldEqual, 0)
	test.That(t, got.Timestamp, test.ShouldEqual, uint64(5678))

	_, err = r.ReadFrame()
	test.That(t, err, test.ShouldEqual, io.EOF)
}

func TestLoopingReaderReopensAtEOF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recording.bin")

	w, err := NewWriter(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, w.WriteFrame(Frame{Timestamp: 1}), test.ShouldBeNil)
	test.That(t, w.WriteFrame(Frame{Timestamp: 2}), test.ShouldBeNil)
	test.That(t, w.Close(), test.ShouldBeNil)

	lr, err := NewLoopingReader(path)
	test.That(t, err, test.ShouldBeNil)
	defer lr.Close()

	f, err := lr.ReadFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Timestamp, test.ShouldEqual, uint64(1))

	f, err = lr.ReadFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Timestamp, test.ShouldEqual, uint64(2))

	// Playback hits EOF here and transparently reopens, so the third read
	// sees the first frame again instead of returning io.EOF.
	f, err = lr.ReadFrame()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Timestamp, test.ShouldEqual, uint64(1))
}

func TestRecordingFileNameFormat(t *testing.T) {
	at, err := time.Parse(time.RFC3339, "2026-08-06T09:03:07Z")
	test.That(t, err, test.ShouldBeNil)

	name := RecordingFileName(2, at)
	test.That(t, name, test.ShouldEqual, "recording_2_2026_08_06_09_03_07.bin")
}
