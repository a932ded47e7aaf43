package codec

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

func TestReadPLYParsesAsciiVertices(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fixture.ply")

	content := "ply\n" +
		"format ascii 1.0\n" +
		"element vertex 2\n" +
		"property float x\n" +
		"property float y\n" +
		"property float z\n" +
		"property uchar red\n" +
		"property uchar green\n" +
		"property uchar blue\n" +
		"end_header\n" +
		"1.0 2.0 3.0 255 0 0\n" +
		"-1.0 -2.0 -3.0 0 255 0\n"

	test.That(t, os.WriteFile(path, []byte(content), 0o644), test.ShouldBeNil)

	frame, err := ReadPLY(path, 42)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(frame.Points), test.ShouldEqual, 2)
	test.That(t, frame.Colors[0].R, test.ShouldEqual, uint8(255))
	test.That(t, frame.Timestamp, test.ShouldEqual, uint64(42))
}

func TestWritePLYAsciiRoundTripsThroughReadPLY(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.ply")

	frame := Frame{
		Points: []spatialmath.Point3s{{X: 1000, Y: 2000, Z: 3000}, {X: -1000, Y: -2000, Z: -3000}},
		Colors: []spatialmath.RGB{{R: 255, G: 0, B: 0}, {R: 0, G: 255, B: 0}},
	}

	test.That(t, WritePLY(path, frame, false), test.ShouldBeNil)

	readBack, err := ReadPLY(path, 7)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(readBack.Points), test.ShouldEqual, 2)
	test.That(t, readBack.Colors[0].R, test.ShouldEqual, uint8(255))
	test.That(t, readBack.Colors[1].G, test.ShouldEqual, uint8(255))
}

func TestWritePLYBinaryProducesNonEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out_binary.ply")

	frame := Frame{
		Points: []spatialmath.Point3s{{X: 100, Y: 200, Z: 300}},
		Colors: []spatialmath.RGB{{R: 10, G: 20, B: 30}},
	}

	test.That(t, WritePLY(path, frame, true), test.ShouldBeNil)

	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, int64(0))
}
