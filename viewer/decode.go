// Package viewer implements the receiving half of the point-cloud and
// document wire protocols (§4.C12): decoding the byte-quantised positions a
// PointCloudServer streams back into metric points, and the small header
// parsing needed to pull a JPEG document crop off the wire.
package viewer

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// DecodedPoint is a single point after the server's byte quantisation has
// been undone: a metric position and its colour, ready to hand to a
// renderer.
type DecodedPoint struct {
	Position spatialmath.Point3f
	Color    spatialmath.RGB
}

// Frame is one decoded point-cloud pull response.
type Frame struct {
	Scale  uint16
	Points []DecodedPoint
}

// pointCloudHeaderSize is the 2-byte scale plus 4-byte count prefix written
// by the point-cloud server ahead of the position/colour arrays.
const pointCloudHeaderSize = 6

// DecodeFrame reads one point-cloud pull response from r: the header, the
// BXYZ position bytes, then the colour bytes, converting each axis back to
// metres with the inverse of the server's quantisation formula
// (§4.C12: `b/S − HalfRange + centre`) and flipping Y to match the
// receiver's world-up convention.
func DecodeFrame(r io.Reader, halfRange float64) (Frame, error) {
	header := make([]byte, pointCloudHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, errors.Wrap(err, "reading point cloud frame header")
	}
	scale := binary.LittleEndian.Uint16(header[0:2])
	count := binary.LittleEndian.Uint32(header[2:6])

	positions := make([]byte, int(count)*3)
	if _, err := io.ReadFull(r, positions); err != nil {
		return Frame{}, errors.Wrap(err, "reading point cloud positions")
	}
	colors := make([]byte, int(count)*3)
	if _, err := io.ReadFull(r, colors); err != nil {
		return Frame{}, errors.Wrap(err, "reading point cloud colors")
	}

	points := make([]DecodedPoint, count)
	for i := 0; i < int(count); i++ {
		x := decodeAxis(positions[i*3], scale, halfRange, 0)
		y := decodeAxis(positions[i*3+1], scale, halfRange, 0)
		z := decodeAxis(positions[i*3+2], scale, halfRange, halfRange)

		points[i] = DecodedPoint{
			Position: spatialmath.Point3f{X: float32(x), Y: float32(-y), Z: float32(z)},
			Color: spatialmath.RGB{
				B: colors[i*3],
				G: colors[i*3+1],
				R: colors[i*3+2],
			},
		}
	}

	return Frame{Scale: scale, Points: points}, nil
}

func decodeAxis(b byte, scale uint16, halfRange, centre float64) float64 {
	return float64(b)/float64(scale) - halfRange + centre
}

// PullRequest is the single byte a viewer writes to request the next frame
// from either streaming server.
const PullRequest = 0x00

// RequestFrame writes the pull byte to w.
func RequestFrame(w io.Writer) error {
	_, err := w.Write([]byte{PullRequest})
	return err
}

// Document is one decoded document pull response: its pixel dimensions and
// raw JPEG bytes, undecoded (decoding to an image is left to the caller's
// display layer).
type Document struct {
	Width  int
	Height int
	JPEG   []byte
}

const documentHeaderSize = 12

// DecodeDocument reads one document pull response from r.
func DecodeDocument(r io.Reader) (Document, error) {
	header := make([]byte, documentHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Document{}, errors.Wrap(err, "reading document frame header")
	}
	width := binary.LittleEndian.Uint32(header[0:4])
	height := binary.LittleEndian.Uint32(header[4:8])
	size := binary.LittleEndian.Uint32(header[8:12])

	jpeg := make([]byte, size)
	if _, err := io.ReadFull(r, jpeg); err != nil {
		return Document{}, errors.Wrap(err, "reading document jpeg bytes")
	}

	return Document{Width: int(width), Height: int(height), JPEG: jpeg}, nil
}
