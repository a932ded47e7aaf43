// Package render implements the geometry side of the rendering contract
// (§4.C13): expanding decoded points into camera-facing billboard quads and
// sizing the planar quad a decoded document is displayed on. It has no
// windowing or GPU dependency; a display layer consumes the vertex arrays
// produced here.
package render

import (
	"github.com/golang/geo/r3"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// PixelToMeter converts a decoded document's pixel dimensions to the metre
// size of its display quad (§4.C13).
const PixelToMeter = 0.26 / 1000.0

// MinDocumentSize and MaxDocumentSize clamp the document quad's edge length
// in metres, so a tiny or oversized detection doesn't produce a degenerate
// or scene-dominating quad.
const (
	MinDocumentSize = 0.05
	MaxDocumentSize = 1.0
)

// PointSize returns the world-space edge length of a billboard quad for a
// point transmitted at scale S, following `precision = 1/S,
// size = 170*precision^2 + 0.8*precision + 0.002` (§4.C13).
func PointSize(scale uint16) float64 {
	precision := 1.0 / float64(scale)
	return 170*precision*precision + 0.8*precision + 0.002
}

// Vertex is one billboard-quad corner: a world position, its colour, and
// the quad-local UV used to orient the camera-facing expansion.
type Vertex struct {
	Position r3.Vector
	Color    spatialmath.RGB
	U, V     float32
}

// quadOffsets are the six corner offsets (two triangles) of a unit
// camera-facing billboard, wound so both triangles face the same way.
var quadOffsets = [6]struct{ u, v float32 }{
	{-0.5, -0.5}, {0.5, -0.5}, {0.5, 0.5},
	{-0.5, -0.5}, {0.5, 0.5}, {-0.5, 0.5},
}

// Billboard expands one decoded point into the six vertices of a
// camera-facing quad of the given world size, centred on the right/up
// basis vectors supplied by the caller's camera (§4.C13: "each point is
// expanded into a 6-vertex camera-facing billboard").
func Billboard(center r3.Vector, color spatialmath.RGB, size float64, right, up r3.Vector) [6]Vertex {
	var out [6]Vertex
	for i, off := range quadOffsets {
		offset := right.Mul(float64(off.u) * size).Add(up.Mul(float64(off.v) * size))
		out[i] = Vertex{
			Position: center.Add(offset),
			Color:    color,
			U:        off.u + 0.5,
			V:        off.v + 0.5,
		}
	}
	return out
}

// DocumentQuadSize converts a decoded document's pixel width/height to a
// clamped metre size for its display quad, preserving aspect ratio around
// the longer edge.
func DocumentQuadSize(width, height int) (w, h float64) {
	w = float64(width) * PixelToMeter
	h = float64(height) * PixelToMeter

	longest := w
	if h > longest {
		longest = h
	}
	if longest == 0 {
		return MinDocumentSize, MinDocumentSize
	}

	clamp := 1.0
	if longest < MinDocumentSize {
		clamp = MinDocumentSize / longest
	} else if longest > MaxDocumentSize {
		clamp = MaxDocumentSize / longest
	}
	return w * clamp, h * clamp
}

// DocumentQuad returns the four corners of a document display quad
// centred at center, in the plane spanned by right/up, sized by
// DocumentQuadSize.
func DocumentQuad(center r3.Vector, width, height int, right, up r3.Vector) [4]r3.Vector {
	w, h := DocumentQuadSize(width, height)
	halfW, halfH := w/2, h/2

	return [4]r3.Vector{
		center.Add(right.Mul(-halfW)).Add(up.Mul(-halfH)),
		center.Add(right.Mul(halfW)).Add(up.Mul(-halfH)),
		center.Add(right.Mul(halfW)).Add(up.Mul(halfH)),
		center.Add(right.Mul(-halfW)).Add(up.Mul(halfH)),
	}
}
