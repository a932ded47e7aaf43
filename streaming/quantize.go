package streaming

import (
	"math"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// Scale picks the dynamic per-frame quantization scale from the current
// fused point count: denser clouds get a coarser scale so the encoded byte
// range still covers the configured half-range, while sparse clouds get a
// finer one, clamped to [400, 255/minPrecision] (§4.C11 step 2).
func Scale(pointCount int, minPrecision float64) uint16 {
	n := float64(pointCount)
	if n < 1 {
		n = 1
	}
	s := math.Round(6700 - 500*math.Log(n))
	lo, hi := 400.0, 255.0/minPrecision
	if s < lo {
		s = lo
	}
	if s > hi {
		s = hi
	}
	return uint16(s)
}

// QuantizedPoint is one point's byte-quantized position plus its color, as
// written to the wire.
type QuantizedPoint struct {
	BX, BY, BZ byte
	Color      spatialmath.RGB
}

// Quantize filters and encodes fused points against a scale and a
// half-range box centred at (0, 0, halfRange), deduplicating points that
// land on the same encoded cell and keeping the first occurrence's color
// (§4.C11 step 3).
func Quantize(vertices []spatialmath.Point3f, colors []spatialmath.RGB, scale uint16, halfRange float64) []QuantizedPoint {
	type cell struct{ x, y, z byte }
	seen := make(map[cell]bool, len(vertices))

	out := make([]QuantizedPoint, 0, len(vertices))
	for i, v := range vertices {
		x, y, z := float64(v.X), float64(v.Y), float64(v.Z)
		if x < -halfRange || x > halfRange || y < -halfRange || y > halfRange {
			continue
		}
		if z < 0 || z > 2*halfRange {
			continue
		}

		bx := quantizeAxis(x, 0, halfRange, scale)
		by := quantizeAxis(y, 0, halfRange, scale)
		bz := quantizeAxis(z, halfRange, halfRange, scale)

		c := cell{bx, by, bz}
		if seen[c] {
			continue
		}
		seen[c] = true

		out = append(out, QuantizedPoint{BX: bx, BY: by, BZ: bz, Color: colors[i]})
	}
	return out
}

func quantizeAxis(v, centre, halfRange float64, scale uint16) byte {
	encoded := math.Round((v + halfRange - centre) * float64(scale))
	if encoded < 0 {
		encoded = 0
	}
	if encoded > 255 {
		encoded = 255
	}
	return byte(encoded)
}
