package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/rarchambault/Holoportation-2025-2026/spatialmath"
)

// ICPResult carries the outcome of RegisterICP: the source cloud after all
// iterations of rigid alignment, the accumulated rotation/translation that
// produced it (pose convention: Source_i = R*source_i + T), and the final
// mean residual (mean of sqrt(matched squared
// distance) over the last iteration's surviving pairs).
type ICPResult struct {
	Source   []r3.Vector
	R        [3][3]float32
	T        [3]float32
	Residual float64
}

// RegisterICP rigidly aligns source onto target over at most maxIter
// iterations of the classic closest-point / rigid-fit loop (§4.C6):
// nearest-neighbour correspondence with one-to-one pairing in the target
// direction, outlier rejection beyond 2.5 standard deviations, a centroid
// translation, and an SVD-derived rotation update.
func RegisterICP(target, source []r3.Vector, maxIter int) ICPResult {
	accumR := spatialmath.Identity().R
	var accumT [3]float32

	working := make([]r3.Vector, len(source))
	copy(working, source)

	var residual float64

	for iter := 0; iter < maxIter; iter++ {
		targetTree := BuildKDTree(target)

		// Nearest target neighbour for every working (source) point.
		matchTargetIdx := make([]int, len(working))
		matchDist := make([]float64, len(working))
		for i, p := range working {
			idxs, dists := targetTree.KNN(p, 1)
			if len(idxs) == 0 {
				matchTargetIdx[i] = -1
				continue
			}
			matchTargetIdx[i] = idxs[0]
			matchDist[i] = dists[0]
		}

		// One-to-one pairing: for each target index, keep only the
		// closest source match.
		bestSourceForTarget := make(map[int]int)
		for i, tgtIdx := range matchTargetIdx {
			if tgtIdx == -1 {
				continue
			}
			if cur, ok := bestSourceForTarget[tgtIdx]; !ok || matchDist[i] < matchDist[cur] {
				bestSourceForTarget[tgtIdx] = i
			}
		}

		var matchedTarget, matchedSource []r3.Vector
		var matchedDist []float64
		for tgtIdx, srcIdx := range bestSourceForTarget {
			matchedTarget = append(matchedTarget, target[tgtIdx])
			matchedSource = append(matchedSource, working[srcIdx])
			matchedDist = append(matchedDist, matchDist[srcIdx])
		}

		matchedTarget, matchedSource, matchedDist = rejectOutlierMatches(matchedTarget, matchedSource, matchedDist, 2.5)

		if len(matchedTarget) == 0 {
			break
		}

		// Centroid shift.
		var shift r3.Vector
		for i := range matchedTarget {
			shift = shift.Add(matchedTarget[i].Sub(matchedSource[i]))
		}
		shift = shift.Mul(1 / float64(len(matchedTarget)))

		for i := range working {
			working[i] = working[i].Add(shift)
		}
		for i := range matchedSource {
			matchedSource[i] = matchedSource[i].Add(shift)
		}

		// Procrustes' R satisfies target ~= R^T*source, so its transpose is
		// the rotation that carries the working points onto the target.
		deltaR := spatialmath.TransposeRotation(rotationUpdate(matchedSource, matchedTarget))

		for i := range working {
			working[i] = spatialmath.RotateVector(working[i], deltaR)
		}

		accumR = spatialmath.MulRotation(deltaR, accumR)
		accumT = toArray3(spatialmath.RotateVector(vec3(accumT).Add(shift), deltaR))

		residual = 0
		for _, d := range matchedDist {
			residual += math.Sqrt(d)
		}
		residual /= float64(len(matchedDist))
	}

	return ICPResult{Source: working, R: accumR, T: accumT, Residual: residual}
}

// rejectOutlierMatches drops the pairs whose distance lies more than
// maxStdDev standard deviations above the mean pair distance.
func rejectOutlierMatches(target, source []r3.Vector, dist []float64, maxStdDev float64) ([]r3.Vector, []r3.Vector, []float64) {
	if len(dist) == 0 {
		return target, source, dist
	}
	var mean float64
	for _, d := range dist {
		mean += d
	}
	mean /= float64(len(dist))
	threshold := mean + maxStdDev*standardDeviation(dist)

	var outTarget, outSource []r3.Vector
	var outDist []float64
	for i, d := range dist {
		if d > threshold {
			continue
		}
		outTarget = append(outTarget, target[i])
		outSource = append(outSource, source[i])
		outDist = append(outDist, d)
	}
	return outTarget, outSource, outDist
}

func standardDeviation(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var mean float64
	for _, v := range data {
		mean += v
	}
	mean /= float64(len(data))

	var variance float64
	for _, v := range data {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(data))
	return math.Sqrt(variance)
}

// rotationUpdate computes the SVD-derived rotation aligning centred source
// onto centred target, correcting a reflection exactly as Procrustes does.
func rotationUpdate(source, target []r3.Vector) [3][3]float32 {
	return spatialmath.Procrustes(source, target).R
}

func vec3(a [3]float32) r3.Vector {
	return r3.Vector{X: float64(a[0]), Y: float64(a[1]), Z: float64(a[2])}
}

func toArray3(v r3.Vector) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}
