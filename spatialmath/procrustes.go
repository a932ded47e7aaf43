package spatialmath

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// ProcrustesResult is the rigid alignment mapping a centred source point set
// onto a centred target point set: with points as row vectors
// source_i*R ~= target_i, i.e. target_i ~= R^T*source_i (InverseRotateVector),
// with T the translation that centres the target set (T = -centroid(target)).
type ProcrustesResult struct {
	R [3][3]float32
	T [3]float32
}

// Procrustes computes the least-squares rigid alignment of source onto
// target (both slices of equal length, rows-as-points), following the
// classic centroid-translation + SVD-of-cross-covariance recipe: form
// M = A^T*B where A, B are the centred source and target sets, take the SVD
// of M, and set R = U*V^T, flipping the last singular vector if that
// produces a reflection (det(R) < 0).
func Procrustes(source, target []r3.Vector) ProcrustesResult {
	n := len(source)

	var srcCentroid, tgtCentroid r3.Vector
	for i := 0; i < n; i++ {
		srcCentroid = srcCentroid.Add(source[i])
		tgtCentroid = tgtCentroid.Add(target[i])
	}
	srcCentroid = srcCentroid.Mul(1 / float64(n))
	tgtCentroid = tgtCentroid.Mul(1 / float64(n))

	a := mat.NewDense(n, 3, nil)
	b := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		sc := source[i].Sub(srcCentroid)
		tc := target[i].Sub(tgtCentroid)
		a.SetRow(i, []float64{sc.X, sc.Y, sc.Z})
		b.SetRow(i, []float64{tc.X, tc.Y, tc.Z})
	}

	var m mat.Dense
	m.Mul(a.T(), b)

	r := rotationFromCrossCovariance(&m)

	t := tgtCentroid.Mul(-1)

	return ProcrustesResult{R: r, T: toArray(t)}
}

// rotationFromCrossCovariance takes the 3x3 cross-covariance matrix M and
// returns the optimal rotation R = U*V^T from its SVD, correcting for a
// reflection (det(R) < 0) by negating the last column of U, as documented
// in §4.C5/§4.C6.
func rotationFromCrossCovariance(m *mat.Dense) [3][3]float32 {
	var svd mat.SVD
	ok := svd.Factorize(m, mat.SVDFull)
	if !ok {
		return Identity().R
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())

	if mat.Det(&r) < 0 {
		// Flip the sign of the third column of U (equivalently, right-
		// multiply by diag(1,1,-1)) to turn the reflection into a proper
		// rotation.
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}

	var out [3][3]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = float32(r.At(i, j))
		}
	}
	return out
}
