package pointcloud

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestKDTreeKNNMatchesBruteForce(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	points := make([]r3.Vector, 200)
	for i := range points {
		points[i] = r3.Vector{X: rnd.Float64() * 10, Y: rnd.Float64() * 10, Z: rnd.Float64() * 10}
	}
	tree := BuildKDTree(points)

	query := r3.Vector{X: 5, Y: 5, Z: 5}
	const k = 7

	gotIdx, gotDist := tree.KNN(query, k)
	test.That(t, len(gotIdx), test.ShouldEqual, k)

	// Brute-force reference.
	type cand struct {
		idx  int
		dist float64
	}
	all := make([]cand, len(points))
	for i, p := range points {
		all[i] = cand{idx: i, dist: squaredDistance(p, query)}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })

	for i := 0; i < k; i++ {
		test.That(t, gotDist[i], test.ShouldAlmostEqual, all[i].dist, 1e-9)
	}

	// Distances must be non-decreasing.
	for i := 1; i < len(gotDist); i++ {
		test.That(t, gotDist[i], test.ShouldBeGreaterThanOrEqualTo, gotDist[i-1])
	}
}

func TestKDTreeKNNFewerPointsThanK(t *testing.T) {
	points := []r3.Vector{{X: 0, Y: 0, Z: 0}, {X: 1, Y: 1, Z: 1}}
	tree := BuildKDTree(points)

	idx, dist := tree.KNN(r3.Vector{X: 0, Y: 0, Z: 0}, 10)
	test.That(t, len(idx), test.ShouldEqual, 2)
	test.That(t, len(dist), test.ShouldEqual, 2)
}

func TestKDTreeEmpty(t *testing.T) {
	tree := BuildKDTree(nil)
	idx, dist := tree.KNN(r3.Vector{}, 3)
	test.That(t, idx, test.ShouldBeNil)
	test.That(t, dist, test.ShouldBeNil)
}
