package pointcloud

import (
	"container/heap"

	"github.com/golang/geo/r3"
)

// KDTree is a static, single-index 3-D KD-tree built once over a point
// buffer (build is O(N log N) via median-of-slice partitioning) and queried
// repeatedly (each query is amortised O(log N)). Distances returned by KNN
// are squared Euclidean distances, avoiding a square root per candidate.
type KDTree struct {
	points []r3.Vector
	// nodes[i].pointIdx is the index into points stored at node i of the
	// tree; nodes are laid out by recursive median split, not as an
	// array-heap, so left/right children are tracked explicitly.
	nodes []kdNode
	root  int
}

type kdNode struct {
	pointIdx    int
	left, right int // -1 if absent
	axis        int
}

// BuildKDTree constructs a KD-tree over the given points. The tree holds a
// reference to points by index only; callers must not mutate the slice
// afterwards.
func BuildKDTree(points []r3.Vector) *KDTree {
	t := &KDTree{points: points}
	if len(points) == 0 {
		t.root = -1
		return t
	}
	idxs := make([]int, len(points))
	for i := range idxs {
		idxs[i] = i
	}
	t.nodes = make([]kdNode, 0, len(points))
	t.root = t.build(idxs, 0)
	return t
}

func (t *KDTree) build(idxs []int, depth int) int {
	if len(idxs) == 0 {
		return -1
	}
	axis := depth % 3
	mid := len(idxs) / 2
	// Partition idxs around its median on this axis in expected linear
	// time (quickselect) rather than sorting the whole slice, so the
	// overall build stays O(N log N) rather than O(N log^2 N).
	quickselect(idxs, mid, func(a, b int) bool {
		return axisValue(t.points[a], axis) < axisValue(t.points[b], axis)
	})

	node := kdNode{pointIdx: idxs[mid], axis: axis, left: -1, right: -1}
	nodeIdx := len(t.nodes)
	t.nodes = append(t.nodes, node)

	left := t.build(idxs[:mid], depth+1)
	right := t.build(idxs[mid+1:], depth+1)
	t.nodes[nodeIdx].left = left
	t.nodes[nodeIdx].right = right
	return nodeIdx
}

// quickselect partitions idxs in place so that idxs[k] holds the element
// that would occupy position k in a full ascending sort by less, with
// everything before it no greater and everything after no smaller.
func quickselect(idxs []int, k int, less func(a, b int) bool) {
	lo, hi := 0, len(idxs)-1
	for lo < hi {
		pivot := idxs[(lo+hi)/2]
		i, j := lo, hi
		for i <= j {
			for less(idxs[i], pivot) {
				i++
			}
			for less(pivot, idxs[j]) {
				j--
			}
			if i <= j {
				idxs[i], idxs[j] = idxs[j], idxs[i]
				i++
				j--
			}
		}
		if k <= j {
			hi = j
		} else if k >= i {
			lo = i
		} else {
			break
		}
	}
}

func axisValue(v r3.Vector, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// neighbourHeap is a bounded max-heap over squared distances, used to keep
// the k closest candidates seen so far during a KNN traversal.
type neighbourHeap struct {
	idx  []int
	dist []float64
}

func (h neighbourHeap) Len() int            { return len(h.dist) }
func (h neighbourHeap) Less(i, j int) bool  { return h.dist[i] > h.dist[j] }
func (h neighbourHeap) Swap(i, j int) {
	h.dist[i], h.dist[j] = h.dist[j], h.dist[i]
	h.idx[i], h.idx[j] = h.idx[j], h.idx[i]
}
func (h *neighbourHeap) Push(x interface{}) {
	p := x.(neighbourCandidate)
	h.idx = append(h.idx, p.idx)
	h.dist = append(h.dist, p.dist)
}
func (h *neighbourHeap) Pop() interface{} {
	n := len(h.dist)
	idx, dist := h.idx[n-1], h.dist[n-1]
	h.idx = h.idx[:n-1]
	h.dist = h.dist[:n-1]
	return neighbourCandidate{idx: idx, dist: dist}
}

type neighbourCandidate struct {
	idx  int
	dist float64
}

// KNN returns the k nearest neighbours of query, as indices into the
// original point buffer and their squared distances, both sorted ascending
// by distance. If the tree has fewer than k points, all points are
// returned.
func (t *KDTree) KNN(query r3.Vector, k int) ([]int, []float64) {
	if k <= 0 || t.root == -1 {
		return nil, nil
	}
	h := &neighbourHeap{}
	heap.Init(h)
	t.knnSearch(t.root, query, k, h)

	n := h.Len()
	indices := make([]int, n)
	distances := make([]float64, n)
	// Pop the max-heap to get descending order, then reverse for ascending.
	for i := n - 1; i >= 0; i-- {
		c := heap.Pop(h).(neighbourCandidate)
		indices[i] = c.idx
		distances[i] = c.dist
	}
	return indices, distances
}

func (t *KDTree) knnSearch(nodeIdx int, query r3.Vector, k int, h *neighbourHeap) {
	if nodeIdx == -1 {
		return
	}
	node := t.nodes[nodeIdx]
	p := t.points[node.pointIdx]
	d := squaredDistance(p, query)

	if h.Len() < k {
		heap.Push(h, neighbourCandidate{idx: node.pointIdx, dist: d})
	} else if d < h.dist[0] {
		heap.Pop(h)
		heap.Push(h, neighbourCandidate{idx: node.pointIdx, dist: d})
	}

	diff := axisValue(query, node.axis) - axisValue(p, node.axis)
	near, far := node.left, node.right
	if diff > 0 {
		near, far = node.right, node.left
	}

	t.knnSearch(near, query, k, h)

	// Only descend into the far side if the splitting plane is closer than
	// our current worst kept candidate (or we don't have k yet).
	if h.Len() < k || diff*diff < h.dist[0] {
		t.knnSearch(far, query, k, h)
	}
}

func squaredDistance(a, b r3.Vector) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}
