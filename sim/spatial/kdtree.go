// Package spatial provides a k-d tree for k-nearest-neighbor and radius queries
// over small point sets. Trees are bulk-loaded once per query set.
package spatial

import (
	"container/heap"
	"math"
	"sort"
)

// DefaultBucketSize is the leaf capacity below which nodes stop splitting.
const DefaultBucketSize = 5

// Point is a position with an opaque payload.
type Point struct {
	Pos  []float64
	Item any
}

// Neighbor is one query result.
type Neighbor struct {
	Point
	DistSq float64
}

// Query bounds a search. Zero values mean unlimited.
type Query struct {
	K        int     // keep at most K results
	Radius   float64 // keep only results within Radius
	Epsilon  float64 // approximation factor; nodes farther than (1+ε)² × worst are pruned
	MaxNodes int     // stop after visiting this many nodes
}

type node struct {
	lo, hi      []float64 // bounding box
	axis        int
	split       float64
	left, right *node
	points      []Point // leaves only
}

// Tree is an immutable k-d tree.
type Tree struct {
	root       *node
	dims       int
	size       int
	bucketSize int
}

// Build bulk-loads a tree. Points must share a dimension; shorter positions are
// treated as zero-padded.
func Build(points []Point) *Tree {
	return BuildBucket(points, DefaultBucketSize)
}

// BuildBucket is Build with an explicit leaf capacity.
func BuildBucket(points []Point, bucketSize int) *Tree {
	if bucketSize < 1 {
		bucketSize = 1
	}
	t := &Tree{size: len(points), bucketSize: bucketSize}
	for _, p := range points {
		t.dims = max(t.dims, len(p.Pos))
	}
	if len(points) == 0 {
		return t
	}
	owned := make([]Point, len(points))
	for i, p := range points {
		owned[i] = Point{Pos: pad(p.Pos, t.dims), Item: p.Item}
	}
	t.root = t.build(owned)
	return t
}

// Len returns the number of points in the tree.
func (t *Tree) Len() int { return t.size }

func (t *Tree) build(points []Point) *node {
	n := &node{lo: make([]float64, t.dims), hi: make([]float64, t.dims)}
	for d := 0; d < t.dims; d++ {
		n.lo[d] = math.Inf(1)
		n.hi[d] = math.Inf(-1)
	}
	for _, p := range points {
		for d, x := range p.Pos {
			n.lo[d] = min(n.lo[d], x)
			n.hi[d] = max(n.hi[d], x)
		}
	}
	if len(points) <= t.bucketSize {
		n.points = points
		return n
	}

	// Split on the longest axis at the median.
	longest := -1.0
	for d := 0; d < t.dims; d++ {
		if extent := n.hi[d] - n.lo[d]; extent > longest {
			longest = extent
			n.axis = d
		}
	}
	if longest == 0 {
		// All points coincide; nothing to split.
		n.points = points
		return n
	}
	axis := n.axis
	sort.Slice(points, func(i, j int) bool { return points[i].Pos[axis] < points[j].Pos[axis] })
	mid := len(points) / 2
	n.split = points[mid].Pos[axis]
	n.left = t.build(points[:mid])
	n.right = t.build(points[mid:])
	return n
}

// Nearest returns neighbors of q sorted by ascending distance.
func (t *Tree) Nearest(q []float64, query Query) []Neighbor {
	if t.root == nil {
		return nil
	}
	q = pad(q, t.dims)

	bound := math.Inf(1)
	if query.Radius > 0 {
		bound = query.Radius * query.Radius
	}
	relax := (1 + query.Epsilon) * (1 + query.Epsilon)

	results := &resultSet{k: query.K}
	frontier := &nodeQueue{{n: t.root, distSq: t.root.boxDistSq(q)}}
	visited := 0
	for frontier.Len() > 0 {
		if query.MaxNodes > 0 && visited >= query.MaxNodes {
			break
		}
		next := heap.Pop(frontier).(nodeDist)
		if next.distSq*relax > results.worst(bound) {
			// Frontier is ordered, so every remaining node is at least as far.
			break
		}
		visited++
		n := next.n
		if n.points != nil {
			for _, p := range n.points {
				d := distSq(q, p.Pos)
				if d <= bound {
					results.offer(Neighbor{Point: p, DistSq: d})
				}
			}
			continue
		}
		for _, child := range []*node{n.left, n.right} {
			d := child.boxDistSq(q)
			if d*relax <= results.worst(bound) {
				heap.Push(frontier, nodeDist{n: child, distSq: d})
			}
		}
	}
	return results.sorted()
}

// boxDistSq is the squared distance from q to the node's bounding box.
func (n *node) boxDistSq(q []float64) float64 {
	var sum float64
	for d, x := range q {
		switch {
		case x < n.lo[d]:
			sum += (n.lo[d] - x) * (n.lo[d] - x)
		case x > n.hi[d]:
			sum += (x - n.hi[d]) * (x - n.hi[d])
		}
	}
	return sum
}

func distSq(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

func pad(p []float64, dims int) []float64 {
	if len(p) == dims {
		return p
	}
	out := make([]float64, dims)
	copy(out, p)
	return out
}

type nodeDist struct {
	n      *node
	distSq float64
}

// nodeQueue is a min-heap of nodes by box distance.
type nodeQueue []nodeDist

func (q nodeQueue) Len() int           { return len(q) }
func (q nodeQueue) Less(i, j int) bool { return q[i].distSq < q[j].distSq }
func (q nodeQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }

func (q *nodeQueue) Push(x any) { *q = append(*q, x.(nodeDist)) }

func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// resultSet keeps the k closest neighbors as a max-heap on distance.
type resultSet struct {
	k     int
	items []Neighbor
}

func (r *resultSet) Len() int           { return len(r.items) }
func (r *resultSet) Less(i, j int) bool { return r.items[i].DistSq > r.items[j].DistSq }
func (r *resultSet) Swap(i, j int)      { r.items[i], r.items[j] = r.items[j], r.items[i] }
func (r *resultSet) Push(x any)         { r.items = append(r.items, x.(Neighbor)) }

func (r *resultSet) Pop() any {
	n := len(r.items)
	item := r.items[n-1]
	r.items = r.items[:n-1]
	return item
}

// worst is the pruning bound: the farthest kept distance once full, else bound.
func (r *resultSet) worst(bound float64) float64 {
	if r.k > 0 && len(r.items) >= r.k {
		return min(bound, r.items[0].DistSq)
	}
	return bound
}

func (r *resultSet) offer(n Neighbor) {
	heap.Push(r, n)
	if r.k > 0 && len(r.items) > r.k {
		heap.Pop(r)
	}
}

func (r *resultSet) sorted() []Neighbor {
	out := append([]Neighbor(nil), r.items...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DistSq < out[j].DistSq })
	return out
}
