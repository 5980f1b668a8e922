package raytrace

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/geometry"
)

const (
	leafSize      = 4
	detEpsilon    = 1e-12
	hitEpsilon    = 1e-9
	maxHitsPerRay = 4096
	maxStackDepth = 128
)

type bvhNode struct {
	lo, hi      r3.Vec
	left, right int
	start, end  int
}

func (n *bvhNode) leaf() bool { return n.left < 0 }

// BVH is a bounding-volume hierarchy over the triangles of a mesh
type BVH struct {
	mesh      *geometry.Mesh
	nodes     []bvhNode
	tris      []int
	centroids []r3.Vec
}

// NewBVH builds the hierarchy with median splits along the longest centroid axis
func NewBVH(mesh *geometry.Mesh) *BVH {
	b := &BVH{
		mesh:      mesh,
		tris:      make([]int, len(mesh.Faces)),
		centroids: make([]r3.Vec, len(mesh.Faces)),
	}
	for i := range mesh.Faces {
		b.tris[i] = i
		p, q, r := mesh.Triangle(i)
		b.centroids[i] = r3.Scale(1.0/3.0, r3.Add(p, r3.Add(q, r)))
	}
	if len(b.tris) > 0 {
		b.nodes = make([]bvhNode, 0, 2*len(b.tris)/leafSize+1)
		b.build(0, len(b.tris))
	}
	return b
}

func (b *BVH) build(start, end int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, bvhNode{left: -1, right: -1, start: start, end: end})

	lo, hi := b.triBounds(start, end)
	b.nodes[idx].lo, b.nodes[idx].hi = lo, hi
	if end-start <= leafSize {
		return idx
	}

	clo, chi := b.centroidBounds(start, end)
	ext := r3.Sub(chi, clo)
	axis := 0
	if ext.Y > ext.X && ext.Y >= ext.Z {
		axis = 1
	} else if ext.Z > ext.X && ext.Z > ext.Y {
		axis = 2
	}
	sub := b.tris[start:end]
	sort.Slice(sub, func(i, j int) bool {
		return component(b.centroids[sub[i]], axis) < component(b.centroids[sub[j]], axis)
	})

	mid := (start + end) / 2
	left := b.build(start, mid)
	right := b.build(mid, end)
	b.nodes[idx].left = left
	b.nodes[idx].right = right
	return idx
}

func (b *BVH) triBounds(start, end int) (r3.Vec, r3.Vec) {
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, t := range b.tris[start:end] {
		p, q, r := b.mesh.Triangle(t)
		for _, v := range [3]r3.Vec{p, q, r} {
			lo, hi = expand(lo, hi, v)
		}
	}
	return lo, hi
}

func (b *BVH) centroidBounds(start, end int) (r3.Vec, r3.Vec) {
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, t := range b.tris[start:end] {
		lo, hi = expand(lo, hi, b.centroids[t])
	}
	return lo, hi
}

// AllHits appends every ray parameter t > 0 at which the ray crosses a
// triangle. dir must be a unit vector. Non-finite intersection parameters
// are reported as a retryable failure.
func (b *BVH) AllHits(origin, dir r3.Vec, dst []float64) ([]float64, error) {
	if len(b.nodes) == 0 {
		return dst, nil
	}
	var stack [maxStackDepth]int
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		n := &b.nodes[stack[sp]]
		if !rayHitsBox(origin, dir, n.lo, n.hi) {
			continue
		}
		if n.leaf() {
			for _, tri := range b.tris[n.start:n.end] {
				t, ok, err := b.intersectTriangle(tri, origin, dir)
				if err != nil {
					return dst, err
				}
				if ok {
					dst = append(dst, t)
					if len(dst) > maxHitsPerRay {
						return dst, fmt.Errorf("%w: more than %d crossings", core.ErrRetryableIntersection, maxHitsPerRay)
					}
				}
			}
			continue
		}
		if sp+2 > maxStackDepth {
			return dst, fmt.Errorf("%w: traversal stack exhausted", core.ErrRetryableIntersection)
		}
		stack[sp] = n.left
		stack[sp+1] = n.right
		sp += 2
	}
	return dst, nil
}

// intersectTriangle is the Moller-Trumbore test; only t > hitEpsilon counts
func (b *BVH) intersectTriangle(tri int, origin, dir r3.Vec) (float64, bool, error) {
	v0, v1, v2 := b.mesh.Triangle(tri)
	e1 := r3.Sub(v1, v0)
	e2 := r3.Sub(v2, v0)
	p := r3.Cross(dir, e2)
	det := r3.Dot(e1, p)
	if math.Abs(det) < detEpsilon {
		return 0, false, nil
	}
	inv := 1.0 / det
	s := r3.Sub(origin, v0)
	u := r3.Dot(s, p) * inv
	if u < 0 || u > 1 {
		return 0, false, nil
	}
	q := r3.Cross(s, e1)
	v := r3.Dot(dir, q) * inv
	if v < 0 || u+v > 1 {
		return 0, false, nil
	}
	t := r3.Dot(e2, q) * inv
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, false, fmt.Errorf("%w: non-finite hit parameter on triangle %d", core.ErrRetryableIntersection, tri)
	}
	if t <= hitEpsilon {
		return 0, false, nil
	}
	return t, true, nil
}

// rayHitsBox is the slab test with axis-parallel rays handled explicitly
func rayHitsBox(o, d, lo, hi r3.Vec) bool {
	tmin, tmax := 0.0, math.Inf(1)
	for axis := 0; axis < 3; axis++ {
		oa, da := component(o, axis), component(d, axis)
		la, ha := component(lo, axis), component(hi, axis)
		if da == 0 {
			if oa < la || oa > ha {
				return false
			}
			continue
		}
		t1 := (la - oa) / da
		t2 := (ha - oa) / da
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax*(1+1e-12)+1e-12 {
			return false
		}
	}
	return true
}

func expand(lo, hi, v r3.Vec) (r3.Vec, r3.Vec) {
	return r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)},
		r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
}

func component(v r3.Vec, axis int) float64 {
	switch axis {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
