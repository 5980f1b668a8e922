package geometry

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
)

// Mesh is a closed triangulated volume. It is treated as read-only once built.
type Mesh struct {
	Vertices []r3.Vec
	Faces    [][3]int
	Tag      core.GeometryTag
}

// Triangle returns the corners of face i
func (m *Mesh) Triangle(i int) (r3.Vec, r3.Vec, r3.Vec) {
	f := m.Faces[i]
	return m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
}

// SignedVolume sums the signed tetrahedra spanned by each face and the origin
func (m *Mesh) SignedVolume() float64 {
	var sum float64
	for i := range m.Faces {
		a, b, c := m.Triangle(i)
		sum += r3.Dot(a, r3.Cross(b, c))
	}
	return sum / 6.0
}

// Volume returns the absolute enclosed volume
func (m *Mesh) Volume() float64 {
	return math.Abs(m.SignedVolume())
}

// Invert flips the winding of every face
func (m *Mesh) Invert() {
	for i, f := range m.Faces {
		m.Faces[i] = [3]int{f[0], f[2], f[1]}
	}
}

type edge struct{ a, b int }

// IsWatertight reports whether every edge is shared by exactly two faces
// that traverse it in opposite directions.
func (m *Mesh) IsWatertight() bool {
	if len(m.Faces) == 0 {
		return false
	}
	directed := make(map[edge]int, 3*len(m.Faces))
	for _, f := range m.Faces {
		for k := 0; k < 3; k++ {
			a, b := f[k], f[(k+1)%3]
			if a == b {
				return false
			}
			directed[edge{a, b}]++
		}
	}
	for e, n := range directed {
		if n != 1 {
			return false
		}
		if directed[edge{e.b, e.a}] != 1 {
			return false
		}
	}
	return true
}

// Bounds returns the axis-aligned bounding box
func (m *Mesh) Bounds() (r3.Vec, r3.Vec) {
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, v := range m.Vertices {
		lo = r3.Vec{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = r3.Vec{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return lo, hi
}
