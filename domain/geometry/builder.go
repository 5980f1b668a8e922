package geometry

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
)

// point2 is a cross-section vertex in the (lateral, vertical) frame
type point2 struct{ u, v float64 }

// crossSection returns the closed 2D ring swept along the centerline,
// counter-clockwise in the (lateral, vertical) frame.
func crossSection(c Config) []point2 {
	switch c.Model {
	case ModelProfile:
		return profileSection(c)
	default:
		return circleSection(c.TubeRadiusM, c.Segments)
	}
}

func circleSection(r float64, n int) []point2 {
	ring := make([]point2, n)
	for j := 0; j < n; j++ {
		angle := 2.0 * math.Pi * float64(j) / float64(n)
		ring[j] = point2{u: r * math.Cos(angle), v: r * math.Sin(angle)}
	}
	return ring
}

// profileSection is the inner fiducial horseshoe: flat floor, vertical walls
// up to the centerline height, semicircular roof. Walls and roof are inset by
// the detector thickness, the floor only when InsetFloor is set.
func profileSection(c Config) []point2 {
	w := c.TubeRadiusM - c.DetectorThicknessM
	floor := -c.TubeRadiusM
	if c.InsetFloor {
		floor += c.DetectorThicknessM
	}

	arcSegments := c.Segments / 2
	wallSegments := 2
	floorSegments := 4

	ring := make([]point2, 0, arcSegments+2*wallSegments+floorSegments)
	// right wall, bottom to top (excluding the arc start)
	for k := 0; k < wallSegments; k++ {
		frac := float64(k) / float64(wallSegments)
		ring = append(ring, point2{u: w, v: floor * (1 - frac)})
	}
	// roof arc from angle 0 to pi
	for k := 0; k <= arcSegments; k++ {
		angle := math.Pi * float64(k) / float64(arcSegments)
		ring = append(ring, point2{u: w * math.Cos(angle), v: w * math.Sin(angle)})
	}
	// left wall, top to bottom (arc end already emitted)
	for k := 1; k <= wallSegments; k++ {
		frac := float64(k) / float64(wallSegments)
		ring = append(ring, point2{u: -w, v: floor * frac})
	}
	// floor, left to right (both corners already emitted)
	for k := 1; k < floorSegments; k++ {
		frac := float64(k) / float64(floorSegments)
		ring = append(ring, point2{u: -w + 2*w*frac, v: floor})
	}
	return ring
}

// Build normalizes and validates the config and sweeps its cross-section
// along the gallery centerline.
func Build(c Config) (*Mesh, error) {
	return BuildAlong(c, GalleryCenterline())
}

// BuildAlong sweeps the cross-section of c along an arbitrary centerline
func BuildAlong(c Config, centerline []r3.Vec) (*Mesh, error) {
	cfg := Normalize(c)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	if len(centerline) < 2 {
		return nil, core.NewGeometryError("centerline", fmt.Sprintf("needs at least 2 points, got %d", len(centerline)))
	}

	ring := crossSection(cfg)
	n := len(ring)
	m := &Mesh{
		Vertices: make([]r3.Vec, 0, len(centerline)*n+2),
		Faces:    make([][3]int, 0, 2*n*(len(centerline)-1)+2*n),
		Tag:      Tag(cfg),
	}

	for i := range centerline {
		tangent, err := tangentAt(centerline, i)
		if err != nil {
			return nil, err
		}
		right, up := frameFor(tangent)
		for _, p := range ring {
			offset := r3.Add(r3.Scale(p.u, right), r3.Scale(p.v, up))
			m.Vertices = append(m.Vertices, r3.Add(centerline[i], offset))
		}
		if i == 0 {
			continue
		}
		prev := (i - 1) * n
		cur := i * n
		for j := 0; j < n; j++ {
			v1 := prev + j
			v2 := prev + (j+1)%n
			v3 := cur + (j+1)%n
			v4 := cur + j
			m.Faces = append(m.Faces, [3]int{v1, v4, v3}, [3]int{v1, v3, v2})
		}
	}

	startCenter := len(m.Vertices)
	m.Vertices = append(m.Vertices, ringCentroid(m.Vertices[0:n]))
	for j := 0; j < n; j++ {
		m.Faces = append(m.Faces, [3]int{startCenter, j, (j + 1) % n})
	}

	last := (len(centerline) - 1) * n
	endCenter := len(m.Vertices)
	m.Vertices = append(m.Vertices, ringCentroid(m.Vertices[last:last+n]))
	for j := 0; j < n; j++ {
		m.Faces = append(m.Faces, [3]int{endCenter, last + (j+1)%n, last + j})
	}

	if m.SignedVolume() < 0 {
		m.Invert()
	}
	return m, nil
}

func tangentAt(pts []r3.Vec, i int) (r3.Vec, error) {
	var t r3.Vec
	switch {
	case i == 0:
		t = r3.Sub(pts[1], pts[0])
	case i == len(pts)-1:
		t = r3.Sub(pts[i], pts[i-1])
	default:
		t = r3.Sub(pts[i+1], pts[i-1])
	}
	norm := r3.Norm(t)
	if norm == 0 || math.IsNaN(norm) {
		return r3.Vec{}, core.NewGeometryError("centerline", fmt.Sprintf("degenerate tangent at point %d", i))
	}
	return r3.Scale(1/norm, t), nil
}

// frameFor returns lateral and vertical unit vectors orthogonal to tangent.
// The vertical axis is +z unless the tangent is nearly vertical.
func frameFor(tangent r3.Vec) (r3.Vec, r3.Vec) {
	up := r3.Vec{Z: 1}
	if math.Abs(tangent.Z) >= 0.9 {
		up = r3.Vec{X: 1}
	}
	right := r3.Unit(r3.Cross(tangent, up))
	up = r3.Unit(r3.Cross(right, tangent))
	return right, up
}

func ringCentroid(ring []r3.Vec) r3.Vec {
	var sum r3.Vec
	for _, v := range ring {
		sum = r3.Add(sum, v)
	}
	return r3.Scale(1/float64(len(ring)), sum)
}

// MeshCache memoizes built meshes by geometry tag for the lifetime of a run
type MeshCache struct {
	mu     sync.Mutex
	meshes map[core.GeometryTag]*Mesh
	build  func(Config) (*Mesh, error)
}

// NewMeshCache creates a cache that builds along the gallery centerline
func NewMeshCache() *MeshCache {
	return &MeshCache{meshes: make(map[core.GeometryTag]*Mesh), build: Build}
}

// NewMeshCacheAlong creates a cache that builds along a custom centerline
func NewMeshCacheAlong(centerline []r3.Vec) *MeshCache {
	return &MeshCache{
		meshes: make(map[core.GeometryTag]*Mesh),
		build:  func(c Config) (*Mesh, error) { return BuildAlong(c, centerline) },
	}
}

// Get returns the mesh for c, building it once
func (mc *MeshCache) Get(c Config) (*Mesh, error) {
	tag := Tag(c)
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if m, ok := mc.meshes[tag]; ok {
		return m, nil
	}
	m, err := mc.build(c)
	if err != nil {
		return nil, err
	}
	mc.meshes[tag] = m
	return m, nil
}

// Len returns the number of cached meshes
func (mc *MeshCache) Len() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.meshes)
}
