package ports

import (
	"context"

	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
)

// RayIntersector traces rays from a common origin against one detector mesh
type RayIntersector interface {
	// Trace returns entry distance and total in-volume path length per direction
	Trace(ctx context.Context, origin r3.Vec, directions []r3.Vec) ([]particle.Trace, error)

	// FirstHits returns the nearest surface point along each direction; ok[i] is false on a miss
	FirstHits(origin r3.Vec, directions []r3.Vec) (points []r3.Vec, ok []bool)

	// Tag identifies the mesh being traced
	Tag() core.GeometryTag
}

// TraceCache persists coupling-independent geometric traces per input file and geometry
type TraceCache interface {
	// Load returns cached traces; found is false on a miss or when the source is newer than the cache
	Load(ctx context.Context, key core.CacheKey, sourcePath string, rows int) (traces []particle.Trace, found bool, err error)

	// Store writes traces atomically
	Store(ctx context.Context, key core.CacheKey, traces []particle.Trace) error
}
