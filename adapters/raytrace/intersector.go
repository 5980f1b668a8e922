// Package raytrace implements batched ray/mesh intersection over a BVH.
package raytrace

import (
	"context"
	"math"
	"runtime"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/geometry"
	"llpaccept/domain/particle"
	"llpaccept/internal"
	"llpaccept/internal/metrics"
)

// DefaultBatchSize matches the sub-batch granularity used for retries
const DefaultBatchSize = 10000

type queryFunc func(origin, dir r3.Vec, dst []float64) ([]float64, error)

// Intersector traces rays against one immutable mesh
type Intersector struct {
	tag       core.GeometryTag
	query     queryFunc
	batchSize int
	workers   int64
	logger    *internal.Logger
}

// Option configures an Intersector
type Option func(*Intersector)

// WithBatchSize sets the rays per sub-batch
func WithBatchSize(n int) Option {
	return func(in *Intersector) {
		if n > 0 {
			in.batchSize = n
		}
	}
}

// WithWorkers bounds the number of sub-batches traced concurrently
func WithWorkers(n int) Option {
	return func(in *Intersector) {
		if n > 0 {
			in.workers = int64(n)
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *internal.Logger) Option {
	return func(in *Intersector) {
		if l != nil {
			in.logger = l
		}
	}
}

// New builds the BVH for mesh and returns an intersector over it
func New(mesh *geometry.Mesh, opts ...Option) *Intersector {
	bvh := NewBVH(mesh)
	in := &Intersector{
		tag:       mesh.Tag,
		query:     bvh.AllHits,
		batchSize: DefaultBatchSize,
		workers:   int64(runtime.NumCPU()),
		logger:    internal.DefaultLogger,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Tag identifies the traced mesh
func (in *Intersector) Tag() core.GeometryTag {
	return in.tag
}

// Trace finds every crossing along each ray, pairs them in order and sums
// the inside segments. Degenerate directions, odd crossing counts and rays
// that keep failing after bisection are reported as non-hitting traces with
// a status, never as NaN path lengths.
func (in *Intersector) Trace(ctx context.Context, origin r3.Vec, directions []r3.Vec) ([]particle.Trace, error) {
	start := time.Now()
	out := make([]particle.Trace, len(directions))
	unit := make([]r3.Vec, len(directions))
	valid := make([]int, 0, len(directions))

	for i, d := range directions {
		u, ok := normalize(d)
		if !ok {
			out[i] = particle.Miss(particle.TraceDegenerate)
			continue
		}
		unit[i] = u
		valid = append(valid, i)
	}

	sem := semaphore.NewWeighted(in.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	retries := 0
	var ctxErr error

	for lo := 0; lo < len(valid); lo += in.batchSize {
		hi := lo + in.batchSize
		if hi > len(valid) {
			hi = len(valid)
		}
		if err := ctx.Err(); err != nil {
			ctxErr = err
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			ctxErr = err
			break
		}
		wg.Add(1)
		go func(idx []int) {
			defer wg.Done()
			defer sem.Release(1)
			r := in.traceBatch(origin, unit, idx, out)
			mu.Lock()
			retries += r
			mu.Unlock()
		}(valid[lo:hi])
	}
	wg.Wait()
	if ctxErr != nil {
		return nil, ctxErr
	}

	in.report(out, retries)
	metrics.TraceDuration.Observe(time.Since(start).Seconds())
	return out, nil
}

// traceBatch resolves a sub-batch, bisecting on retryable failure until
// only the offending rays are marked failed. Returns the number of retried
// sub-batches.
func (in *Intersector) traceBatch(origin r3.Vec, dirs []r3.Vec, idx []int, out []particle.Trace) int {
	traces, err := in.tryBatch(origin, dirs, idx)
	if err == nil {
		for k, i := range idx {
			out[i] = traces[k]
		}
		return 0
	}
	if len(idx) == 1 {
		in.logger.Debug("[Intersector] ray %d failed: %v", idx[0], err)
		out[idx[0]] = particle.Miss(particle.TraceFailed)
		return 0
	}
	mid := len(idx) / 2
	return 2 + in.traceBatch(origin, dirs, idx[:mid], out) + in.traceBatch(origin, dirs, idx[mid:], out)
}

// tryBatch is all-or-nothing: any retryable failure fails the whole sub-batch
func (in *Intersector) tryBatch(origin r3.Vec, dirs []r3.Vec, idx []int) ([]particle.Trace, error) {
	traces := make([]particle.Trace, len(idx))
	buf := make([]float64, 0, 8)
	for k, i := range idx {
		hits, err := in.query(origin, dirs[i], buf[:0])
		if err != nil {
			return nil, err
		}
		traces[k] = pairCrossings(hits)
		buf = hits
	}
	return traces, nil
}

// pairCrossings sorts and deduplicates crossings, then pairs them as
// (t0,t1),(t2,t3),... An odd count means a tangent or degenerate hit.
func pairCrossings(hits []float64) particle.Trace {
	if len(hits) == 0 {
		return particle.Miss(particle.TraceMiss)
	}
	sort.Float64s(hits)
	uniq := hits[:1]
	for _, t := range hits[1:] {
		last := uniq[len(uniq)-1]
		if t-last > hitEpsilon*math.Max(1, last) {
			uniq = append(uniq, t)
		}
	}
	if len(uniq)%2 != 0 {
		return particle.Miss(particle.TraceOddCrossings)
	}
	path := 0.0
	for k := 0; k+1 < len(uniq); k += 2 {
		path += uniq[k+1] - uniq[k]
	}
	return particle.Hit(uniq[0], path)
}

// FirstHits returns the nearest crossing point along each direction
func (in *Intersector) FirstHits(origin r3.Vec, directions []r3.Vec) ([]r3.Vec, []bool) {
	points := make([]r3.Vec, len(directions))
	ok := make([]bool, len(directions))
	buf := make([]float64, 0, 8)
	for i, d := range directions {
		u, valid := normalize(d)
		if !valid {
			continue
		}
		hits, err := in.query(origin, u, buf[:0])
		buf = hits
		if err != nil || len(hits) == 0 {
			continue
		}
		tmin := math.Inf(1)
		for _, t := range hits {
			if t < tmin {
				tmin = t
			}
		}
		points[i] = r3.Add(origin, r3.Scale(tmin, u))
		ok[i] = true
	}
	return points, ok
}

func (in *Intersector) report(out []particle.Trace, retries int) {
	counts := make(map[particle.TraceStatus]int)
	for _, t := range out {
		counts[t.Status]++
	}
	for status, n := range counts {
		metrics.RecordRays(status.String(), n)
	}
	if retries > 0 {
		metrics.BisectionRetries.Add(float64(retries))
	}
	if n := counts[particle.TraceDegenerate]; n > 0 {
		in.logger.Warn("[Intersector] skipped %d ray(s) with non-finite or zero-length directions", n)
	}
	if n := counts[particle.TraceOddCrossings]; n > 0 {
		in.logger.Warn("[Intersector] %d ray(s) had an odd number of crossings and were treated as misses", n)
	}
	if n := counts[particle.TraceFailed]; n > 0 {
		in.logger.Warn("[Intersector] %d ray(s) failed after %d bisection retries", n, retries)
	}
}

func normalize(d r3.Vec) (r3.Vec, bool) {
	if !finite(d.X) || !finite(d.Y) || !finite(d.Z) {
		return r3.Vec{}, false
	}
	n := r3.Norm(d)
	if !(n > 0) || math.IsInf(n, 0) {
		return r3.Vec{}, false
	}
	return r3.Scale(1/n, d), true
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
