package decay

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
	"llpaccept/ports"
)

// PairwisePass applies the separation policy to surface hit points.
// maxSep <= 0 means no upper bound.
func PairwisePass(points []r3.Vec, minSep, maxSep float64, policy scan.SeparationPolicy) bool {
	if len(points) < 2 {
		return false
	}
	upper := math.Inf(1)
	if maxSep > 0 {
		upper = maxSep
	}
	minPair, maxPair := math.Inf(1), math.Inf(-1)
	anyInWindow := false
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			d := r3.Norm(r3.Sub(points[i], points[j]))
			minPair = math.Min(minPair, d)
			maxPair = math.Max(maxPair, d)
			if d >= minSep && d <= upper {
				anyInWindow = true
			}
		}
	}
	if policy == scan.PolicyAnyPairWindow {
		return anyInWindow
	}
	return minPair >= minSep && maxPair <= upper
}

// Evaluator re-traces daughter directions from the decay vertex to the
// detector surface and applies the separation window
type Evaluator struct {
	tracer    ports.RayIntersector
	selection scan.Selection
}

// NewEvaluator creates an evaluator for one mesh and cut set
func NewEvaluator(tracer ports.RayIntersector, selection scan.Selection) *Evaluator {
	return &Evaluator{tracer: tracer, selection: selection}
}

// Passes traces directions from vertex; daughters without a surface hit are dropped
func (e *Evaluator) Passes(vertex r3.Vec, directions []r3.Vec) bool {
	if len(directions) < 2 {
		return false
	}
	points, ok := e.tracer.FirstHits(vertex, directions)
	hits := points[:0:0]
	for i, p := range points {
		if ok[i] {
			hits = append(hits, p)
		}
	}
	return PairwisePass(hits, e.selection.SeparationM, e.selection.MaxSeparationM, e.selection.Policy)
}

// PassAt places the vertex along the particle's flight line and evaluates the
// cut. With a static selection the vertex sits at the midpoint of the
// in-volume segment; otherwise it is drawn from the truncated exponential
// with the cached uniform, which makes the result depend on lambda.
func (e *Evaluator) PassAt(origin, direction r3.Vec, trace particle.Trace, sample decay.AcceptanceSample, lambda float64) bool {
	if !trace.HitsVolume || !sample.Separable() {
		return false
	}
	var dist float64
	if e.selection.StaticSeparation {
		if !(trace.PathLength > 0) {
			return false
		}
		dist = decay.MidpointDistance(trace.EntryDistance, trace.PathLength)
	} else {
		d, ok := decay.SampleDistance(trace.EntryDistance, trace.PathLength, lambda, sample.DecayU)
		if !ok {
			return false
		}
		dist = d
	}
	vertex := r3.Add(origin, r3.Scale(dist, direction))
	return e.Passes(vertex, sample.Directions)
}

// StaticPasses precomputes the coupling-independent pass flag per sample
func (e *Evaluator) StaticPasses(origin r3.Vec, records []particle.Record, traces []particle.Trace, samples []decay.AcceptanceSample) map[int]bool {
	out := make(map[int]bool, len(samples))
	for _, s := range samples {
		dir, ok := records[s.Row].Direction()
		if !ok {
			continue
		}
		tr := traces[s.Row]
		if !tr.HitsVolume || !s.Separable() || !(tr.PathLength > 0) {
			continue
		}
		vertex := r3.Add(origin, r3.Scale(decay.MidpointDistance(tr.EntryDistance, tr.PathLength), dir))
		out[s.Row] = e.Passes(vertex, s.Directions)
	}
	return out
}
