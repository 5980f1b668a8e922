package decay

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
)

type mockTracer struct {
	mock.Mock
}

func (m *mockTracer) FirstHits(origin r3.Vec, dirs []r3.Vec) ([]r3.Vec, []bool) {
	args := m.Called(origin, dirs)
	return args.Get(0).([]r3.Vec), args.Get(1).([]bool)
}

func (m *mockTracer) Tag() core.GeometryTag { return "tube_test" }

func (m *mockTracer) Trace(_ context.Context, _ r3.Vec, _ []r3.Vec) ([]particle.Trace, error) {
	return nil, nil
}

func TestPairwisePass(t *testing.T) {
	// pair distances: 1, 2, 3
	pts := []r3.Vec{{}, {X: 1}, {X: 3}}
	tests := []struct {
		name   string
		minSep float64
		maxSep float64
		policy scan.SeparationPolicy
		want   bool
	}{
		{"all pairs above min", 0.5, 0, scan.PolicyAllPairsMin, true},
		{"one pair below min", 1.5, 0, scan.PolicyAllPairsMin, false},
		{"max pair above max", 0.5, 2.5, scan.PolicyAllPairsMin, false},
		{"all inside window", 0.5, 3.5, scan.PolicyAllPairsMin, true},
		{"any pair in window", 1.5, 2.5, scan.PolicyAnyPairWindow, true},
		{"no pair in window", 3.5, 0, scan.PolicyAnyPairWindow, false},
		{"any pair unbounded", 2.5, 0, scan.PolicyAnyPairWindow, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PairwisePass(pts, tt.minSep, tt.maxSep, tt.policy))
		})
	}
	far := []r3.Vec{{}, {X: 1e6}}
	assert.True(t, PairwisePass(far, 1, 0, scan.PolicyAllPairsMin), "zero max is unbounded")
	assert.False(t, PairwisePass(far, 1, 10, scan.PolicyAllPairsMin))
	assert.False(t, PairwisePass(pts[:1], 0, 0, scan.PolicyAnyPairWindow))
	assert.False(t, PairwisePass(nil, 0, 0, scan.PolicyAllPairsMin))
}

func testSelection() scan.Selection {
	sel := scan.DefaultSelection()
	sel.SeparationM = 1e-3
	return sel
}

func TestEvaluatorDropsDaughtersWithoutHit(t *testing.T) {
	dirs := []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}

	tracer := &mockTracer{}
	tracer.On("FirstHits", r3.Vec{}, dirs).Return([]r3.Vec{{}, {X: 0.002}, {}}, []bool{true, true, false}).Once()
	tracer.On("FirstHits", r3.Vec{}, dirs).Return([]r3.Vec{{}, {X: 0.002}, {}}, []bool{true, false, false}).Once()

	ev := NewEvaluator(tracer, testSelection())
	assert.True(t, ev.Passes(r3.Vec{}, dirs))
	assert.False(t, ev.Passes(r3.Vec{}, dirs))
	tracer.AssertExpectations(t)
}

func TestEvaluatorStaticVertexAtMidpoint(t *testing.T) {
	dirs := []r3.Vec{{X: 1}, {X: -1}}
	tracer := &mockTracer{}
	atMidpoint := mock.MatchedBy(func(v r3.Vec) bool {
		return math.Abs(v.Z-12) < 1e-9 && math.Abs(v.X) < 1e-9 && math.Abs(v.Y) < 1e-9
	})
	tracer.On("FirstHits", atMidpoint, dirs).Return([]r3.Vec{{X: 1, Z: 12}, {X: -1, Z: 12}}, []bool{true, true})

	sel := testSelection()
	sel.StaticSeparation = true
	ev := NewEvaluator(tracer, sel)

	sample := decay.AcceptanceSample{Row: 0, Directions: dirs, DecayU: 0.9}
	assert.True(t, ev.PassAt(r3.Vec{}, r3.Vec{Z: 1}, particle.Hit(10, 4), sample, 1.0))
	assert.True(t, ev.PassAt(r3.Vec{}, r3.Vec{Z: 1}, particle.Hit(10, 4), sample, 1e6))
	tracer.AssertNumberOfCalls(t, "FirstHits", 2)

	records := []particle.Record{{Eta: 50, Phi: 0}}
	passes := ev.StaticPasses(r3.Vec{}, records, []particle.Trace{particle.Hit(10, 4)}, []decay.AcceptanceSample{sample})
	assert.True(t, passes[0])
}

func TestEvaluatorSampledVertexInsideSegment(t *testing.T) {
	dirs := []r3.Vec{{X: 1}, {X: -1}}
	tracer := &mockTracer{}
	inSegment := mock.MatchedBy(func(v r3.Vec) bool { return v.Z >= 10 && v.Z <= 14 && v.X == 0 && v.Y == 0 })
	tracer.On("FirstHits", inSegment, dirs).Return([]r3.Vec{{X: 1}, {X: -1}}, []bool{true, true})

	ev := NewEvaluator(tracer, testSelection())
	for _, u := range []float64{0, 0.3, 0.999} {
		sample := decay.AcceptanceSample{Directions: dirs, DecayU: u}
		assert.True(t, ev.PassAt(r3.Vec{}, r3.Vec{Z: 1}, particle.Hit(10, 4), sample, 20))
	}
}

func TestEvaluatorRejectsWithoutTracing(t *testing.T) {
	tracer := &mockTracer{}
	ev := NewEvaluator(tracer, testSelection())

	single := decay.AcceptanceSample{Directions: []r3.Vec{{X: 1}}}
	assert.False(t, ev.PassAt(r3.Vec{}, r3.Vec{Z: 1}, particle.Hit(10, 4), single, 20))

	two := decay.AcceptanceSample{Directions: []r3.Vec{{X: 1}, {Y: 1}}}
	assert.False(t, ev.PassAt(r3.Vec{}, r3.Vec{Z: 1}, particle.Miss(particle.TraceMiss), two, 20))
	assert.False(t, ev.PassAt(r3.Vec{}, r3.Vec{Z: 1}, particle.Hit(10, 4), two, 0))
	tracer.AssertNotCalled(t, "FirstHits", mock.Anything, mock.Anything)
}
