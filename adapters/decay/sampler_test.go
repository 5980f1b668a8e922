package decay

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go-hep.org/x/hep/fmom"
	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/adapters/rng"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
)

func assertVecNear(t *testing.T, want, got r3.Vec, tol float64) {
	t.Helper()
	assert.InDelta(t, want.X, got.X, tol)
	assert.InDelta(t, want.Y, got.Y, tol)
	assert.InDelta(t, want.Z, got.Z, tol)
}

func TestRotationFromZMapsZOntoTarget(t *testing.T) {
	targets := []r3.Vec{
		{Z: 1},
		{Z: -1},
		{X: 1},
		{X: 0.3, Y: -0.4, Z: 0.866},
		{X: -2, Y: 1, Z: -0.5},
		{X: 1e-9, Z: -1},
	}
	for _, target := range targets {
		rot := RotationFromZ(target)
		assertVecNear(t, r3.Unit(target), rot(r3.Vec{Z: 1}), 1e-9)

		// rotations preserve length and angles
		a, b := r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: -1, Y: 0.5, Z: 2}
		assert.InDelta(t, r3.Norm(a), r3.Norm(rot(a)), 1e-9)
		assert.InDelta(t, r3.Dot(a, b), r3.Dot(rot(a), rot(b)), 1e-9)
	}
}

func TestBoostPreservesInvariantMass(t *testing.T) {
	axis := r3.Unit(r3.Vec{X: 1, Y: 1, Z: 1})
	p := fmom.NewPxPyPzE(0.1, -0.2, 0.3, 0.5)
	boosted := Boost(p, 3.0, axis)

	m2 := p.E()*p.E() - p.P()*p.P()
	m2b := boosted.E()*boosted.E() - boosted.P()*boosted.P()
	assert.InDelta(t, m2, m2b, 1e-9)
	assert.Greater(t, boosted.E(), p.E())
}

func TestBoostAlongAxisOfMasslessParticle(t *testing.T) {
	bg := 2.0
	gamma := math.Sqrt(1 + bg*bg)
	p := fmom.NewPxPyPzE(0, 0, 1, 1)
	boosted := Boost(p, bg, r3.Vec{Z: 1})
	assert.InDelta(t, gamma+bg, boosted.E(), 1e-12)
	assert.InDelta(t, gamma+bg, boosted.Pz(), 1e-12)

	unchanged := Boost(p, 0, r3.Vec{Z: 1})
	assert.Equal(t, p, unchanged)
}

func backToBack(p float64) decay.Event {
	m := 0.13957
	e := math.Sqrt(p*p + m*m)
	return decay.Event{
		{E: e, Px: p, Mass: m, PDG: 211},
		{E: e, Px: -p, Mass: m, PDG: -211},
		{E: 0.2, Py: 0.2, PDG: 22},
	}
}

func TestLabDirectionsAtRest(t *testing.T) {
	dirs := LabDirections(r3.Vec{Z: 1}, 0, backToBack(0.8), 0.6)
	require.Len(t, dirs, 2)
	assertVecNear(t, r3.Vec{X: 1}, dirs[0], 1e-12)
	assertVecNear(t, r3.Vec{X: -1}, dirs[1], 1e-12)
}

func TestLabDirectionsMomentumThreshold(t *testing.T) {
	assert.Nil(t, LabDirections(r3.Vec{Z: 1}, 0, backToBack(0.5), 0.6))
	assert.Nil(t, LabDirections(r3.Vec{}, 5, backToBack(0.8), 0.0))
}

func TestLabDirectionsCollimateWithBoost(t *testing.T) {
	flight := r3.Unit(r3.Vec{X: 0.2, Y: 0.5, Z: 0.8})
	dirs := LabDirections(flight, 50, backToBack(0.8), 0.6)
	require.Len(t, dirs, 2)
	for _, d := range dirs {
		assert.InDelta(t, 1.0, r3.Norm(d), 1e-12)
		assert.Greater(t, r3.Dot(d, flight), 0.99)
	}
	// transverse momenta stay opposite
	assert.Less(t, r3.Dot(r3.Sub(dirs[0], flight), r3.Sub(dirs[1], flight)), 0.0)
}

func TestIsCharged(t *testing.T) {
	assert.True(t, IsCharged(211))
	assert.True(t, IsCharged(-13))
	assert.True(t, IsCharged(2212))
	assert.False(t, IsCharged(22))
	assert.False(t, IsCharged(111))
	assert.False(t, IsCharged(-16))

	for _, pdg := range []int{1114, -3224, 4212, 4322} {
		assert.True(t, IsCharged(pdg), "pdg %d", pdg)
	}
	for _, pdg := range []int{130, 310, -2112} {
		assert.False(t, IsCharged(pdg), "pdg %d", pdg)
	}
}

func TestSamplerDeterministicAndSkipsMisses(t *testing.T) {
	records := []particle.Record{
		{Eta: 0.5, Phi: 0.1, BetaGamma: 3},
		{Eta: 1.0, Phi: -0.2, BetaGamma: 10},
		{Eta: 0.2, Phi: 1.3, BetaGamma: 1},
	}
	traces := []particle.Trace{
		particle.Hit(10, 5),
		particle.Miss(particle.TraceMiss),
		particle.Hit(20, 2),
	}
	catalog := &decay.Catalog{Events: []decay.Event{backToBack(0.8), backToBack(1.5), backToBack(0.1)}}

	s := NewSampler(rng.NewPCG(), 12345, 0.6)
	key := decay.GroupKey(particle.FlavourMuon, 1.0, "beauty")
	first, err := s.Sample(key, records, traces, catalog)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 0, first[0].Row)
	assert.Equal(t, 2, first[1].Row)
	for _, smp := range first {
		assert.GreaterOrEqual(t, smp.DecayU, 0.0)
		assert.Less(t, smp.DecayU, 1.0)
	}

	second, err := s.Sample(key, records, traces, catalog)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	_, err = s.Sample(key, records[:1], traces, catalog)
	assert.Error(t, err)
	_, err = s.Sample(key, records, traces, &decay.Catalog{})
	assert.Error(t, err)
}
