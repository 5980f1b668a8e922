package decay

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llpaccept/domain/particle"
)

func TestProbabilityScenario(t *testing.T) {
	p := Probability(5, 10, 20)
	want := math.Exp(-5.0/20) * (1 - math.Exp(-10.0/20))
	assert.InDelta(t, want, p, 1e-15)
	assert.InDelta(t, 0.3064, p, 1e-4)
}

func TestProbabilityEdgeCases(t *testing.T) {
	tests := []struct {
		name               string
		entry, path, lamda float64
	}{
		{"zero path", 5, 0, 20},
		{"zero lambda", 5, 10, 0},
		{"negative lambda", 5, 10, -3},
		{"nan lambda", 5, 10, math.NaN()},
		{"inf lambda", 5, 10, math.Inf(1)},
		{"nan entry", math.NaN(), 10, 20},
		{"nan path", 5, math.NaN(), 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, 0.0, Probability(tt.entry, tt.path, tt.lamda))
		})
	}
}

func TestProbabilityBoundsAndLimits(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 2000; i++ {
		entry := rng.Float64() * 100
		path := rng.Float64() * 50
		lambda := math.Pow(10, rng.Float64()*12-6)
		p := Probability(entry, path, lambda)
		if p < 0 || p > 1 {
			t.Fatalf("p(%v,%v,%v)=%v out of [0,1]", entry, path, lambda, p)
		}
	}

	assert.Less(t, Probability(5, 10, 1e12), 1e-10)
	assert.Less(t, Probability(5, 10, 1e-3), 1e-100)
}

func TestProbabilitySmallPathAccuracy(t *testing.T) {
	// path/lambda = 1e-12: naive exp(a)-exp(a+b) loses every digit
	p := Probability(0, 1e-6, 1e6)
	assert.InEpsilon(t, 1e-12, p, 1e-9)
}

func TestSampleDistanceStaysInInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 1000; i++ {
		u := rng.Float64()
		d, ok := SampleDistance(20, 30, 15, u)
		require.True(t, ok)
		assert.GreaterOrEqual(t, d, 20.0)
		assert.LessOrEqual(t, d, 50.0)
	}

	d, ok := SampleDistance(20, 30, 15, 0)
	require.True(t, ok)
	assert.InDelta(t, 20.0, d, 1e-9)

	_, ok = SampleDistance(20, 0, 15, 0.5)
	assert.False(t, ok)
	_, ok = SampleDistance(20, 30, -1, 0.5)
	assert.False(t, ok)
}

func TestSampleDistanceMedian(t *testing.T) {
	// median of the truncated exponential on [a, a+L]
	entry, path, lambda := 2.0, 8.0, 4.0
	d, ok := SampleDistance(entry, path, lambda, 0.5)
	require.True(t, ok)
	cdf := (math.Exp(-entry/lambda) - math.Exp(-d/lambda)) / (math.Exp(-entry/lambda) - math.Exp(-(entry+path)/lambda))
	assert.InDelta(t, 0.5, cdf, 1e-12)
}

func TestMidpointAndLength(t *testing.T) {
	assert.Equal(t, 10.0, MidpointDistance(5, 10))
	assert.Equal(t, 20.0, Length(4, 5))
}

func TestGroupKey(t *testing.T) {
	assert.Equal(t, "muon|1.000000|beauty.csv", GroupKey(particle.FlavourMuon, 1, "beauty.csv"))
	assert.NotEqual(t, GroupKey(particle.FlavourMuon, 1, "a.csv"), GroupKey(particle.FlavourMuon, 1.0000011, "a.csv"))
}
