package app

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
	"llpaccept/internal"
)

type mockXsec struct {
	mock.Mock
}

func (m *mockXsec) ParentSigmaPB(pdg int, mode particle.QCDMode, sigmaGenPB float64) (float64, error) {
	args := m.Called(pdg, mode, sigmaGenPB)
	return args.Get(0).(float64), args.Error(1)
}

func (m *mockXsec) ParentToTauBR(pdg int) float64 {
	return m.Called(pdg).Get(0).(float64)
}

// unitXsec gives sigma*1e3 = 1 for every parent
func unitXsec() *mockXsec {
	x := &mockXsec{}
	x.On("ParentSigmaPB", mock.Anything, mock.Anything, mock.Anything).Return(1e-3, nil)
	x.On("ParentToTauBR", mock.Anything).Return(0.5)
	return x
}

func row(parent int, weight float64) particle.Record {
	return particle.Record{ParentPDG: parent, Weight: weight, BetaGamma: 1, QCDMode: particle.QCDAuto, SigmaGenPB: math.NaN()}
}

func unitOracle(brs map[int]float64) scan.OraclePoint {
	return scan.OraclePoint{MassGeV: 1, Flavour: particle.FlavourMuon, Eps2Ref: 1e-6, Ctau0M: 20, BRPerParent: brs}
}

func newTestScanner(x *mockXsec, cfg YieldConfig) *YieldScanner {
	return NewYieldScanner(x, cfg, internal.NewNopLogger())
}

func TestExpectedSingleHit(t *testing.T) {
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(421, 1)},
		Traces:  []particle.Trace{particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{421: 1}),
	}
	plan, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)

	want := math.Exp(-5.0/20) * -math.Expm1(-10.0/20)
	assert.InDelta(t, want, plan.Expected(1e-6), 1e-12)
	assert.Empty(t, plan.Warnings())
}

func TestExpectedWeightedAverage(t *testing.T) {
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(421, 1), row(421, 3)},
		Traces:  []particle.Trace{particle.Hit(5, 10), particle.Miss(particle.TraceMiss)},
		Oracle:  unitOracle(map[int]float64{421: 1}),
	}
	plan, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)

	p := math.Exp(-5.0/20) * -math.Expm1(-10.0/20)
	assert.InDelta(t, p/4, plan.Expected(1e-6), 1e-12)
}

func TestExpectedScalingFactors(t *testing.T) {
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(421, 1)},
		Traces:  []particle.Trace{particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{421: 0.1}),
	}
	base, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)
	scaled, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 3000, Dirac: true, RecoEfficiency: 0.5}).Plan(in)
	require.NoError(t, err)

	for _, eps2 := range []float64{1e-9, 1e-6, 1e-4} {
		assert.InEpsilon(t, 3000*2*0.5*base.Expected(eps2), scaled.Expected(eps2), 1e-12)
	}
}

// Rescaling the yield at a to b through the oracle's lambda and BR ratios,
// on the same traces and separation, must reproduce the yield computed at b.
func TestExpectedScalingConsistency(t *testing.T) {
	records := []particle.Record{row(421, 2), row(421, 1), row(421, 0.5), row(421, 1)}
	for i, bg := range []float64{0.5, 3, 12, 1} {
		records[i].BetaGamma = bg
	}
	traces := []particle.Trace{particle.Hit(5, 10), particle.Hit(40, 3), particle.Hit(1, 60), particle.Miss(particle.TraceMiss)}
	oracle := unitOracle(map[int]float64{421: 0.3})
	grid := []float64{1e-9, 3e-8, 1e-6, 2e-5, 1e-3}

	separations := map[string]SeparationFunc{
		"static": func(i int, _ float64) float64 {
			if i == 1 {
				return 0
			}
			return 1
		},
		"dynamic": func(_ int, lambda float64) float64 {
			if lambda < 50 {
				return 1
			}
			return 0
		},
	}
	for name, sep := range separations {
		t.Run(name, func(t *testing.T) {
			in := &YieldInput{MassGeV: 1, Records: records, Traces: traces, Oracle: oracle, Separation: sep}
			plan, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 3000, Dirac: true}).Plan(in)
			require.NoError(t, err)

			efficiency := func(lambdas []float64) float64 {
				num, den := 0.0, 0.0
				for i, tr := range traces {
					den += records[i].Weight
					if tr.HitsVolume {
						num += records[i].Weight * decay.Probability(tr.EntryDistance, tr.PathLength, lambdas[i]) * sep(i, lambdas[i])
					}
				}
				return num / den
			}

			for _, a := range grid {
				lambdaA := make([]float64, len(records))
				for i, r := range records {
					lambdaA[i] = r.BetaGamma * oracle.CtauAt(a)
				}
				effA := efficiency(lambdaA)
				if effA == 0 {
					continue
				}
				for _, b := range grid {
					ratio := oracle.CtauAt(b) / oracle.CtauAt(a)
					lambdaB := make([]float64, len(records))
					for i := range lambdaA {
						lambdaB[i] = lambdaA[i] * ratio
					}
					effB := efficiency(lambdaB)
					got := plan.Expected(b)
					if effB == 0 {
						assert.Zero(t, got, "a=%g b=%g", a, b)
						continue
					}
					want := plan.Expected(a) * oracle.BRScale(b) / oracle.BRScale(a) * effB / effA
					assert.InEpsilon(t, want, got, 1e-9, "a=%g b=%g", a, b)
				}
			}
		})
	}
}

func TestExpectedSeparationFactor(t *testing.T) {
	in := &YieldInput{
		MassGeV:    1,
		Records:    []particle.Record{row(421, 1), row(421, 1)},
		Traces:     []particle.Trace{particle.Hit(5, 10), particle.Hit(5, 10)},
		Oracle:     unitOracle(map[int]float64{421: 1}),
		Separation: func(i int, _ float64) float64 { return float64(i) },
	}
	plan, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)

	p := math.Exp(-5.0/20) * -math.Expm1(-10.0/20)
	assert.InDelta(t, p/2, plan.Expected(1e-6), 1e-12)
}

func TestTauChainUsesGrandparentBR(t *testing.T) {
	x := &mockXsec{}
	x.On("ParentSigmaPB", 431, particle.QCDAuto, mock.Anything).Return(1e-3, nil)
	x.On("ParentToTauBR", 431).Return(0.05)

	rec := row(15, 1)
	rec.TauParentPDG = 431
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{rec},
		Traces:  []particle.Trace{particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{15: 0.2, 431: 0.9}),
	}
	plan, err := newTestScanner(x, YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)

	p := math.Exp(-5.0/20) * -math.Expm1(-10.0/20)
	assert.InDelta(t, 0.05*0.2*p, plan.Expected(1e-6), 1e-12)
	x.AssertExpectations(t)
}

func TestPlanTauWithoutGrandparentFails(t *testing.T) {
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(15, 1)},
		Traces:  []particle.Trace{particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{15: 1}),
	}
	_, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 1}).Plan(in)
	assert.ErrorIs(t, err, core.ErrMissingTauParent)
}

func TestPlanHardModeWithoutSigmaFails(t *testing.T) {
	x := &mockXsec{}
	x.On("ParentSigmaPB", 421, particle.QCDHardCCbar, mock.Anything).Return(0.0, core.ErrMissingSigmaGen)

	rec := row(421, 1)
	rec.QCDMode = particle.QCDHardCCbar
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{rec},
		Traces:  []particle.Trace{particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{421: 1}),
	}
	_, err := newTestScanner(x, YieldConfig{LumiFb: 1}).Plan(in)
	assert.True(t, errors.Is(err, core.ErrMissingSigmaGen))
	assert.True(t, core.IsConfigError(err))
}

func TestPlanWarnsOnMissingInputs(t *testing.T) {
	x := &mockXsec{}
	x.On("ParentSigmaPB", 421, mock.Anything, mock.Anything).Return(1e-3, nil)
	x.On("ParentSigmaPB", 411, mock.Anything, mock.Anything).Return(0.0, nil)
	x.On("ParentToTauBR", 521).Return(0.0)

	tau := row(15, 1)
	tau.TauParentPDG = 521
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(421, 1), row(999, 1), row(999, 1), row(411, 1), tau, row(0, 1)},
		Traces: []particle.Trace{
			particle.Hit(5, 10), particle.Hit(5, 10), particle.Hit(5, 10),
			particle.Hit(5, 10), particle.Hit(5, 10), particle.Hit(5, 10),
		},
		Oracle: unitOracle(map[int]float64{421: 1, 411: 1, 15: 1}),
	}
	plan, err := newTestScanner(x, YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)

	var ws core.Warnings
	ws.Merge(plan.Warnings())
	assert.Equal(t, 2, ws.Total(core.WarnMissingBR))
	assert.Equal(t, 1, ws.Total(core.WarnMissingTauBR))
	assert.Equal(t, 1, ws.Total(core.WarnMissingXsec))
	assert.Equal(t, 1, ws.Total(core.WarnInvalidRow))
	assert.Zero(t, ws.Total(core.WarnNoContribution))

	p := math.Exp(-5.0/20) * -math.Expm1(-10.0/20)
	assert.InDelta(t, p, plan.Expected(1e-6), 1e-12)
}

func TestPlanWarnsOnNonPositiveGroupWeight(t *testing.T) {
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(421, 1), row(511, 0), row(511, 0)},
		Traces:  []particle.Trace{particle.Hit(5, 10), particle.Hit(5, 10), particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{421: 1, 511: 1}),
	}
	plan, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)

	var ws core.Warnings
	ws.Merge(plan.Warnings())
	assert.Equal(t, 2, ws.Total(core.WarnInvalidRow))
	assert.Len(t, plan.Summaries(1e-6), 1)

	p := math.Exp(-5.0/20) * -math.Expm1(-10.0/20)
	assert.InDelta(t, p, plan.Expected(1e-6), 1e-12)
}

func TestPlanNoContribution(t *testing.T) {
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(999, 1)},
		Traces:  []particle.Trace{particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{}),
	}
	plan, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)

	var ws core.Warnings
	ws.Merge(plan.Warnings())
	assert.Equal(t, 1, ws.Total(core.WarnNoContribution))
	assert.Zero(t, plan.Expected(1e-6))
}

func TestPlanSplitsBySigmaGen(t *testing.T) {
	x := &mockXsec{}
	x.On("ParentSigmaPB", 511, particle.QCDHardBBbar, 2.0).Return(2e-3, nil)
	x.On("ParentSigmaPB", 511, particle.QCDHardBBbar, 4.0).Return(4e-3, nil)

	a, b := row(511, 1), row(511, 1)
	a.QCDMode, a.SigmaGenPB = particle.QCDHardBBbar, 2
	b.QCDMode, b.SigmaGenPB = particle.QCDHardBBbar, 4
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{a, b},
		Traces:  []particle.Trace{particle.Hit(5, 10), particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{511: 1}),
	}
	plan, err := newTestScanner(x, YieldConfig{LumiFb: 1}).Plan(in)
	require.NoError(t, err)

	p := math.Exp(-5.0/20) * -math.Expm1(-10.0/20)
	assert.InDelta(t, 6*p, plan.Expected(1e-6), 1e-12)
	assert.Len(t, plan.Summaries(1e-6), 2)
	x.AssertExpectations(t)
}

func TestScanProducesIsland(t *testing.T) {
	x := &mockXsec{}
	x.On("ParentSigmaPB", mock.Anything, mock.Anything, mock.Anything).Return(1e3, nil)

	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(421, 1)},
		Traces:  []particle.Trace{particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{421: 1}),
	}
	grid := scan.DefaultGrid()
	points, plan, err := newTestScanner(x, YieldConfig{LumiFb: 3000}).Scan(context.Background(), in, grid)
	require.NoError(t, err)
	require.Len(t, points, len(grid))

	excl, ok := scan.FindExclusion(points, scan.DefaultThreshold)
	require.True(t, ok)
	assert.Greater(t, excl.Lo, 0)
	assert.Less(t, excl.Hi, len(grid)-1)
	assert.GreaterOrEqual(t, points[excl.Lo].ExpectedEvents, scan.DefaultThreshold)
	assert.Less(t, points[0].ExpectedEvents, scan.DefaultThreshold)
	assert.Less(t, points[len(points)-1].ExpectedEvents, scan.DefaultThreshold)

	sums := plan.Summaries(1e-6)
	require.Len(t, sums, 1)
	assert.Equal(t, 1, sums[0].Hits)
	assert.InDelta(t, sums[0].MeanEff, sums[0].MaxEff, 1e-12)
}

func TestScanCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	in := &YieldInput{
		MassGeV: 1,
		Records: []particle.Record{row(421, 1)},
		Traces:  []particle.Trace{particle.Hit(5, 10)},
		Oracle:  unitOracle(map[int]float64{421: 1}),
	}
	_, _, err := newTestScanner(unitXsec(), YieldConfig{LumiFb: 1}).Scan(ctx, in, scan.DefaultGrid())
	assert.ErrorIs(t, err, context.Canceled)
}
