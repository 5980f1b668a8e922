package particle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionFromEtaPhi(t *testing.T) {
	d, ok := DirectionFromEtaPhi(0, 0)
	require.True(t, ok)
	assert.InDelta(t, 1.0, d.X, 1e-12)
	assert.InDelta(t, 0.0, d.Z, 1e-12)

	d, ok = DirectionFromEtaPhi(10, 0)
	require.True(t, ok)
	assert.Greater(t, d.Z, 0.999)

	d, ok = DirectionFromEtaPhi(0.5, math.Pi/2)
	require.True(t, ok)
	assert.InDelta(t, 1.0, d.X*d.X+d.Y*d.Y+d.Z*d.Z, 1e-12)
	assert.InDelta(t, 0.0, d.X, 1e-12)

	_, ok = DirectionFromEtaPhi(math.NaN(), 0)
	assert.False(t, ok)
	_, ok = DirectionFromEtaPhi(0, math.Inf(1))
	assert.False(t, ok)
}

func TestBeta(t *testing.T) {
	bg := 0.98 / math.Sqrt(1-0.98*0.98)
	assert.InDelta(t, 0.98, Beta(bg), 1e-12)
	assert.True(t, math.IsNaN(BetaGammaFrom(1, 0)))
	assert.Equal(t, 2.0, BetaGammaFrom(4, 2))
}

func TestKeyFor(t *testing.T) {
	assert.Equal(t, NormalizationKey{KeyPID, 421}, KeyFor(421, 0))
	assert.Equal(t, NormalizationKey{KeyPID, 15}, KeyFor(15, 0))
	assert.Equal(t, NormalizationKey{KeyTauParent, 431}, KeyFor(15, 431))
	assert.Equal(t, "tau_parent:431", KeyFor(15, 431).String())
}

func TestSectorOf(t *testing.T) {
	tests := map[int]Sector{
		321: SectorKaon, 130: SectorKaon,
		421: SectorCharm, 4122: SectorCharm,
		511: SectorBeauty, 541: SectorBeauty, 5332: SectorBeauty,
		24: SectorEW, 23: SectorEW,
		15: SectorOther, 211: SectorOther,
	}
	for pdg, want := range tests {
		assert.Equal(t, want, SectorOf(pdg), "pdg %d", pdg)
	}
}

func TestKeyOwnsSeparatesTauChains(t *testing.T) {
	direct := Record{ParentPDG: 15}
	chain := Record{ParentPDG: 15, TauParentPDG: 431}
	ds := Record{ParentPDG: 431}

	tauKey := KeyFor(15, 0)
	assert.True(t, tauKey.Owns(direct))
	assert.False(t, tauKey.Owns(chain))

	chainKey := KeyFor(15, 431)
	assert.True(t, chainKey.Owns(chain))
	assert.False(t, chainKey.Owns(ds))

	dsKey := KeyFor(431, 0)
	assert.True(t, dsKey.Owns(ds))
	assert.False(t, dsKey.Owns(chain))
}

func TestSampleKeyCountsAndFilter(t *testing.T) {
	s := &Sample{Records: []Record{
		{ParentPDG: 421}, {ParentPDG: 421}, {ParentPDG: 411},
		{ParentPDG: 15, TauParentPDG: 431}, {ParentPDG: 0},
	}}
	counts := s.KeyCounts()
	assert.Equal(t, 2, counts[KeyFor(421, 0)])
	assert.Equal(t, 1, counts[KeyFor(15, 431)])
	assert.Len(t, counts, 3)

	kept := s.Filter([]NormalizationKey{KeyFor(421, 0), KeyFor(15, 431)})
	assert.Len(t, kept, 3)
	assert.Empty(t, s.Filter(nil))
}

func TestSampleLabel(t *testing.T) {
	info := SampleInfo{Regime: RegimeCharm, IsFF: true, QCDMode: QCDHardCCbar, PTHatMin: 10, HasPTHat: true}
	assert.Equal(t, "charm_ff_hardccbar_pTHat10", info.Label())

	info = SampleInfo{Regime: RegimeBeauty, Mode: ModeFromTau, QCDMode: QCDAuto}
	assert.Equal(t, "beauty_fromTau", info.Label())
}

func TestParsers(t *testing.T) {
	f, err := FlavourFromBenchmark("010")
	require.NoError(t, err)
	assert.Equal(t, FlavourMuon, f)
	assert.Equal(t, "010", f.Benchmark())
	_, err = FlavourFromBenchmark("111")
	assert.Error(t, err)

	m, err := ParseQCDMode("nan")
	require.NoError(t, err)
	assert.Equal(t, QCDAuto, m)
	assert.False(t, m.IsHard())
	m, err = ParseQCDMode("hardBc")
	require.NoError(t, err)
	assert.True(t, m.IsHard())

	r, err := ParseRegime("Bc")
	require.NoError(t, err)
	assert.Equal(t, RegimeBc, r)
	assert.True(t, RegimeCombined.IsInclusive())
	_, err = ParseRegime("light")
	assert.Error(t, err)
}

func TestVariantPriority(t *testing.T) {
	plain := SampleInfo{Regime: RegimeCharm, QCDMode: QCDAuto}
	ff := SampleInfo{Regime: RegimeCharm, QCDMode: QCDAuto, IsFF: true}
	matching := SampleInfo{Regime: RegimeCharm, QCDMode: QCDHardCCbar, PTHatMin: 5, HasPTHat: true}
	matchingHigh := SampleInfo{Regime: RegimeCharm, QCDMode: QCDHardCCbar, PTHatMin: 10, HasPTHat: true}
	otherHard := SampleInfo{Regime: RegimeCharm, QCDMode: QCDHardBBbar}

	assert.Equal(t, 1, ff.VariantPriority().Compare(plain.VariantPriority()))
	assert.Equal(t, 1, otherHard.VariantPriority().Compare(ff.VariantPriority()))
	assert.Equal(t, 1, matching.VariantPriority().Compare(otherHard.VariantPriority()))
	assert.Equal(t, 1, matchingHigh.VariantPriority().Compare(matching.VariantPriority()))
	assert.Equal(t, 0, plain.VariantPriority().Compare(plain.VariantPriority()))
	assert.Equal(t, -1.0, plain.VariantPriority().PTHat)

	bc := SampleInfo{Regime: RegimeBc, QCDMode: QCDHardBc}
	assert.Equal(t, 3, bc.VariantPriority().QCD)
}

func TestRegimeMatchScore(t *testing.T) {
	tests := []struct {
		regime Regime
		sector Sector
		want   int
	}{
		{RegimeAll, SectorBeauty, 6},
		{RegimeCombined, SectorEW, 6},
		{RegimeEW, SectorEW, 6},
		{RegimeCharm, SectorEW, 0},
		{RegimeKaon, SectorKaon, 6},
		{RegimeCharm, SectorKaon, 2},
		{RegimeCharm, SectorCharm, 6},
		{RegimeBeauty, SectorCharm, 1},
		{RegimeEW, SectorCharm, 0},
		{RegimeBc, SectorBeauty, 6},
		{RegimeCharm, SectorBeauty, 1},
		{RegimeKaon, SectorBeauty, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RegimeMatchScore(tt.regime, tt.sector), "%s/%s", tt.regime, tt.sector)
	}
}

func TestRegimeOrder(t *testing.T) {
	assert.Less(t, RegimeKaon.Order(), RegimeCharm.Order())
	assert.Less(t, RegimeBc.Order(), RegimeEW.Order())
	assert.Equal(t, RegimeAll.Order(), RegimeCombined.Order())
	assert.Equal(t, 99, Regime("top").Order())
}

func TestGroupByMass(t *testing.T) {
	infos := []SampleInfo{{MassGeV: 2}, {MassGeV: 1}, {MassGeV: 2}}
	groups := GroupByMass(infos)
	assert.Equal(t, []float64{1, 2}, SortedMasses(groups))
	assert.Len(t, groups[2], 2)
}
