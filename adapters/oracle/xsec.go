package oracle

import (
	"fmt"
	"math"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
)

// Inclusive 14 TeV production cross-sections in pb
const (
	SigmaCCbarPB = 24.0e9
	SigmaBBbarPB = 500.0e6
	SigmaKaonPB  = 5.0e10
	SigmaKLPB    = SigmaKaonPB * 0.5
	SigmaWPB     = 2.0e8
	SigmaZPB     = 6.0e7
)

// fragmentation fractions c -> hadron
var charmFragmentation = map[int]float64{421: 0.59, 411: 0.24, 431: 0.10, 4122: 0.06}

// fragmentation fractions b -> hadron
var beautyFragmentation = map[int]float64{
	511: 0.40, 521: 0.40, 531: 0.10, 541: 0.001,
	5122: 0.10, 5232: 0.03, 5332: 0.01,
}

// SM branching ratios parent -> tau nu X
var tauBR = map[int]float64{431: 0.053, 511: 0.023, 521: 0.023, 531: 0.023}

// dsToTauFraction is the tau yield per Ds used for direct tau production
const dsToTauFraction = 0.055

// StandardCrossSections is the fixed LHC cross-section table. Hard-QCD
// samples replace the inclusive ccbar or bbbar cross-section with the
// generator-level one they were produced with.
type StandardCrossSections struct{}

// NewStandardCrossSections returns the fixed table
func NewStandardCrossSections() *StandardCrossSections {
	return &StandardCrossSections{}
}

// ParentSigmaPB returns the parent cross-section; 0 means unknown parent
func (StandardCrossSections) ParentSigmaPB(pdg int, mode particle.QCDMode, sigmaGenPB float64) (float64, error) {
	if pdg < 0 {
		pdg = -pdg
	}
	ccbar, bbbar := SigmaCCbarPB, SigmaBBbarPB
	if mode.IsHard() {
		if math.IsNaN(sigmaGenPB) || math.IsInf(sigmaGenPB, 0) || !(sigmaGenPB > 0) {
			return 0, fmt.Errorf("%w: mode %s parent %d has sigma_gen_pb=%v; provide it or use qcd_mode=auto",
				core.ErrMissingSigmaGen, mode, pdg, sigmaGenPB)
		}
		if mode == particle.QCDHardCCbar {
			ccbar = sigmaGenPB
		} else {
			bbbar = sigmaGenPB
		}
	}

	switch {
	case pdg == 321:
		return SigmaKaonPB, nil
	case pdg == 130:
		return SigmaKLPB, nil
	case pdg == 24:
		return SigmaWPB, nil
	case pdg == 23:
		return SigmaZPB, nil
	case pdg == 15:
		return ccbar * charmFragmentation[431] * 2 * dsToTauFraction, nil
	}
	if f, ok := charmFragmentation[pdg]; ok {
		return ccbar * f * 2, nil
	}
	if f, ok := beautyFragmentation[pdg]; ok {
		return bbbar * f * 2, nil
	}
	return 0, nil
}

// ParentToTauBR returns BR(parent -> tau nu X); 0 for parents not tabulated
func (StandardCrossSections) ParentToTauBR(pdg int) float64 {
	if pdg < 0 {
		pdg = -pdg
	}
	return tauBR[pdg]
}
