package ports

import (
	"context"

	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
)

// PhysicsOracle provides the decay length and production branching ratios at a reference coupling
type PhysicsOracle interface {
	Lookup(ctx context.Context, massGeV float64, flavour particle.Flavour) (scan.OraclePoint, error)
}

// CrossSections provides parent production cross-sections and SM tau branching ratios
type CrossSections interface {
	// ParentSigmaPB returns the cross-section in pb; hard QCD modes rescale by sigmaGenPB
	ParentSigmaPB(pdg int, mode particle.QCDMode, sigmaGenPB float64) (float64, error)

	// ParentToTauBR returns BR(parent -> tau X)
	ParentToTauBR(pdg int) float64
}
