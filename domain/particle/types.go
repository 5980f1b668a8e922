package particle

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Flavour is the lepton flavour the long-lived particle mixes with
type Flavour string

const (
	FlavourElectron Flavour = "electron"
	FlavourMuon     Flavour = "muon"
	FlavourTau      Flavour = "tau"
)

// ParseFlavour accepts a flavour name
func ParseFlavour(s string) (Flavour, error) {
	switch Flavour(strings.ToLower(strings.TrimSpace(s))) {
	case FlavourElectron:
		return FlavourElectron, nil
	case FlavourMuon:
		return FlavourMuon, nil
	case FlavourTau:
		return FlavourTau, nil
	default:
		return "", fmt.Errorf("unknown flavour %q (use electron, muon or tau)", s)
	}
}

// FlavourFromBenchmark maps a coupling pattern ("100", "010", "001") to a flavour
func FlavourFromBenchmark(benchmark string) (Flavour, error) {
	switch benchmark {
	case "100":
		return FlavourElectron, nil
	case "010":
		return FlavourMuon, nil
	case "001":
		return FlavourTau, nil
	default:
		return "", fmt.Errorf("unsupported benchmark %q (use 100, 010 or 001)", benchmark)
	}
}

// Benchmark returns the coupling pattern for the flavour
func (f Flavour) Benchmark() string {
	switch f {
	case FlavourElectron:
		return "100"
	case FlavourMuon:
		return "010"
	case FlavourTau:
		return "001"
	default:
		return ""
	}
}

// QCDMode is the generator sub-mode a sample was produced with
type QCDMode string

const (
	QCDAuto      QCDMode = "auto"
	QCDHardCCbar QCDMode = "hardccbar"
	QCDHardBBbar QCDMode = "hardbbbar"
	QCDHardBc    QCDMode = "hardBc"
)

// ParseQCDMode normalizes empty and nan-like tokens to auto
func ParseQCDMode(s string) (QCDMode, error) {
	switch strings.TrimSpace(s) {
	case "", "auto", "nan", "NaN", "None":
		return QCDAuto, nil
	case string(QCDHardCCbar):
		return QCDHardCCbar, nil
	case string(QCDHardBBbar):
		return QCDHardBBbar, nil
	case string(QCDHardBc):
		return QCDHardBc, nil
	default:
		return "", fmt.Errorf("unknown qcd mode %q", s)
	}
}

// IsHard reports whether the mode is a pTHat-sliced hard-QCD sample
func (m QCDMode) IsHard() bool {
	return m == QCDHardCCbar || m == QCDHardBBbar || m == QCDHardBc
}

// Record is one simulated long-lived particle
type Record struct {
	EventID      int64
	ParentPDG    int // absolute value
	TauParentPDG int // grandparent for tau chains, 0 otherwise
	Eta          float64
	Phi          float64
	Momentum     float64 // GeV
	Mass         float64 // GeV
	Weight       float64 // relative MC weight
	BetaGamma    float64
	QCDMode      QCDMode
	SigmaGenPB   float64 // NaN when absent
}

// IsTauChain reports whether the particle came from a tau whose parent is known
func (r Record) IsTauChain() bool {
	return r.ParentPDG == 15 && r.TauParentPDG > 0
}

// Direction converts (eta, phi) to a unit vector. ok is false for non-finite input.
func (r Record) Direction() (r3.Vec, bool) {
	return DirectionFromEtaPhi(r.Eta, r.Phi)
}

// DirectionFromEtaPhi uses theta = 2 atan(exp(-eta))
func DirectionFromEtaPhi(eta, phi float64) (r3.Vec, bool) {
	if math.IsNaN(eta) || math.IsInf(eta, 0) || math.IsNaN(phi) || math.IsInf(phi, 0) {
		return r3.Vec{}, false
	}
	theta := 2.0 * math.Atan(math.Exp(-eta))
	d := r3.Vec{
		X: math.Sin(theta) * math.Cos(phi),
		Y: math.Sin(theta) * math.Sin(phi),
		Z: math.Cos(theta),
	}
	n := r3.Norm(d)
	if n == 0 || math.IsNaN(n) {
		return r3.Vec{}, false
	}
	return r3.Scale(1/n, d), true
}

// BetaGammaFrom returns p/m, or NaN when mass is not positive
func BetaGammaFrom(momentum, mass float64) float64 {
	if mass <= 0 {
		return math.NaN()
	}
	return momentum / mass
}

// Beta converts beta*gamma into beta
func Beta(betaGamma float64) float64 {
	return betaGamma / math.Sqrt(1.0+betaGamma*betaGamma)
}

// TraceStatus records why a trace did or did not hit
type TraceStatus int

const (
	TraceMiss TraceStatus = iota
	TraceHit
	TraceDegenerate
	TraceOddCrossings
	TraceFailed
)

func (s TraceStatus) String() string {
	switch s {
	case TraceHit:
		return "hit"
	case TraceMiss:
		return "miss"
	case TraceDegenerate:
		return "degenerate"
	case TraceOddCrossings:
		return "odd_crossings"
	case TraceFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Trace is the coupling-independent geometric result for one particle.
// EntryDistance and PathLength are NaN unless HitsVolume.
type Trace struct {
	HitsVolume    bool
	EntryDistance float64
	PathLength    float64
	Status        TraceStatus
}

// Miss returns a non-hitting trace with the given status
func Miss(status TraceStatus) Trace {
	return Trace{EntryDistance: math.NaN(), PathLength: math.NaN(), Status: status}
}

// Hit returns a hitting trace
func Hit(entry, path float64) Trace {
	return Trace{HitsVolume: true, EntryDistance: entry, PathLength: path, Status: TraceHit}
}
