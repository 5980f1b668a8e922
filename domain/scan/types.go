// Package scan holds the coupling-scan value types and grid helpers.
package scan

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat/distuv"

	"llpaccept/domain/particle"
)

// DefaultThreshold is the 95% CL upper limit on a Poisson mean with zero
// observed events and no background.
const DefaultThreshold = 2.996

// Point is one coupling value of the scan
type Point struct {
	Eps2           float64 `json:"eps2"`
	CtauM          float64 `json:"ctau_m"`
	ExpectedEvents float64 `json:"expected_events"`
}

// Exclusion is the excluded island of a scan. Lo and Hi are grid indices;
// Eps2Min and Eps2Max are the log-linear boundary estimates.
type Exclusion struct {
	Lo      int     `json:"lo"`
	Hi      int     `json:"hi"`
	Eps2Lo  float64 `json:"eps2_lo"`
	Eps2Hi  float64 `json:"eps2_hi"`
	Eps2Min float64 `json:"eps2_min"`
	Eps2Max float64 `json:"eps2_max"`
	Bounded bool    `json:"bounded"`
}

// OraclePoint is the physics input at one mass, tabulated at coupling Eps2Ref.
type OraclePoint struct {
	MassGeV     float64
	Flavour     particle.Flavour
	Eps2Ref     float64
	Ctau0M      float64
	BRPerParent map[int]float64
	BRVisible   float64
}

// CtauAt scales the proper decay length as ctau(eps2) = ctau(ref) * ref / eps2
func (o OraclePoint) CtauAt(eps2 float64) float64 {
	if eps2 <= 0 {
		return math.Inf(1)
	}
	return o.Ctau0M * o.Eps2Ref / eps2
}

// BRScale is the factor applied to every production branching ratio at eps2
func (o OraclePoint) BRScale(eps2 float64) float64 {
	return eps2 / o.Eps2Ref
}

// LogGrid returns n log-spaced values from 10^lo to 10^hi inclusive
func LogGrid(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{math.Pow(10, lo)}
	}
	return floats.LogSpan(make([]float64, n), math.Pow(10, lo), math.Pow(10, hi))
}

// DefaultGrid is 100 points from 1e-12 to 1e-2
func DefaultGrid() []float64 {
	return LogGrid(-12, -2, 100)
}

// PoissonThreshold returns the mean mu for which observing zero events has
// probability 1-cl, i.e. the zero-background upper limit at confidence cl.
func PoissonThreshold(cl float64) float64 {
	if !(cl > 0 && cl < 1) {
		return DefaultThreshold
	}
	lo, hi := 0.0, 100.0
	for i := 0; i < 200; i++ {
		mid := 0.5 * (lo + hi)
		p0 := distuv.Poisson{Lambda: mid}.CDF(0)
		if p0 > 1-cl {
			lo = mid
		} else {
			hi = mid
		}
	}
	return 0.5 * (lo + hi)
}
