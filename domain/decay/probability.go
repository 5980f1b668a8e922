// Package decay holds the closed-form decay-in-volume formulas.
package decay

import "math"

// Length returns the lab-frame decay length beta*gamma*c*tau0
func Length(betaGamma, ctau0M float64) float64 {
	return betaGamma * ctau0M
}

// Probability is the chance of decaying between entry and entry+path along a
// trajectory with lab decay length lambda: exp(-entry/lambda)*(1-exp(-path/lambda)).
// The second factor uses expm1 to stay accurate when path << lambda.
// Returns 0 for lambda <= 0, non-finite input or path == 0.
func Probability(entry, path, lambda float64) float64 {
	if !(lambda > 0) || math.IsInf(lambda, 0) {
		return 0
	}
	if !(path > 0) || math.IsInf(path, 0) || math.IsNaN(entry) || math.IsInf(entry, 0) {
		return 0
	}
	if entry < 0 {
		entry = 0
	}
	p := math.Exp(-entry/lambda) * -math.Expm1(-path/lambda)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// ValidLength reports whether lambda yields a meaningful probability
func ValidLength(lambda float64) bool {
	return lambda > 0 && !math.IsInf(lambda, 0)
}

// SampleDistance draws the decay distance from the truncated exponential on
// [entry, entry+path] using the uniform u in [0,1). ok is false when the
// interval has no probability mass.
func SampleDistance(entry, path, lambda, u float64) (float64, bool) {
	if !ValidLength(lambda) || !(path > 0) || math.IsNaN(entry) || math.IsInf(entry, 0) || math.IsInf(path, 0) {
		return 0, false
	}
	expEntry := math.Exp(-entry / lambda)
	denom := expEntry * -math.Expm1(-path/lambda)
	if !(denom > 0) {
		return 0, false
	}
	value := expEntry - u*denom
	if !(value > 0) {
		return 0, false
	}
	d := -lambda * math.Log(value)
	if d < entry {
		d = entry
	}
	if d > entry+path {
		d = entry + path
	}
	return d, true
}

// MidpointDistance is the coupling-independent decay position used by the
// static separation approximation.
func MidpointDistance(entry, path float64) float64 {
	return entry + 0.5*path
}
