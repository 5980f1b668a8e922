package scan

import "math"

// FindExclusion returns the first and last grid index whose expected events
// reach threshold. The excluded set is not assumed to be monotone; ok is
// false when no point reaches threshold.
func FindExclusion(points []Point, threshold float64) (Exclusion, bool) {
	lo, hi := -1, -1
	for i, p := range points {
		if p.ExpectedEvents >= threshold {
			if lo < 0 {
				lo = i
			}
			hi = i
		}
	}
	if lo < 0 {
		return Exclusion{Lo: -1, Hi: -1, Eps2Min: math.NaN(), Eps2Max: math.NaN(), Eps2Lo: math.NaN(), Eps2Hi: math.NaN()}, false
	}

	ex := Exclusion{
		Lo:      lo,
		Hi:      hi,
		Eps2Lo:  points[lo].Eps2,
		Eps2Hi:  points[hi].Eps2,
		Eps2Min: points[lo].Eps2,
		Eps2Max: points[hi].Eps2,
		Bounded: lo > 0 && hi < len(points)-1,
	}

	if lo > 0 {
		below, above := points[lo-1], points[lo]
		if dN := above.ExpectedEvents - below.ExpectedEvents; dN > 0 {
			frac := clamp01((threshold - below.ExpectedEvents) / dN)
			ex.Eps2Min = logInterp(below.Eps2, above.Eps2, frac)
		}
	}
	if hi < len(points)-1 {
		above, below := points[hi], points[hi+1]
		if dN := above.ExpectedEvents - below.ExpectedEvents; dN > 0 {
			frac := clamp01((above.ExpectedEvents - threshold) / dN)
			ex.Eps2Max = logInterp(above.Eps2, below.Eps2, frac)
		}
	}
	return ex, true
}

// Peak returns the largest expected event count
func Peak(points []Point) float64 {
	peak := 0.0
	for _, p := range points {
		if p.ExpectedEvents > peak {
			peak = p.ExpectedEvents
		}
	}
	return peak
}

func logInterp(a, b, frac float64) float64 {
	la, lb := math.Log10(a), math.Log10(b)
	return math.Pow(10, la+frac*(lb-la))
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}
