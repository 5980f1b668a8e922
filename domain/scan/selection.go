package scan

import (
	"fmt"
	"math"
	"strings"

	"llpaccept/domain/core"
)

// ParsePolicy accepts "all-pairs-min" or "any-pair-window", with underscores allowed
func ParsePolicy(s string) (SeparationPolicy, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-")
	switch SeparationPolicy(norm) {
	case PolicyAllPairsMin, "":
		return PolicyAllPairsMin, nil
	case PolicyAnyPairWindow:
		return PolicyAnyPairWindow, nil
	default:
		return "", core.NewSelectionError("separation_policy", fmt.Sprintf("unsupported %q (use all-pairs-min or any-pair-window)", s))
	}
}

// ParseDecayMode accepts "library" or "brvis-kappa"
func ParseDecayMode(s string) (DecayMode, error) {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	switch DecayMode(norm) {
	case DecayModeLibrary, "":
		return DecayModeLibrary, nil
	case DecayModeCalibrated:
		return DecayModeCalibrated, nil
	default:
		return "", core.NewSelectionError("decay_mode", fmt.Sprintf("unsupported %q (use library or brvis-kappa)", s))
	}
}

// DefaultSelection mirrors the nominal analysis cuts
func DefaultSelection() Selection {
	return Selection{
		SeparationM:    1e-3,
		Policy:         PolicyAllPairsMin,
		PMinGeV:        0.6,
		DecaySeed:      12345,
		Mode:           DecayModeLibrary,
		RecoEfficiency: 1.0,
	}
}

// HasMaxSeparation reports whether an upper separation bound is set. A zero
// MaxSeparationM is the unbounded default, not a zero-width window.
func (s Selection) HasMaxSeparation() bool {
	return s.MaxSeparationM > 0
}

// Validate rejects inconsistent cut combinations
func (s Selection) Validate() error {
	if !(s.SeparationM > 0) || math.IsInf(s.SeparationM, 0) {
		return core.NewSelectionError("separation_m", fmt.Sprintf("must be positive and finite, got %v", s.SeparationM))
	}
	if s.MaxSeparationM < 0 || math.IsNaN(s.MaxSeparationM) {
		return core.NewSelectionError("max_separation_m", fmt.Sprintf("must be >= 0, got %v", s.MaxSeparationM))
	}
	if s.HasMaxSeparation() && s.MaxSeparationM <= s.SeparationM {
		return core.NewSelectionError("max_separation_m",
			fmt.Sprintf("must be > separation_m (got %v <= %v)", s.MaxSeparationM, s.SeparationM))
	}
	if s.PMinGeV < 0 || math.IsNaN(s.PMinGeV) {
		return core.NewSelectionError("p_min_gev", fmt.Sprintf("must be >= 0, got %v", s.PMinGeV))
	}
	if !(s.RecoEfficiency > 0 && s.RecoEfficiency <= 1) {
		return core.NewSelectionError("reco_efficiency", fmt.Sprintf("must be in (0, 1], got %v", s.RecoEfficiency))
	}
	if _, err := ParsePolicy(string(s.Policy)); err != nil {
		return err
	}
	switch s.Mode {
	case DecayModeLibrary:
	case DecayModeCalibrated:
		if s.HasMaxSeparation() {
			return core.NewSelectionError("max_separation_m", "not supported with the brvis-kappa decay mode")
		}
		if s.Policy != PolicyAllPairsMin {
			return core.NewSelectionError("separation_policy", "must be all-pairs-min with the brvis-kappa decay mode")
		}
	default:
		return core.NewSelectionError("decay_mode", fmt.Sprintf("unsupported %q", s.Mode))
	}
	return nil
}
