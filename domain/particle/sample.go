package particle

import (
	"fmt"
	"sort"
	"strings"
)

// ProductionMode marks direct or via-tau components of a tau-flavour sample
type ProductionMode string

const (
	ModeInclusive ProductionMode = ""
	ModeDirect    ProductionMode = "direct"
	ModeFromTau   ProductionMode = "fromTau"
)

// SampleInfo describes one production sample file
type SampleInfo struct {
	Path     string
	MassGeV  float64
	Flavour  Flavour
	Regime   Regime
	Mode     ProductionMode
	IsFF     bool
	QCDMode  QCDMode
	PTHatMin float64
	HasPTHat bool
}

// Label renders the regime and variant flags, e.g. "charm_ff_hardccbar_pTHat10"
func (s SampleInfo) Label() string {
	var b strings.Builder
	b.WriteString(string(s.Regime))
	if s.IsFF {
		b.WriteString("_ff")
	}
	if s.Mode != ModeInclusive {
		b.WriteString("_" + string(s.Mode))
	}
	if s.QCDMode != QCDAuto && s.QCDMode != "" {
		b.WriteString("_" + string(s.QCDMode))
		if s.HasPTHat {
			b.WriteString("_pTHat" + strings.ReplaceAll(fmt.Sprintf("%g", s.PTHatMin), ".", "p"))
		}
	}
	return b.String()
}

// Sample is a loaded production sample
type Sample struct {
	Info    SampleInfo
	Records []Record
}

// KeyCounts counts rows per normalization key, skipping rows without a parent
func (s *Sample) KeyCounts() map[NormalizationKey]int {
	counts := make(map[NormalizationKey]int)
	for _, r := range s.Records {
		if r.ParentPDG <= 0 {
			continue
		}
		counts[r.Key()]++
	}
	return counts
}

// Filter returns the records owned by any of the given keys
func (s *Sample) Filter(keys []NormalizationKey) []Record {
	if len(keys) == 0 {
		return nil
	}
	out := make([]Record, 0, len(s.Records))
	for _, r := range s.Records {
		for _, k := range keys {
			if k.Owns(r) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// VariantPriority ranks alternative files of the same (regime, mode).
// Higher is preferred, compared field by field.
type VariantPriority struct {
	QCD   int
	FF    int
	PTHat float64
}

// Compare returns -1, 0 or 1
func (p VariantPriority) Compare(o VariantPriority) int {
	switch {
	case p.QCD != o.QCD:
		return cmpInt(p.QCD, o.QCD)
	case p.FF != o.FF:
		return cmpInt(p.FF, o.FF)
	case p.PTHat < o.PTHat:
		return -1
	case p.PTHat > o.PTHat:
		return 1
	default:
		return 0
	}
}

// VariantPriority prefers hard-QCD samples matching the regime's heavy
// flavour, then any hard sample, then form-factor samples, then higher pTHat.
func (s SampleInfo) VariantPriority() VariantPriority {
	p := VariantPriority{QCD: 1, PTHat: -1}
	switch {
	case s.Regime == RegimeCharm && s.QCDMode == QCDHardCCbar:
		p.QCD = 3
	case (s.Regime == RegimeBeauty || s.Regime == RegimeBc) && (s.QCDMode == QCDHardBBbar || s.QCDMode == QCDHardBc):
		p.QCD = 3
	case s.QCDMode.IsHard():
		p.QCD = 2
	}
	if s.IsFF {
		p.FF = 1
	}
	if s.HasPTHat {
		p.PTHat = s.PTHatMin
	}
	return p
}

func cmpInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// GroupByMass buckets sample infos by mass point
func GroupByMass(infos []SampleInfo) map[float64][]SampleInfo {
	out := make(map[float64][]SampleInfo)
	for _, info := range infos {
		out[info.MassGeV] = append(out[info.MassGeV], info)
	}
	return out
}

// SortedMasses returns the keys of a mass grouping in ascending order
func SortedMasses(groups map[float64][]SampleInfo) []float64 {
	out := make([]float64, 0, len(groups))
	for m := range groups {
		out = append(out, m)
	}
	sort.Float64s(out)
	return out
}
