package particle

import (
	"fmt"
	"sort"
	"strings"
)

// Regime is the production regime a sample was generated in
type Regime string

const (
	RegimeKaon     Regime = "kaon"
	RegimeCharm    Regime = "charm"
	RegimeBeauty   Regime = "beauty"
	RegimeBc       Regime = "Bc"
	RegimeEW       Regime = "ew"
	RegimeAll      Regime = "all"
	RegimeCombined Regime = "combined"
)

// ParseRegime accepts the regime tokens used in sample file names
func ParseRegime(s string) (Regime, error) {
	switch Regime(strings.TrimSpace(s)) {
	case RegimeKaon:
		return RegimeKaon, nil
	case RegimeCharm:
		return RegimeCharm, nil
	case RegimeBeauty:
		return RegimeBeauty, nil
	case RegimeBc:
		return RegimeBc, nil
	case RegimeEW:
		return RegimeEW, nil
	case RegimeAll:
		return RegimeAll, nil
	case RegimeCombined:
		return RegimeCombined, nil
	default:
		return "", fmt.Errorf("unknown production regime %q", s)
	}
}

// IsInclusive reports whether the regime covers every sector
func (r Regime) IsInclusive() bool {
	return r == RegimeAll || r == RegimeCombined
}

// Sector is the physical family of a parent species
type Sector string

const (
	SectorKaon   Sector = "kaon"
	SectorCharm  Sector = "charm"
	SectorBeauty Sector = "beauty"
	SectorEW     Sector = "ew"
	SectorOther  Sector = "other"
)

var (
	kaonParents   = map[int]bool{130: true, 321: true}
	charmParents  = map[int]bool{411: true, 421: true, 431: true, 4122: true}
	beautyParents = map[int]bool{511: true, 521: true, 531: true, 541: true, 5122: true, 5232: true, 5332: true}
	ewParents     = map[int]bool{23: true, 24: true}
)

// SectorOf classifies an absolute PDG code
func SectorOf(pdg int) Sector {
	switch {
	case ewParents[pdg]:
		return SectorEW
	case kaonParents[pdg]:
		return SectorKaon
	case charmParents[pdg]:
		return SectorCharm
	case beautyParents[pdg]:
		return SectorBeauty
	default:
		return SectorOther
	}
}

// KeyKind distinguishes direct parents from tau-chain grandparents
type KeyKind string

const (
	KeyPID       KeyKind = "pid"
	KeyTauParent KeyKind = "tau_parent"
)

// NormalizationKey is the unit of ownership in overlap resolution
type NormalizationKey struct {
	Kind KeyKind
	PDG  int
}

// KeyFor builds the key for a (parent, grandparent) pair
func KeyFor(parentAbs, tauParentAbs int) NormalizationKey {
	if parentAbs == 15 && tauParentAbs > 0 {
		return NormalizationKey{Kind: KeyTauParent, PDG: tauParentAbs}
	}
	return NormalizationKey{Kind: KeyPID, PDG: parentAbs}
}

// Key returns the normalization key of a record
func (r Record) Key() NormalizationKey {
	return KeyFor(r.ParentPDG, r.TauParentPDG)
}

func (k NormalizationKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.PDG)
}

// Sector classifies the key by its PDG code
func (k NormalizationKey) Sector() Sector {
	return SectorOf(k.PDG)
}

// Less orders keys by (kind, pdg)
func (k NormalizationKey) Less(o NormalizationKey) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	return k.PDG < o.PDG
}

// SortKeys sorts keys in place by (kind, pdg)
func SortKeys(keys []NormalizationKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}

// Owns reports whether a record belongs to a key. The direct tau key only
// matches tau rows without a known grandparent.
func (k NormalizationKey) Owns(r Record) bool {
	switch k.Kind {
	case KeyTauParent:
		return r.IsTauChain() && r.TauParentPDG == k.PDG
	case KeyPID:
		return !r.IsTauChain() && r.ParentPDG == k.PDG
	default:
		return false
	}
}

// RegimeMatchScore measures how well a sample's regime covers a key's
// sector. Inclusive samples match everything; neighbouring regimes get a
// small score because they carry such parents only as tails.
func RegimeMatchScore(regime Regime, sector Sector) int {
	if regime.IsInclusive() {
		return 6
	}
	switch sector {
	case SectorEW:
		if regime == RegimeEW {
			return 6
		}
		return 0
	case SectorKaon:
		switch regime {
		case RegimeKaon:
			return 6
		case RegimeCharm:
			return 2
		}
		return 0
	case SectorCharm:
		switch regime {
		case RegimeCharm:
			return 6
		case RegimeBeauty, RegimeKaon:
			return 1
		}
		return 0
	case SectorBeauty:
		switch regime {
		case RegimeBeauty, RegimeBc:
			return 6
		case RegimeCharm:
			return 1
		}
		return 0
	default:
		return 1
	}
}

// Order sorts regimes from light to heavy, inclusive last
func (r Regime) Order() int {
	switch r {
	case RegimeKaon:
		return 0
	case RegimeCharm:
		return 1
	case RegimeBeauty:
		return 2
	case RegimeBc:
		return 3
	case RegimeEW:
		return 4
	case RegimeAll, RegimeCombined:
		return 5
	default:
		return 99
	}
}
