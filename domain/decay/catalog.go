package decay

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
)

// Daughter is one rest-frame decay product
type Daughter struct {
	E    float64
	Px   float64
	Py   float64
	Pz   float64
	Mass float64
	PDG  int
}

// Event is one rest-frame decay
type Event []Daughter

// Source records where a catalog file came from
type Source string

const (
	SourceGenerated Source = "generated"
	SourceExternal  Source = "external"
)

// Priority orders sources; lower wins
func (s Source) Priority() int {
	if s == SourceGenerated {
		return 0
	}
	return 1
}

// Category is the decay-channel family a catalog file covers
type Category string

const (
	CategoryLightFSTauK Category = "lightfstauK"
	CategoryLightFSTau  Category = "lightfstau"
	CategoryLightFSOnly Category = "lightfsonly"
	CategoryLightFOnly  Category = "lightfonly"
	CategoryInclDs      Category = "inclDs"
	CategoryInclDD      Category = "inclDD"
	CategoryInclD       Category = "inclD"
	CategoryNoCharmNoSS Category = "nocharmnoss"
	CategoryNoCharm     Category = "nocharm"
	CategoryAnalytical  Category = "analytical2and3bodydecays"
	CategoryUnknown     Category = "unknown"
)

// categoryOrder is also the match order, so longer names that contain a
// shorter one must come first
var categoryOrder = []Category{
	CategoryLightFSTauK,
	CategoryLightFSTau,
	CategoryLightFSOnly,
	CategoryLightFOnly,
	CategoryInclDs,
	CategoryInclDD,
	CategoryInclD,
	CategoryNoCharmNoSS,
	CategoryNoCharm,
	CategoryAnalytical,
}

// CategoryOf classifies a catalog file name by substring
func CategoryOf(name string) Category {
	for _, c := range categoryOrder {
		if strings.Contains(name, string(c)) {
			return c
		}
	}
	return CategoryUnknown
}

// Rank orders categories for tie-breaking; unknown sorts last
func (c Category) Rank() int {
	for i, o := range categoryOrder {
		if o == c {
			return i
		}
	}
	return len(categoryOrder)
}

// CatalogEntry identifies one decay catalog file
type CatalogEntry struct {
	Path     string
	MassGeV  float64
	Category Category
	Source   Source
}

// Catalog is a selected catalog file with its parsed events
type Catalog struct {
	Entry  CatalogEntry
	Events []Event
	// MalformedRows counts daughter rows skipped while parsing
	MalformedRows int
	// Warnings records fallbacks and overridden mass mismatches
	Warnings []core.Warning
}

// AcceptanceSample is the cached coupling-independent decay state of one
// hitting particle: lab directions of the surviving charged daughters and the
// uniform used to place the decay vertex.
type AcceptanceSample struct {
	Row        int
	Directions []r3.Vec
	DecayU     float64
}

// Separable reports whether enough daughters survived to form a vertex
func (s AcceptanceSample) Separable() bool {
	return len(s.Directions) >= 2
}

// GroupKey names a (flavour, mass, sample) group for seeding and caching
func GroupKey(flavour particle.Flavour, massGeV float64, sample string) string {
	return fmt.Sprintf("%s|%.6f|%s", flavour, massGeV, sample)
}
