// Package decay implements the rest-frame decay library, the lab-frame
// daughter sampler and the vertex-separation evaluator.
package decay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/internal"
)

const (
	// MaxMassDeltaGeV is the largest catalog/particle mass difference accepted without override
	MaxMassDeltaGeV = 0.5

	// OverlaySwitchMassGeV is where generated catalogs replace external ones
	OverlaySwitchMassGeV = 5.0

	pidTolerance = 1e-6
)

var massFromName = regexp.MustCompile(`_([0-9]+(?:\.[0-9]+)?)\.txt$`)

type flavourLayout struct {
	repo       string
	decayDir   string
	lowMassGeV float64
	priorities []decay.Category
}

var layouts = map[particle.Flavour]flavourLayout{
	particle.FlavourElectron: {
		repo:       "MATHUSLA_LLPfiles_RHN_Ue",
		decayDir:   "RHN_Ue_hadronic_decays_geant",
		lowMassGeV: 0.42,
		priorities: leptonPriorities,
	},
	particle.FlavourMuon: {
		repo:       "MATHUSLA_LLPfiles_RHN_Umu",
		decayDir:   "RHN_Umu_hadronic_decays_geant",
		lowMassGeV: 0.53,
		priorities: leptonPriorities,
	},
	particle.FlavourTau: {
		repo:       "MATHUSLA_LLPfiles_RHN_Utau",
		decayDir:   "RHN_Utau_hadronic_decays_geant",
		lowMassGeV: 0.42,
		priorities: []decay.Category{
			decay.CategoryLightFOnly,
			decay.CategoryLightFSOnly,
			decay.CategoryLightFSTau,
			decay.CategoryLightFSTauK,
		},
	},
}

var leptonPriorities = []decay.Category{
	decay.CategoryInclDs,
	decay.CategoryInclDD,
	decay.CategoryInclD,
	decay.CategoryNoCharm,
	decay.CategoryNoCharmNoSS,
	decay.CategoryLightFOnly,
	decay.CategoryAnalytical,
}

// FileLibrary selects decay catalogs from a generated overlay directory and
// an external directory laid out as <root>/<repo>/<decay dir>/*_<mass>.txt.
type FileLibrary struct {
	generatedRoot string
	externalRoot  string
	allowMismatch bool
	maxDeltaGeV   float64
	logger        *internal.Logger

	mu      sync.Mutex
	entries map[particle.Flavour][]decay.CatalogEntry
	parsed  map[string]*decay.Catalog
}

// LibraryOption configures a FileLibrary
type LibraryOption func(*FileLibrary)

// WithAllowMassMismatch downgrades a mass mismatch above the limit to a warning
func WithAllowMassMismatch(allow bool) LibraryOption {
	return func(l *FileLibrary) { l.allowMismatch = allow }
}

// WithMaxMassDelta overrides MaxMassDeltaGeV
func WithMaxMassDelta(delta float64) LibraryOption {
	return func(l *FileLibrary) {
		if delta > 0 {
			l.maxDeltaGeV = delta
		}
	}
}

// WithLibraryLogger sets the logger
func WithLibraryLogger(logger *internal.Logger) LibraryOption {
	return func(l *FileLibrary) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewFileLibrary creates a library over the two catalog roots
func NewFileLibrary(generatedRoot, externalRoot string, opts ...LibraryOption) *FileLibrary {
	l := &FileLibrary{
		generatedRoot: generatedRoot,
		externalRoot:  externalRoot,
		maxDeltaGeV:   MaxMassDeltaGeV,
		logger:        internal.DefaultLogger,
		entries:       make(map[particle.Flavour][]decay.CatalogEntry),
		parsed:        make(map[string]*decay.Catalog),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// AllowMassMismatchFromEnv reads the HNL_ALLOW_DECAY_MASS_MISMATCH override
func AllowMassMismatchFromEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("HNL_ALLOW_DECAY_MASS_MISMATCH"))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// Entries lists every catalog file for a flavour. Generated files shadow
// external files with the same name.
func (l *FileLibrary) Entries(flavour particle.Flavour) ([]decay.CatalogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cached, ok := l.entries[flavour]; ok {
		return cached, nil
	}

	layout, ok := layouts[flavour]
	if !ok {
		return nil, fmt.Errorf("%w: unknown flavour %q", core.ErrNoDecayCatalog, flavour)
	}
	rel := filepath.Join(layout.repo, layout.decayDir)
	dirs := []struct {
		path   string
		source decay.Source
	}{
		{filepath.Join(l.generatedRoot, rel), decay.SourceGenerated},
		{filepath.Join(l.externalRoot, rel), decay.SourceExternal},
	}

	seen := make(map[string]bool)
	var entries []decay.CatalogEntry
	searched := make([]string, 0, len(dirs))
	for _, d := range dirs {
		searched = append(searched, d.path)
		matches, err := filepath.Glob(filepath.Join(d.path, "*.txt"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		for _, path := range matches {
			name := filepath.Base(path)
			if seen[name] {
				continue
			}
			m := massFromName.FindStringSubmatch(name)
			if m == nil {
				continue
			}
			mass, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			seen[name] = true
			entries = append(entries, decay.CatalogEntry{
				Path:     path,
				MassGeV:  mass,
				Category: decay.CategoryOf(name),
				Source:   d.source,
			})
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: flavour %s, searched %s", core.ErrNoDecayCatalog, flavour, strings.Join(searched, ", "))
	}
	l.entries[flavour] = entries
	return entries, nil
}

// Select picks the catalog for a particle mass and parses it
func (l *FileLibrary) Select(ctx context.Context, flavour particle.Flavour, massGeV float64) (*decay.Catalog, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entry, warnings, err := l.Choose(flavour, massGeV)
	if err != nil {
		return nil, err
	}
	cat, err := l.load(entry)
	if err != nil {
		return nil, err
	}

	out := *cat
	out.Warnings = append(append([]core.Warning(nil), cat.Warnings...), warnings...)
	l.logger.Debug("[DecayLibrary] %s m=%.3f GeV -> %s (%s, %s, %d events)",
		flavour, massGeV, filepath.Base(entry.Path), entry.Category, entry.Source, len(cat.Events))
	return &out, nil
}

// Choose applies the selection policy without reading the file:
// at or below the flavour's low-mass threshold prefer analytical catalogs;
// below the overlay switch prefer external catalogs of a priority category,
// then any external catalog, then generated ones; at or above the switch
// only generated catalogs qualify.
func (l *FileLibrary) Choose(flavour particle.Flavour, massGeV float64) (decay.CatalogEntry, []core.Warning, error) {
	entries, err := l.Entries(flavour)
	if err != nil {
		return decay.CatalogEntry{}, nil, err
	}
	layout := layouts[flavour]
	var warnings []core.Warning

	var chosen *decay.CatalogEntry
	switch {
	case massGeV <= layout.lowMassGeV:
		chosen = nearest(filter(entries, func(e decay.CatalogEntry) bool {
			return e.Category == decay.CategoryAnalytical
		}), massGeV)
		if chosen == nil {
			chosen = nearest(entries, massGeV)
		}

	case massGeV < OverlaySwitchMassGeV:
		external := filter(entries, func(e decay.CatalogEntry) bool { return e.Source == decay.SourceExternal })
		allowed := filter(external, func(e decay.CatalogEntry) bool {
			return e.Category != decay.CategoryAnalytical && containsCategory(layout.priorities, e.Category)
		})
		chosen = nearest(allowed, massGeV)
		if chosen == nil {
			chosen = nearest(external, massGeV)
		}
		if chosen == nil {
			chosen = nearest(filter(entries, func(e decay.CatalogEntry) bool { return e.Source == decay.SourceGenerated }), massGeV)
			if chosen != nil {
				msg := fmt.Sprintf("no external decay catalogs below %.1f GeV; falling back to generated source for %s at %.3f GeV",
					OverlaySwitchMassGeV, flavour, massGeV)
				l.logger.Warn("[DecayLibrary] %s", msg)
				warnings = append(warnings, core.Warning{Code: core.WarnDecayFallback, Message: msg})
			}
		}

	default:
		overlay := filter(entries, func(e decay.CatalogEntry) bool { return e.Source == decay.SourceGenerated })
		if len(overlay) == 0 {
			return decay.CatalogEntry{}, nil, fmt.Errorf("%w: generated catalogs are required for %s at %.3f GeV (m >= %.1f GeV)",
				core.ErrNoDecayCatalog, flavour, massGeV, OverlaySwitchMassGeV)
		}
		chosen = nearest(overlay, massGeV)
	}

	if chosen == nil {
		return decay.CatalogEntry{}, nil, fmt.Errorf("%w: flavour %s", core.ErrNoDecayCatalog, flavour)
	}

	delta := math.Abs(chosen.MassGeV - massGeV)
	if delta > l.maxDeltaGeV {
		msg := fmt.Sprintf("decay catalog mass mismatch for %.3f GeV: selected %.3f GeV (delta=%.3f GeV) category=%s source=%s file=%s",
			massGeV, chosen.MassGeV, delta, chosen.Category, chosen.Source, chosen.Path)
		if !l.allowMismatch {
			return decay.CatalogEntry{}, nil, fmt.Errorf("%w: %s; refusing to extrapolate beyond %.3f GeV", core.ErrDecayMassMismatch, msg, l.maxDeltaGeV)
		}
		l.logger.Warn("[DecayLibrary] %s (override enabled)", msg)
		warnings = append(warnings, core.Warning{Code: core.WarnDecayMassMismatch, Message: msg})
	}
	return *chosen, warnings, nil
}

func (l *FileLibrary) load(entry decay.CatalogEntry) (*decay.Catalog, error) {
	l.mu.Lock()
	cat, ok := l.parsed[entry.Path]
	l.mu.Unlock()
	if ok {
		return cat, nil
	}

	f, err := os.Open(entry.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrNoDecayCatalog, err)
	}
	defer f.Close()

	events, malformed, err := ParseEvents(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entry.Path, err)
	}
	cat = &decay.Catalog{Entry: entry, Events: events, MalformedRows: malformed}
	if malformed > 0 {
		msg := fmt.Sprintf("skipped malformed daughter rows while parsing %s", entry.Path)
		l.logger.Warn("[DecayLibrary] %s: %d", msg, malformed)
		cat.Warnings = append(cat.Warnings, core.Warning{Code: core.WarnMalformedDecayRows, Message: msg, Count: malformed})
	}

	l.mu.Lock()
	l.parsed[entry.Path] = cat
	l.mu.Unlock()
	return cat, nil
}

// ParseEvents reads blank-line separated event blocks. The first line of a
// block is a header; each further line is E,px,py,pz,mass,pid.
func ParseEvents(r io.Reader) ([]decay.Event, int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var events []decay.Event
	var block []string
	malformed := 0
	flush := func() {
		if len(block) == 0 {
			return
		}
		ev, bad := parseBlock(block)
		malformed += bad
		if len(ev) > 0 {
			events = append(events, ev)
		}
		block = block[:0]
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(strings.ToLower(line), "format is") {
			continue
		}
		block = append(block, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, malformed, err
	}
	flush()

	if len(events) == 0 {
		return nil, malformed, fmt.Errorf("%w: no decay events parsed", core.ErrNoDecayCatalog)
	}
	return events, malformed, nil
}

func parseBlock(lines []string) (decay.Event, int) {
	var ev decay.Event
	malformed := 0
	for _, line := range lines[1:] {
		parts := make([]string, 0, 6)
		for _, p := range strings.Split(line, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) < 6 {
			continue
		}
		var vals [5]float64
		ok := true
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(parts[i], 64)
			if err != nil {
				ok = false
				break
			}
			vals[i] = v
		}
		pid, err := parsePID(parts[5])
		if !ok || err != nil {
			malformed++
			continue
		}
		ev = append(ev, decay.Daughter{E: vals[0], Px: vals[1], Py: vals[2], Pz: vals[3], Mass: vals[4], PDG: pid})
	}
	return ev, malformed
}

// parsePID accepts "16" and "16.0" but rejects "16.5"
func parsePID(token string) (int, error) {
	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, err
	}
	r := math.Round(f)
	if math.Abs(f-r) > pidTolerance {
		return 0, fmt.Errorf("non-integral PID token %q", token)
	}
	return int(r), nil
}

func filter(entries []decay.CatalogEntry, keep func(decay.CatalogEntry) bool) []decay.CatalogEntry {
	var out []decay.CatalogEntry
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}

// nearest orders by mass distance, source priority, category rank, file name
func nearest(entries []decay.CatalogEntry, massGeV float64) *decay.CatalogEntry {
	if len(entries) == 0 {
		return nil
	}
	best := entries[0]
	for _, e := range entries[1:] {
		if entryLess(e, best, massGeV) {
			best = e
		}
	}
	return &best
}

func entryLess(a, b decay.CatalogEntry, massGeV float64) bool {
	da, db := math.Abs(a.MassGeV-massGeV), math.Abs(b.MassGeV-massGeV)
	if da != db {
		return da < db
	}
	if a.Source.Priority() != b.Source.Priority() {
		return a.Source.Priority() < b.Source.Priority()
	}
	if a.Category.Rank() != b.Category.Rank() {
		return a.Category.Rank() < b.Category.Rank()
	}
	return filepath.Base(a.Path) < filepath.Base(b.Path)
}

func containsCategory(list []decay.Category, c decay.Category) bool {
	for _, x := range list {
		if x == c {
			return true
		}
	}
	return false
}
