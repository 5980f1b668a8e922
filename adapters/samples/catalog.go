// Package samples discovers production sample files and reads their rows.
package samples

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
	"llpaccept/internal"
)

// MinSampleBytes is the size below which a sample file is treated as empty
const MinSampleBytes = 1000

// DirCatalog discovers HNL_<mass>GeV_<flavour>_<regime>[...].csv files in one directory
type DirCatalog struct {
	dir               string
	allowLegacyTau    bool
	includeHardSliced bool
	logger            *internal.Logger
}

// CatalogOption configures a DirCatalog
type CatalogOption func(*DirCatalog)

// WithAllowLegacyTau accepts tau *_all / *_combined files when no component files exist
func WithAllowLegacyTau(allow bool) CatalogOption {
	return func(c *DirCatalog) { c.allowLegacyTau = allow }
}

// WithHardSliced keeps hardccbar/hardbbbar samples, which the nominal analysis skips
func WithHardSliced(include bool) CatalogOption {
	return func(c *DirCatalog) { c.includeHardSliced = include }
}

// WithCatalogLogger sets the logger
func WithCatalogLogger(l *internal.Logger) CatalogOption {
	return func(c *DirCatalog) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewDirCatalog creates a catalog over dir
func NewDirCatalog(dir string, opts ...CatalogOption) *DirCatalog {
	c := &DirCatalog{dir: dir, logger: internal.DefaultLogger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func filePattern(flavour particle.Flavour) *regexp.Regexp {
	return regexp.MustCompile(`^HNL_([0-9]+p[0-9]{1,2})GeV_` + regexp.QuoteMeta(string(flavour)) + `_` +
		`((?:kaon|charm|beauty|Bc|ew|all|combined)(?:_ff)?)` +
		`(?:_(direct|fromTau))?` +
		`(?:_(hardBc|hardccbar|hardbbbar)(?:_pTHat([0-9]+(?:p[0-9]+)?))?)?` +
		`\.csv$`)
}

// ParseSampleName extracts the sample metadata encoded in a file name
func ParseSampleName(flavour particle.Flavour, name string) (particle.SampleInfo, bool) {
	m := filePattern(flavour).FindStringSubmatch(name)
	if m == nil {
		return particle.SampleInfo{}, false
	}
	mass, err := strconv.ParseFloat(strings.ReplaceAll(m[1], "p", "."), 64)
	if err != nil {
		return particle.SampleInfo{}, false
	}
	regimeToken := m[2]
	info := particle.SampleInfo{
		MassGeV: mass,
		Flavour: flavour,
		IsFF:    strings.HasSuffix(regimeToken, "_ff"),
		Mode:    particle.ProductionMode(m[3]),
		QCDMode: particle.QCDAuto,
	}
	regime, err := particle.ParseRegime(strings.TrimSuffix(regimeToken, "_ff"))
	if err != nil {
		return particle.SampleInfo{}, false
	}
	info.Regime = regime
	if m[4] != "" {
		info.QCDMode = particle.QCDMode(m[4])
	}
	if m[5] != "" {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[5], "p", "."), 64); err == nil {
			info.PTHatMin = v
			info.HasPTHat = true
		}
	}
	return info, true
}

// Discover lists usable sample files sorted by mass, then regime and mode.
// Files below MinSampleBytes are skipped; for tau, legacy inclusive files
// are dropped when component files exist at the same mass and rejected
// when they are the only input.
func (c *DirCatalog) Discover(ctx context.Context, flavour particle.Flavour) ([]particle.SampleInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+string(flavour)+"*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var infos []particle.SampleInfo
	empty := 0
	for _, path := range matches {
		info, ok := ParseSampleName(flavour, filepath.Base(path))
		if !ok {
			continue
		}
		st, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if st.Size() < MinSampleBytes {
			empty++
			c.logger.Debug("[SampleCatalog] skipping empty file %s (%d bytes)", filepath.Base(path), st.Size())
			continue
		}
		if !c.includeHardSliced && (info.QCDMode == particle.QCDHardCCbar || info.QCDMode == particle.QCDHardBBbar) {
			c.logger.Warn("[SampleCatalog] skipping hard-sliced sample in nominal analysis: %s", filepath.Base(path))
			continue
		}
		info.Path = path
		infos = append(infos, info)
	}
	if empty > 0 {
		c.logger.Info("[SampleCatalog] skipped %d empty %s sample file(s)", empty, flavour)
	}

	if flavour == particle.FlavourTau && !c.allowLegacyTau {
		infos, err = c.dropLegacyTau(infos)
		if err != nil {
			return nil, err
		}
	}

	sort.SliceStable(infos, func(i, j int) bool {
		a, b := infos[i], infos[j]
		if a.MassGeV != b.MassGeV {
			return a.MassGeV < b.MassGeV
		}
		if a.Regime.Order() != b.Regime.Order() {
			return a.Regime.Order() < b.Regime.Order()
		}
		if a.Mode != b.Mode {
			return modeOrder(a.Mode) < modeOrder(b.Mode)
		}
		return a.Path < b.Path
	})
	return infos, nil
}

func (c *DirCatalog) dropLegacyTau(infos []particle.SampleInfo) ([]particle.SampleInfo, error) {
	byMass := particle.GroupByMass(infos)
	var out []particle.SampleInfo
	var legacyOnly []string
	for _, mass := range particle.SortedMasses(byMass) {
		var legacy, components []particle.SampleInfo
		for _, info := range byMass[mass] {
			if info.Regime.IsInclusive() {
				legacy = append(legacy, info)
			} else {
				components = append(components, info)
			}
		}
		if len(components) > 0 {
			if len(legacy) > 0 {
				names := make([]string, len(legacy))
				for i, l := range legacy {
					names[i] = filepath.Base(l.Path)
				}
				sort.Strings(names)
				c.logger.Warn("[SampleCatalog] m=%.2f (tau): ignoring legacy tau_all/tau_combined inputs: %s", mass, strings.Join(names, ", "))
			}
			out = append(out, components...)
			continue
		}
		if len(legacy) > 0 {
			legacyOnly = append(legacyOnly, fmt.Sprintf("%.2f", mass))
		}
	}
	if len(legacyOnly) > 0 {
		preview := legacyOnly
		more := ""
		if len(preview) > 10 {
			preview, more = preview[:10], "..."
		}
		return nil, fmt.Errorf("%w: tau analysis requires component files (direct/fromTau/ew); legacy-only masses: %s%s",
			core.ErrMalformedSample, strings.Join(preview, ", "), more)
	}
	return out, nil
}

func modeOrder(m particle.ProductionMode) int {
	switch m {
	case particle.ModeInclusive:
		return 0
	case particle.ModeDirect:
		return 1
	case particle.ModeFromTau:
		return 2
	default:
		return 99
	}
}
