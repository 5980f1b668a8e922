// Package oracle serves tabulated physics inputs: HNL decay lengths and
// production branching ratios per mass, and parent cross-sections.
package oracle

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
	apperrors "llpaccept/internal/errors"
)

// DefaultEps2Ref is the coupling at which tables are tabulated when the file does not say
const DefaultEps2Ref = 1e-6

// massTolerance treats masses this close as the same grid point
const massTolerance = 1e-9

// Table is a physics oracle loaded from a JSON document of the form
//
//	{"eps2_ref": 1e-6,
//	 "muon": [{"mass_gev": 1.0, "ctau0_m": 12.5, "br_visible": 0.7,
//	           "br_per_parent": {"511": 1.2e-8, "15": 3e-9}}, ...]}
//
// Between tabulated masses ctau is interpolated in log space and branching
// ratios linearly.
type Table struct {
	eps2Ref float64
	points  map[particle.Flavour][]scan.OraclePoint
}

// LoadTable reads a JSON oracle table from disk
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.OracleError("failed to read oracle table "+filepath.Base(path), fmt.Errorf("%w: %v", core.ErrOracleUnavailable, err))
	}
	t, err := ParseTable(data)
	if err != nil {
		return nil, apperrors.OracleError("failed to parse oracle table "+filepath.Base(path), err)
	}
	return t, nil
}

// ParseTable parses a JSON oracle table
func ParseTable(data []byte) (*Table, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: invalid JSON", core.ErrOracleUnavailable)
	}
	t := &Table{eps2Ref: DefaultEps2Ref, points: make(map[particle.Flavour][]scan.OraclePoint)}
	if ref := gjson.GetBytes(data, "eps2_ref"); ref.Exists() {
		t.eps2Ref = ref.Float()
	}
	if !(t.eps2Ref > 0) {
		return nil, fmt.Errorf("%w: eps2_ref must be positive", core.ErrOracleUnavailable)
	}

	for _, flavour := range []particle.Flavour{particle.FlavourElectron, particle.FlavourMuon, particle.FlavourTau} {
		rows := gjson.GetBytes(data, string(flavour))
		if !rows.Exists() {
			continue
		}
		if !rows.IsArray() {
			return nil, fmt.Errorf("%w: %s must be an array", core.ErrOracleUnavailable, flavour)
		}
		var pts []scan.OraclePoint
		var parseErr error
		rows.ForEach(func(_, row gjson.Result) bool {
			pt := scan.OraclePoint{
				MassGeV:     row.Get("mass_gev").Float(),
				Flavour:     flavour,
				Eps2Ref:     t.eps2Ref,
				Ctau0M:      row.Get("ctau0_m").Float(),
				BRVisible:   row.Get("br_visible").Float(),
				BRPerParent: make(map[int]float64),
			}
			if !(pt.MassGeV > 0) {
				parseErr = fmt.Errorf("%w: %s row without positive mass_gev", core.ErrOracleUnavailable, flavour)
				return false
			}
			row.Get("br_per_parent").ForEach(func(k, v gjson.Result) bool {
				pdg, err := strconv.Atoi(k.String())
				if err != nil {
					parseErr = fmt.Errorf("%w: %s m=%.3f bad parent key %q", core.ErrOracleUnavailable, flavour, pt.MassGeV, k.String())
					return false
				}
				if pdg < 0 {
					pdg = -pdg
				}
				pt.BRPerParent[pdg] = v.Float()
				return true
			})
			if parseErr != nil {
				return false
			}
			pts = append(pts, pt)
			return true
		})
		if parseErr != nil {
			return nil, parseErr
		}
		sort.Slice(pts, func(i, j int) bool { return pts[i].MassGeV < pts[j].MassGeV })
		t.points[flavour] = pts
	}
	return t, nil
}

// Masses lists the tabulated masses of a flavour
func (t *Table) Masses(flavour particle.Flavour) []float64 {
	pts := t.points[flavour]
	out := make([]float64, len(pts))
	for i, p := range pts {
		out[i] = p.MassGeV
	}
	return out
}

// Lookup returns the oracle point at a mass
func (t *Table) Lookup(ctx context.Context, massGeV float64, flavour particle.Flavour) (scan.OraclePoint, error) {
	if err := ctx.Err(); err != nil {
		return scan.OraclePoint{}, err
	}
	pts := t.points[flavour]
	if len(pts) == 0 {
		return scan.OraclePoint{}, fmt.Errorf("%w: no %s entries", core.ErrOracleUnavailable, flavour)
	}
	i := sort.Search(len(pts), func(i int) bool { return pts[i].MassGeV >= massGeV-massTolerance })
	if i < len(pts) && math.Abs(pts[i].MassGeV-massGeV) <= massTolerance {
		return clonePoint(pts[i]), nil
	}
	if i == 0 || i == len(pts) {
		return scan.OraclePoint{}, fmt.Errorf("%w: %s m=%.4f GeV outside [%.4f, %.4f]",
			core.ErrOutOfRange, flavour, massGeV, pts[0].MassGeV, pts[len(pts)-1].MassGeV)
	}
	return interpolate(pts[i-1], pts[i], massGeV), nil
}

func interpolate(lo, hi scan.OraclePoint, massGeV float64) scan.OraclePoint {
	f := (massGeV - lo.MassGeV) / (hi.MassGeV - lo.MassGeV)
	out := scan.OraclePoint{
		MassGeV:     massGeV,
		Flavour:     lo.Flavour,
		Eps2Ref:     lo.Eps2Ref,
		BRVisible:   lerp(lo.BRVisible, hi.BRVisible, f),
		BRPerParent: make(map[int]float64),
	}
	if lo.Ctau0M > 0 && hi.Ctau0M > 0 {
		out.Ctau0M = math.Exp(lerp(math.Log(lo.Ctau0M), math.Log(hi.Ctau0M), f))
	} else {
		out.Ctau0M = lerp(lo.Ctau0M, hi.Ctau0M, f)
	}
	// a parent open on only one side closes at the other
	for pdg, br := range lo.BRPerParent {
		out.BRPerParent[pdg] = lerp(br, hi.BRPerParent[pdg], f)
	}
	for pdg, br := range hi.BRPerParent {
		if _, ok := lo.BRPerParent[pdg]; !ok {
			out.BRPerParent[pdg] = lerp(0, br, f)
		}
	}
	return out
}

func lerp(a, b, f float64) float64 {
	return a + f*(b-a)
}

func clonePoint(p scan.OraclePoint) scan.OraclePoint {
	brs := make(map[int]float64, len(p.BRPerParent))
	for k, v := range p.BRPerParent {
		brs[k] = v
	}
	p.BRPerParent = brs
	return p
}
