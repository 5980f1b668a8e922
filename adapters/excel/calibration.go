package excel

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
	"llpaccept/internal"
	apperrors "llpaccept/internal/errors"
	"llpaccept/ports"
)

// Tolerances for matching table rows against the run
const (
	MassMatchTol = 1e-6
	CutMatchTol  = 1e-6
)

// Required calibration columns; geometry_tag is optional
var kappaColumns = []string{"flavour", "mass_GeV", "kappa", "p_min_GeV", "separation_mm", "source_policy", "status"}

// KappaRow is one calibrated surrogate efficiency
type KappaRow struct {
	Flavour      particle.Flavour
	MassGeV      float64
	Kappa        float64
	PMinGeV      float64
	SeparationMM float64
	SourcePolicy string
	GeometryTag  core.GeometryTag
}

// KappaTable holds the status=ok rows of a calibration file sorted by flavour and mass
type KappaTable struct {
	path string
	rows map[particle.Flavour][]KappaRow
}

// LoadKappaTable reads a calibration table from .xlsx or .csv
func LoadKappaTable(path string, logger *internal.Logger) (*KappaTable, error) {
	data, err := NewDataReader(path, logger).ReadData()
	if err != nil {
		return nil, err
	}
	return ParseKappaTable(path, data)
}

// ParseKappaTable validates rows. Non-finite numbers and non-positive kappa
// on ok rows reject the whole table.
func ParseKappaTable(path string, data *TableData) (*KappaTable, error) {
	var missing []string
	for _, c := range kappaColumns {
		if !data.Has(c) {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: kappa table %s is missing required columns: %s",
			core.ErrInvalidConfig, path, strings.Join(missing, ", "))
	}
	if len(data.Rows) == 0 {
		return nil, fmt.Errorf("%w: kappa table %s is empty", core.ErrInvalidConfig, path)
	}

	t := &KappaTable{path: path, rows: make(map[particle.Flavour][]KappaRow)}
	okRows := 0
	for i, raw := range data.Rows {
		nums := make(map[string]float64, 4)
		for _, col := range []string{"mass_GeV", "kappa", "p_min_GeV", "separation_mm"} {
			v, err := strconv.ParseFloat(raw[col], 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: kappa table %s has non-finite %s at row %d",
					core.ErrInvalidConfig, path, col, i)
			}
			nums[col] = v
		}
		if strings.ToLower(raw["status"]) != "ok" {
			continue
		}
		if nums["kappa"] <= 0 {
			return nil, fmt.Errorf("%w: kappa table %s has non-positive kappa at row %d",
				core.ErrInvalidConfig, path, i)
		}
		row := KappaRow{
			Flavour:      particle.Flavour(strings.ToLower(raw["flavour"])),
			MassGeV:      nums["mass_GeV"],
			Kappa:        nums["kappa"],
			PMinGeV:      nums["p_min_GeV"],
			SeparationMM: nums["separation_mm"],
			SourcePolicy: raw["source_policy"],
			GeometryTag:  core.GeometryTag(raw["geometry_tag"]),
		}
		t.rows[row.Flavour] = append(t.rows[row.Flavour], row)
		okRows++
	}
	if okRows == 0 {
		return nil, fmt.Errorf("%w: kappa table %s has no rows with status=ok", core.ErrInvalidConfig, path)
	}
	for f := range t.rows {
		rows := t.rows[f]
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].MassGeV < rows[j].MassGeV })
	}
	return t, nil
}

// checkCuts requires one p_min and one separation across the whole table,
// both equal to the run's cuts, and a matching geometry when tagged.
func (t *KappaTable) checkCuts(q ports.KappaQuery) error {
	var p, s []float64
	for _, rows := range t.rows {
		for _, r := range rows {
			p = appendDistinct(p, r.PMinGeV)
			s = appendDistinct(s, r.SeparationMM)
			if !r.GeometryTag.IsEmpty() && !q.GeometryTag.IsEmpty() && r.GeometryTag != q.GeometryTag {
				return fmt.Errorf("%w: table geometry %s, runtime geometry %s",
					core.ErrCalibrationMismatch, core.Hash(r.GeometryTag).Short(12), core.Hash(q.GeometryTag).Short(12))
			}
		}
	}
	if len(p) != 1 {
		return fmt.Errorf("%w: table mixes multiple p_min_GeV values: %v", core.ErrCalibrationMismatch, p)
	}
	if len(s) != 1 {
		return fmt.Errorf("%w: table mixes multiple separation_mm values: %v", core.ErrCalibrationMismatch, s)
	}
	if math.Abs(p[0]-q.PMinGeV) > CutMatchTol {
		return fmt.Errorf("%w: p_min table=%.6g GeV, runtime=%.6g GeV", core.ErrCalibrationMismatch, p[0], q.PMinGeV)
	}
	if math.Abs(s[0]-q.SeparationMM) > CutMatchTol {
		return fmt.Errorf("%w: separation table=%.6g mm, runtime=%.6g mm", core.ErrCalibrationMismatch, s[0], q.SeparationMM)
	}
	return nil
}

func appendDistinct(vals []float64, v float64) []float64 {
	for _, x := range vals {
		if x == v {
			return vals
		}
	}
	return append(vals, v)
}

// Kappa returns the calibrated kappa at q.MassGeV, linearly interpolated
// between the bracketing rows.
func (t *KappaTable) Kappa(ctx context.Context, q ports.KappaQuery) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := t.checkCuts(q); err != nil {
		return 0, apperrors.CalibrationMismatch(fmt.Sprintf("kappa table %s rejected", filepath.Base(t.path)), err)
	}
	rows := t.rows[q.Flavour]
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: no kappa rows for flavour %s in %s", core.ErrOracleUnavailable, q.Flavour, t.path)
	}
	for _, r := range rows {
		if math.Abs(r.MassGeV-q.MassGeV) <= MassMatchTol {
			return r.Kappa, nil
		}
	}
	lo, hi := rows[0].MassGeV, rows[len(rows)-1].MassGeV
	if q.MassGeV < lo || q.MassGeV > hi {
		return 0, fmt.Errorf("%w: mass %.6g GeV outside calibrated range [%.6g, %.6g] for %s",
			core.ErrOutOfRange, q.MassGeV, lo, hi, q.Flavour)
	}
	j := sort.Search(len(rows), func(i int) bool { return rows[i].MassGeV > q.MassGeV })
	a, b := rows[j-1], rows[j]
	if b.MassGeV-a.MassGeV <= MassMatchTol {
		return a.Kappa, nil
	}
	frac := (q.MassGeV - a.MassGeV) / (b.MassGeV - a.MassGeV)
	k := a.Kappa + frac*(b.Kappa-a.Kappa)
	if math.IsNaN(k) || k <= 0 {
		return 0, fmt.Errorf("%w: interpolated invalid kappa %g at %.6g GeV", core.ErrInvalidConfig, k, q.MassGeV)
	}
	return k, nil
}

// KappaCache loads each calibration file once per run
type KappaCache struct {
	mu     sync.Mutex
	tables map[string]*KappaTable
	logger *internal.Logger
}

// NewKappaCache creates an empty cache
func NewKappaCache(logger *internal.Logger) *KappaCache {
	return &KappaCache{tables: make(map[string]*KappaTable), logger: logger}
}

// Table returns the parsed table at path, loading it on first use
func (c *KappaCache) Table(path string) (*KappaTable, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[abs]; ok {
		return t, nil
	}
	t, err := LoadKappaTable(abs, c.logger)
	if err != nil {
		return nil, err
	}
	c.tables[abs] = t
	return t, nil
}

// Source binds the cache to one table path as a ports.CalibrationSource
func (c *KappaCache) Source(path string) ports.CalibrationSource {
	return &cachedSource{cache: c, path: path}
}

type cachedSource struct {
	cache *KappaCache
	path  string
}

func (s *cachedSource) Kappa(ctx context.Context, q ports.KappaQuery) (float64, error) {
	t, err := s.cache.Table(s.path)
	if err != nil {
		return 0, err
	}
	return t.Kappa(ctx, q)
}
