package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
	"llpaccept/internal"
	"llpaccept/internal/metrics"
	"llpaccept/ports"
)

// ScanDeps wires the collaborators of a scan. TraceCache, DecayCache and
// Store are optional; Library, Sampler and Evaluator are needed only in
// library mode and Calibration only in calibrated mode.
type ScanDeps struct {
	Catalog     ports.SampleCatalog
	Reader      ports.SampleReader
	Tracer      ports.RayIntersector
	TraceCache  ports.TraceCache
	Library     ports.DecayLibrary
	DecayCache  ports.DecaySampleCache
	Sampler     ports.DecaySampler
	Evaluator   ports.SeparationEvaluator
	Oracle      ports.PhysicsOracle
	Xsec        ports.CrossSections
	Calibration ports.CalibrationSource
	Store       ports.ResultStore
	Logger      *internal.Logger
}

// ScanRequest describes one flavour scan
type ScanRequest struct {
	Flavour          particle.Flavour
	Selection        scan.Selection
	Grid             []float64
	LumiFb           float64
	Threshold        float64
	Origin           r3.Vec
	Overlap          OverlapOptions
	AllowVariantDrop bool
	Masses           []float64 // empty means every discovered mass
	MaxMassGeV       float64   // 0 means unbounded
	Workers          int
}

// RunReport is the outcome of a scan run
type RunReport struct {
	Manifest scan.RunManifest
	Results  []scan.MassResult
}

// ScanService runs the per-mass acceptance and yield pipeline
type ScanService struct {
	deps    ScanDeps
	overlap *OverlapService
	logger  *internal.Logger
}

// NewScanService creates a scan service
func NewScanService(deps ScanDeps) *ScanService {
	if deps.Logger == nil {
		deps.Logger = internal.DefaultLogger
	}
	return &ScanService{
		deps:    deps,
		overlap: NewOverlapService(deps.Reader, deps.Logger),
		logger:  deps.Logger,
	}
}

func (s *ScanService) normalize(req ScanRequest) (ScanRequest, error) {
	if _, err := particle.ParseFlavour(string(req.Flavour)); err != nil {
		return req, err
	}
	if err := req.Selection.Validate(); err != nil {
		return req, err
	}
	if !(req.LumiFb > 0) || math.IsInf(req.LumiFb, 0) {
		return req, fmt.Errorf("%w: lumi_fb must be positive, got %v", core.ErrInvalidConfig, req.LumiFb)
	}
	if len(req.Grid) == 0 {
		req.Grid = scan.DefaultGrid()
	}
	if !(req.Threshold > 0) {
		req.Threshold = scan.DefaultThreshold
	}
	if req.Workers <= 0 {
		req.Workers = 1
	}
	switch req.Selection.Mode {
	case scan.DecayModeLibrary:
		if s.deps.Library == nil || s.deps.Sampler == nil || s.deps.Evaluator == nil {
			return req, fmt.Errorf("%w: library mode needs a decay library, sampler and evaluator", core.ErrInvalidConfig)
		}
	case scan.DecayModeCalibrated:
		if s.deps.Calibration == nil {
			return req, fmt.Errorf("%w: calibrated mode needs a kappa table", core.ErrInvalidConfig)
		}
	}
	return req, nil
}

// Run discovers the samples of a flavour and scans every selected mass
func (s *ScanService) Run(ctx context.Context, req ScanRequest) (*RunReport, error) {
	start := time.Now()
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	manifest := scan.RunManifest{
		RunID:       core.NewRunID(),
		Flavour:     req.Flavour,
		GeometryTag: s.deps.Tracer.Tag(),
		Selection:   req.Selection,
		LumiFb:      req.LumiFb,
		Threshold:   req.Threshold,
		StartedAt:   start.UTC(),
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.SaveRun(ctx, manifest); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}
	logger := s.logger.With("run_id", manifest.RunID.String(), "flavour", string(req.Flavour))
	logger.Info("Starting scan: geometry=%s mode=%s lumi=%.0f/fb", manifest.GeometryTag.String(), req.Selection.Mode, req.LumiFb)

	infos, err := s.deps.Catalog.Discover(ctx, req.Flavour)
	if err != nil {
		return nil, fmt.Errorf("discover samples: %w", err)
	}
	groups := particle.GroupByMass(infos)
	masses := selectMasses(particle.SortedMasses(groups), req)
	if len(masses) == 0 {
		return nil, fmt.Errorf("no %s samples match the requested masses", req.Flavour)
	}

	results := make([]scan.MassResult, len(masses))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.Workers)
	for i, mass := range masses {
		g.Go(func() error {
			res, err := s.ScanMass(gctx, req, mass, groups[mass])
			if err != nil {
				return fmt.Errorf("m=%.2f: %w", mass, err)
			}
			if s.deps.Store != nil {
				if err := s.deps.Store.SaveMassResult(gctx, manifest.RunID, *res); err != nil {
					return fmt.Errorf("m=%.2f: save result: %w", mass, err)
				}
			}
			results[i] = *res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	metrics.ObserveScan(string(req.Flavour), time.Since(start))
	logger.Info("Scan finished: %d mass point(s) in %s", len(results), time.Since(start).Round(time.Millisecond))
	return &RunReport{Manifest: manifest, Results: results}, nil
}

func selectMasses(all []float64, req ScanRequest) []float64 {
	var out []float64
	for _, m := range all {
		if req.MaxMassGeV > 0 && m > req.MaxMassGeV {
			continue
		}
		if len(req.Masses) > 0 && !containsMass(req.Masses, m) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func containsMass(list []float64, m float64) bool {
	for _, v := range list {
		if math.Abs(v-m) < 1e-6 {
			return true
		}
	}
	return false
}

// ownedSet is the owned, traced rows of one mass point, concatenated over samples
type ownedSet struct {
	records []particle.Record
	traces  []particle.Trace
	parts   []ownedPart
}

// ownedPart locates one sample's rows in the concatenated set
type ownedPart struct {
	info        particle.SampleInfo
	traceKey    core.CacheKey
	sourceMTime int64
	owned       []particle.NormalizationKey
	offset      int
	n           int
}

// ScanMass evaluates one mass point: overlap resolution, geometry, decay
// acceptance and the coupling scan.
func (s *ScanService) ScanMass(ctx context.Context, req ScanRequest, mass float64, infos []particle.SampleInfo) (*scan.MassResult, error) {
	start := time.Now()
	logger := s.logger.With("mass", mass, "flavour", string(req.Flavour))
	var warnings core.Warnings

	sel, err := s.overlap.Resolve(ctx, req.Flavour, mass, infos, req.AllowVariantDrop, req.Overlap)
	if err != nil {
		return nil, err
	}
	warnings.Merge(sel.Warnings)

	set, err := s.collect(ctx, req, sel, &warnings)
	if err != nil {
		return nil, err
	}

	result := &scan.MassResult{
		MassGeV: mass,
		Flavour: req.Flavour,
		NRows:   len(set.records),
	}
	for _, p := range set.parts {
		result.Samples = append(result.Samples, filepath.Base(p.info.Path))
	}
	for _, tr := range set.traces {
		if tr.HitsVolume {
			result.NHits++
		}
	}

	oracle, err := s.deps.Oracle.Lookup(ctx, mass, req.Flavour)
	if err != nil {
		if errors.Is(err, core.ErrOutOfRange) || errors.Is(err, core.ErrOracleUnavailable) {
			warnings.Add(core.WarnNoContribution, len(set.records), "m=%.2f: no physics input (%v); mass skipped", mass, err)
			logger.Warn("Skipping mass: %v", err)
			return s.finish(result, &warnings, start), nil
		}
		return nil, fmt.Errorf("oracle lookup: %w", err)
	}
	result.BRVisible = oracle.BRVisible

	var separation SeparationFunc
	switch req.Selection.Mode {
	case scan.DecayModeCalibrated:
		kappa, err := s.deps.Calibration.Kappa(ctx, ports.KappaQuery{
			Flavour:      req.Flavour,
			MassGeV:      mass,
			PMinGeV:      req.Selection.PMinGeV,
			SeparationMM: req.Selection.SeparationM * 1e3,
			GeometryTag:  s.deps.Tracer.Tag(),
		})
		if err != nil {
			if errors.Is(err, core.ErrOutOfRange) {
				warnings.Add(core.WarnNoContribution, len(set.records), "m=%.2f: %v; mass skipped", mass, err)
				logger.Warn("Skipping mass: %v", err)
				return s.finish(result, &warnings, start), nil
			}
			return nil, fmt.Errorf("kappa lookup: %w", err)
		}
		result.Kappa = kappa
		factor := oracle.BRVisible * kappa
		separation = func(int, float64) float64 { return factor }
	default:
		separation, err = s.librarySeparation(ctx, req, mass, set, &warnings)
		if err != nil {
			return nil, err
		}
	}

	scanner := NewYieldScanner(s.deps.Xsec, YieldConfig{
		LumiFb:         req.LumiFb,
		Dirac:          req.Selection.Dirac,
		RecoEfficiency: req.Selection.RecoEfficiency,
	}, logger)
	points, plan, err := scanner.Scan(ctx, &YieldInput{
		MassGeV:    mass,
		Records:    set.records,
		Traces:     set.traces,
		Oracle:     oracle,
		Separation: separation,
	}, req.Grid)
	if err != nil {
		return nil, err
	}
	warnings.Merge(plan.Warnings())

	for i := range points {
		if math.IsNaN(points[i].ExpectedEvents) || math.IsInf(points[i].ExpectedEvents, 0) {
			points[i].ExpectedEvents = 0
		}
	}
	result.Points = points
	result.Peak = scan.Peak(points)
	if excl, ok := scan.FindExclusion(points, req.Threshold); ok {
		result.Exclusion = &excl
	}
	if at := peakIndex(points); at >= 0 {
		result.Groups = plan.Summaries(points[at].Eps2)
	}

	if result.Exclusion != nil {
		logger.Info("Excluded eps2 in [%.3e, %.3e], peak %.3g events", result.Exclusion.Eps2Min, result.Exclusion.Eps2Max, result.Peak)
	} else {
		logger.Info("No exclusion, peak %.3g events", result.Peak)
	}
	return s.finish(result, &warnings, start), nil
}

func (s *ScanService) finish(result *scan.MassResult, warnings *core.Warnings, start time.Time) *scan.MassResult {
	result.Warnings = warnings.Items()
	for _, w := range result.Warnings {
		metrics.RecordWarning(string(w.Code), w.Count)
	}
	result.Duration = time.Since(start)
	return result
}

func peakIndex(points []scan.Point) int {
	at, best := -1, 0.0
	for i, p := range points {
		if p.ExpectedEvents > best {
			at, best = i, p.ExpectedEvents
		}
	}
	return at
}

// collect traces every owning sample and keeps only the rows whose key it owns
func (s *ScanService) collect(ctx context.Context, req ScanRequest, sel *MassSelection, warnings *core.Warnings) (*ownedSet, error) {
	set := &ownedSet{}
	var degenerate, odd, failed int
	for _, r := range sel.Resolution.Samples {
		sample := sel.Samples[r.Info.Path]
		if sample == nil {
			continue
		}
		traces, key, err := s.traceSample(ctx, req.Origin, r.Info, sample.Records)
		if err != nil {
			return nil, fmt.Errorf("trace %s: %w", filepath.Base(r.Info.Path), err)
		}

		owned := make(map[particle.NormalizationKey]bool, len(r.OwnedKeys))
		for _, k := range r.OwnedKeys {
			owned[k] = true
		}
		part := ownedPart{info: r.Info, traceKey: key, sourceMTime: modTime(r.Info.Path), owned: r.OwnedKeys, offset: len(set.records)}
		for i, rec := range sample.Records {
			if rec.ParentPDG <= 0 || !owned[rec.Key()] {
				continue
			}
			switch traces[i].Status {
			case particle.TraceDegenerate:
				degenerate++
			case particle.TraceOddCrossings:
				odd++
			case particle.TraceFailed:
				failed++
			}
			set.records = append(set.records, rec)
			set.traces = append(set.traces, traces[i])
		}
		part.n = len(set.records) - part.offset
		set.parts = append(set.parts, part)
	}

	if degenerate > 0 {
		warnings.Add(core.WarnDegenerateDirection, degenerate, "m=%.2f: %d particles with degenerate direction treated as misses", sel.MassGeV, degenerate)
	}
	if odd > 0 {
		warnings.Add(core.WarnOddCrossings, odd, "m=%.2f: %d rays with an odd number of surface crossings treated as misses", sel.MassGeV, odd)
	}
	if failed > 0 {
		warnings.Add(core.WarnRayFailed, failed, "m=%.2f: %d rays failed after retries and were treated as misses", sel.MassGeV, failed)
	}
	return set, nil
}

// traceSample returns the traces of every row of a sample, using the trace
// cache when one is configured. Cache write failures are logged only.
func (s *ScanService) traceSample(ctx context.Context, origin r3.Vec, info particle.SampleInfo, records []particle.Record) ([]particle.Trace, core.CacheKey, error) {
	key := traceKey(info.Path, s.deps.Tracer.Tag(), origin)
	if s.deps.TraceCache != nil && key != "" {
		traces, found, err := s.deps.TraceCache.Load(ctx, key, info.Path, len(records))
		if err != nil {
			s.logger.Warn("Trace cache load failed for %s: %v", filepath.Base(info.Path), err)
		} else if found {
			return traces, key, nil
		}
	}

	dirs := make([]r3.Vec, len(records))
	for i, rec := range records {
		if d, ok := rec.Direction(); ok {
			dirs[i] = d
		}
	}
	traces, err := s.deps.Tracer.Trace(ctx, origin, dirs)
	if err != nil {
		return nil, "", err
	}
	if len(traces) != len(records) {
		return nil, "", fmt.Errorf("tracer returned %d traces for %d rows", len(traces), len(records))
	}
	if s.deps.TraceCache != nil && key != "" {
		if err := s.deps.TraceCache.Store(ctx, key, traces); err != nil {
			s.logger.Warn("Trace cache store failed for %s: %v", filepath.Base(info.Path), err)
		}
	}
	return traces, key, nil
}

// traceKey identifies the traces of a file for one geometry and origin; empty
// when the file cannot be stat'ed
func traceKey(path string, tag core.GeometryTag, origin r3.Vec) core.CacheKey {
	st, err := os.Stat(path)
	if err != nil {
		return ""
	}
	base := core.ComputeCacheKey(filepath.Clean(path), st.Size(), tag)
	if origin == (r3.Vec{}) {
		return base
	}
	return core.CacheKey(core.ComputeFieldsHash(map[string]interface{}{
		"trace":  base.String(),
		"origin": fmt.Sprintf("%g,%g,%g", origin.X, origin.Y, origin.Z),
	}))
}

// modTime is the source file's modification time in ns, 0 when unknown
func modTime(path string) int64 {
	st, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return st.ModTime().UnixNano()
}

// passKey memoizes one dynamic separation evaluation
type passKey struct {
	row    int
	lambda float64
}

// librarySeparation draws decay products for every hitting row and returns
// the per-row separation pass as a function of lambda
func (s *ScanService) librarySeparation(ctx context.Context, req ScanRequest, mass float64, set *ownedSet, warnings *core.Warnings) (SeparationFunc, error) {
	catalog, err := s.deps.Library.Select(ctx, req.Flavour, mass)
	if err != nil {
		return nil, fmt.Errorf("decay library: %w", err)
	}
	warnings.Merge(catalog.Warnings)

	var samples []decay.AcceptanceSample
	for _, part := range set.parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		records := set.records[part.offset : part.offset+part.n]
		traces := set.traces[part.offset : part.offset+part.n]
		got, err := s.decaySamples(ctx, req, mass, part, catalog, records, traces)
		if err != nil {
			return nil, err
		}
		for _, smp := range got {
			smp.Row += part.offset
			samples = append(samples, smp)
		}
	}

	if req.Selection.StaticSeparation {
		passes := s.deps.Evaluator.StaticPasses(req.Origin, set.records, set.traces, samples)
		return func(i int, _ float64) float64 {
			if passes[i] {
				return 1
			}
			return 0
		}, nil
	}

	byRow := make(map[int]decay.AcceptanceSample, len(samples))
	dirs := make(map[int]r3.Vec, len(samples))
	for _, smp := range samples {
		if smp.Row < 0 || smp.Row >= len(set.records) {
			continue
		}
		if d, ok := set.records[smp.Row].Direction(); ok && smp.Separable() {
			byRow[smp.Row] = smp
			dirs[smp.Row] = d
		}
	}
	// the yield scan and the peak summaries ask for the same (row, lambda)
	var mu sync.Mutex
	seen := make(map[passKey]float64)
	return func(i int, lambda float64) float64 {
		smp, ok := byRow[i]
		if !ok {
			return 0
		}
		k := passKey{row: i, lambda: lambda}
		mu.Lock()
		defer mu.Unlock()
		if v, ok := seen[k]; ok {
			return v
		}
		v := 0.0
		if s.deps.Evaluator.PassAt(req.Origin, dirs[i], set.traces[i], smp, lambda) {
			v = 1
		}
		seen[k] = v
		return v
	}, nil
}

// decaySamples loads one sample's decay state from the cache or draws it
func (s *ScanService) decaySamples(ctx context.Context, req ScanRequest, mass float64, part ownedPart, catalog *decay.Catalog, records []particle.Record, traces []particle.Trace) ([]decay.AcceptanceSample, error) {
	groupKey := decay.GroupKey(req.Flavour, mass, filepath.Base(part.info.Path))
	var key core.CacheKey
	if s.deps.DecayCache != nil && part.traceKey != "" {
		key = decayKey(part, groupKey, catalog, req.Selection)
		cached, found, err := s.deps.DecayCache.Load(ctx, key)
		switch {
		case err != nil:
			s.logger.Warn("Decay cache load failed for %s: %v", filepath.Base(part.info.Path), err)
		case found && samplesMatch(cached, traces):
			return cached, nil
		case found:
			s.logger.Warn("Decay cache entry for %s does not match its rows, resampling", filepath.Base(part.info.Path))
		}
	}

	samples, err := s.deps.Sampler.Sample(groupKey, records, traces, catalog)
	if err != nil {
		return nil, fmt.Errorf("decay sampling %s: %w", filepath.Base(part.info.Path), err)
	}
	if key != "" {
		if err := s.deps.DecayCache.Store(ctx, key, samples); err != nil {
			s.logger.Warn("Decay cache store failed for %s: %v", filepath.Base(part.info.Path), err)
		}
	}
	return samples, nil
}

// samplesMatch reports whether cached samples address hitting rows of traces,
// each at most once
func samplesMatch(samples []decay.AcceptanceSample, traces []particle.Trace) bool {
	seen := make(map[int]bool, len(samples))
	for _, smp := range samples {
		if smp.Row < 0 || smp.Row >= len(traces) || !traces[smp.Row].HitsVolume || seen[smp.Row] {
			return false
		}
		seen[smp.Row] = true
	}
	return true
}

func decayKey(part ownedPart, groupKey string, catalog *decay.Catalog, sel scan.Selection) core.CacheKey {
	owned := make([]string, len(part.owned))
	for i, k := range part.owned {
		owned[i] = k.String()
	}
	sort.Strings(owned)
	return core.CacheKey(core.ComputeFieldsHash(map[string]interface{}{
		"trace":        part.traceKey.String(),
		"source_mtime": part.sourceMTime,
		"group":        groupKey,
		"catalog":      catalog.Entry.Path,
		"seed":         sel.DecaySeed,
		"p_min":        sel.PMinGeV,
		"owned":        strings.Join(owned, ","),
	}))
}
