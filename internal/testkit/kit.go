package testkit

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/geometry"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
	"llpaccept/ports"
)

// TestKit bundles in-memory implementations of the pipeline ports
type TestKit struct {
	Samples     *MemorySamples
	Oracle      *MemoryOracle
	Library     *MemoryDecayLibrary
	Results     *MemoryResultStore
	TraceCache  *MemoryTraceCache
	DecayCache  *MemoryDecayCache
	Calibration *FixedKappa
}

// NewTestKit creates an empty kit
func NewTestKit() *TestKit {
	return &TestKit{
		Samples:     NewMemorySamples(),
		Oracle:      NewMemoryOracle(),
		Library:     NewMemoryDecayLibrary(),
		Results:     NewMemoryResultStore(),
		TraceCache:  NewMemoryTraceCache(),
		DecayCache:  NewMemoryDecayCache(),
		Calibration: &FixedKappa{Value: 1},
	}
}

// MemorySamples serves production samples from memory as both catalog and reader
type MemorySamples struct {
	mu      sync.RWMutex
	samples map[string]*particle.Sample
	reads   map[string]int
}

// NewMemorySamples creates an empty sample store
func NewMemorySamples() *MemorySamples {
	return &MemorySamples{samples: make(map[string]*particle.Sample), reads: make(map[string]int)}
}

// Add registers a sample under info.Path
func (m *MemorySamples) Add(info particle.SampleInfo, records []particle.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[info.Path] = &particle.Sample{Info: info, Records: records}
}

// Discover lists the samples of a flavour sorted by mass then path
func (m *MemorySamples) Discover(ctx context.Context, flavour particle.Flavour) ([]particle.SampleInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []particle.SampleInfo
	for _, s := range m.samples {
		if s.Info.Flavour == flavour {
			out = append(out, s.Info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MassGeV != out[j].MassGeV {
			return out[i].MassGeV < out[j].MassGeV
		}
		return out[i].Path < out[j].Path
	})
	return out, nil
}

// Read returns a copy of the registered sample
func (m *MemorySamples) Read(ctx context.Context, info particle.SampleInfo) (*particle.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.samples[info.Path]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", core.ErrMalformedSample, info.Path)
	}
	m.reads[info.Path]++
	records := make([]particle.Record, len(s.Records))
	copy(records, s.Records)
	return &particle.Sample{Info: s.Info, Records: records}, nil
}

// Reads counts Read calls per path
func (m *MemorySamples) Reads(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reads[path]
}

// MemoryOracle serves oracle points keyed by flavour and exact mass
type MemoryOracle struct {
	mu     sync.RWMutex
	points map[particle.Flavour][]scan.OraclePoint
}

// NewMemoryOracle creates an empty oracle
func NewMemoryOracle() *MemoryOracle {
	return &MemoryOracle{points: make(map[particle.Flavour][]scan.OraclePoint)}
}

// Set registers a point
func (o *MemoryOracle) Set(p scan.OraclePoint) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.points[p.Flavour] = append(o.points[p.Flavour], p)
}

// Lookup returns the point within 1e-6 GeV of massGeV
func (o *MemoryOracle) Lookup(ctx context.Context, massGeV float64, flavour particle.Flavour) (scan.OraclePoint, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, p := range o.points[flavour] {
		if math.Abs(p.MassGeV-massGeV) < 1e-6 {
			return p, nil
		}
	}
	return scan.OraclePoint{}, fmt.Errorf("%w: %s m=%.3f", core.ErrOutOfRange, flavour, massGeV)
}

// MemoryDecayLibrary returns one fixed catalog per flavour
type MemoryDecayLibrary struct {
	catalogs map[particle.Flavour]*decay.Catalog
}

// NewMemoryDecayLibrary creates an empty library
func NewMemoryDecayLibrary() *MemoryDecayLibrary {
	return &MemoryDecayLibrary{catalogs: make(map[particle.Flavour]*decay.Catalog)}
}

// Set registers the catalog of a flavour
func (l *MemoryDecayLibrary) Set(flavour particle.Flavour, c *decay.Catalog) {
	l.catalogs[flavour] = c
}

// Select returns the registered catalog regardless of mass
func (l *MemoryDecayLibrary) Select(ctx context.Context, flavour particle.Flavour, massGeV float64) (*decay.Catalog, error) {
	c, ok := l.catalogs[flavour]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNoDecayCatalog, flavour)
	}
	return c, nil
}

// BackToBackCatalog is a catalog of one two-body decay into massless
// charged daughters along +-x in the rest frame
func BackToBackCatalog(massGeV float64) *decay.Catalog {
	e := massGeV / 2
	return &decay.Catalog{
		Entry: decay.CatalogEntry{Path: fmt.Sprintf("memory_%.2f.txt", massGeV), MassGeV: massGeV},
		Events: []decay.Event{{
			{E: e, Px: e, PDG: 13},
			{E: e, Px: -e, PDG: -211},
		}},
	}
}

// MemoryResultStore keeps runs and mass results in memory
type MemoryResultStore struct {
	mu      sync.RWMutex
	runs    map[core.RunID]scan.RunManifest
	results map[core.RunID]map[float64]scan.MassResult
}

// NewMemoryResultStore creates an empty store
func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{
		runs:    make(map[core.RunID]scan.RunManifest),
		results: make(map[core.RunID]map[float64]scan.MassResult),
	}
}

func (s *MemoryResultStore) SaveRun(ctx context.Context, run scan.RunManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.RunID] = run
	return nil
}

func (s *MemoryResultStore) GetRun(ctx context.Context, runID core.RunID) (*scan.RunManifest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return &run, nil
}

func (s *MemoryResultStore) SaveMassResult(ctx context.Context, runID core.RunID, result scan.MassResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if s.results[runID] == nil {
		s.results[runID] = make(map[float64]scan.MassResult)
	}
	s.results[runID][result.MassGeV] = result
	return nil
}

func (s *MemoryResultStore) ListMassResults(ctx context.Context, runID core.RunID) ([]scan.MassResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]scan.MassResult, 0, len(s.results[runID]))
	for _, r := range s.results[runID] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MassGeV < out[j].MassGeV })
	return out, nil
}

// MemoryTraceCache is a map-backed trace cache that never goes stale
type MemoryTraceCache struct {
	mu      sync.Mutex
	entries map[core.CacheKey][]particle.Trace
	Hits    int
}

// NewMemoryTraceCache creates an empty cache
func NewMemoryTraceCache() *MemoryTraceCache {
	return &MemoryTraceCache{entries: make(map[core.CacheKey][]particle.Trace)}
}

func (c *MemoryTraceCache) Load(ctx context.Context, key core.CacheKey, sourcePath string, rows int) ([]particle.Trace, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.entries[key]
	if !ok || len(t) != rows {
		return nil, false, nil
	}
	c.Hits++
	return append([]particle.Trace(nil), t...), true, nil
}

func (c *MemoryTraceCache) Store(ctx context.Context, key core.CacheKey, traces []particle.Trace) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = append([]particle.Trace(nil), traces...)
	return nil
}

// MemoryDecayCache is a map-backed decay sample cache
type MemoryDecayCache struct {
	mu      sync.Mutex
	entries map[core.CacheKey][]decay.AcceptanceSample
	Hits    int
}

// NewMemoryDecayCache creates an empty cache
func NewMemoryDecayCache() *MemoryDecayCache {
	return &MemoryDecayCache{entries: make(map[core.CacheKey][]decay.AcceptanceSample)}
}

func (c *MemoryDecayCache) Load(ctx context.Context, key core.CacheKey) ([]decay.AcceptanceSample, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[key]
	if ok {
		c.Hits++
	}
	return s, ok, nil
}

func (c *MemoryDecayCache) Store(ctx context.Context, key core.CacheKey, samples []decay.AcceptanceSample) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = samples
	return nil
}

// FixedKappa is a calibration source returning one kappa for every query
type FixedKappa struct {
	Value float64
	Err   error
}

func (k *FixedKappa) Kappa(ctx context.Context, q ports.KappaQuery) (float64, error) {
	return k.Value, k.Err
}

// StraightTube builds a tube mesh of the given radius along +x from x0 to x1
func StraightTube(x0, x1, radius float64) (*geometry.Mesh, error) {
	const n = 5
	pts := make([]r3.Vec, n)
	for i := range pts {
		pts[i] = r3.Vec{X: x0 + (x1-x0)*float64(i)/float64(n-1)}
	}
	return geometry.BuildAlong(geometry.Config{Model: geometry.ModelTube, TubeRadiusM: radius, Segments: 32}, pts)
}

// FuncTracer is a ray intersector driven by per-direction functions. Zero
// directions are reported as degenerate.
type FuncTracer struct {
	TraceFn     func(origin, dir r3.Vec) particle.Trace
	HitFn       func(origin, dir r3.Vec) (r3.Vec, bool)
	GeometryTag core.GeometryTag

	mu    sync.Mutex
	calls int
}

// UniformTracer reports the same hit for every valid direction
func UniformTracer(entry, path float64) *FuncTracer {
	return &FuncTracer{
		TraceFn:     func(_, _ r3.Vec) particle.Trace { return particle.Hit(entry, path) },
		GeometryTag: "memory_tracer",
	}
}

func (f *FuncTracer) Trace(ctx context.Context, origin r3.Vec, directions []r3.Vec) ([]particle.Trace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	out := make([]particle.Trace, len(directions))
	for i, d := range directions {
		if d == (r3.Vec{}) {
			out[i] = particle.Miss(particle.TraceDegenerate)
			continue
		}
		out[i] = f.TraceFn(origin, d)
	}
	return out, nil
}

func (f *FuncTracer) FirstHits(origin r3.Vec, directions []r3.Vec) ([]r3.Vec, []bool) {
	pts := make([]r3.Vec, len(directions))
	ok := make([]bool, len(directions))
	if f.HitFn == nil {
		return pts, ok
	}
	for i, d := range directions {
		pts[i], ok[i] = f.HitFn(origin, d)
	}
	return pts, ok
}

func (f *FuncTracer) Tag() core.GeometryTag { return f.GeometryTag }

// Calls counts Trace invocations
func (f *FuncTracer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
