package app

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
	"llpaccept/internal"
	"llpaccept/internal/profiling"
	"llpaccept/ports"
)

// pbToFb converts a cross-section in pb to fb
const pbToFb = 1e3

// YieldConfig holds the run-level factors of the yield formula
type YieldConfig struct {
	LumiFb         float64
	Dirac          bool
	RecoEfficiency float64
}

// SeparationFunc returns the separation acceptance of row i at lab decay
// length lambda. A nil func accepts everything.
type SeparationFunc func(i int, lambda float64) float64

// YieldInput is the owned, traced particle set of one mass point
type YieldInput struct {
	MassGeV    float64
	Records    []particle.Record
	Traces     []particle.Trace
	Oracle     scan.OraclePoint
	Separation SeparationFunc
}

// yieldGroup is one (normalization key, qcd mode, sigma_gen) bucket; rows
// in a bucket share a cross-section and a branching ratio.
type yieldGroup struct {
	key     particle.NormalizationKey
	mode    particle.QCDMode
	rows    []int
	weights []float64
	sigmaPB float64
	brRef   float64
}

// YieldPlan is the coupling-independent bookkeeping of a mass point
type YieldPlan struct {
	in       *YieldInput
	cfg      YieldConfig
	groups   []yieldGroup
	warnings core.Warnings
}

// YieldScanner computes expected signal events over a coupling grid
type YieldScanner struct {
	xsec   ports.CrossSections
	cfg    YieldConfig
	logger *internal.Logger
}

// NewYieldScanner creates a scanner
func NewYieldScanner(xsec ports.CrossSections, cfg YieldConfig, logger *internal.Logger) *YieldScanner {
	if cfg.RecoEfficiency == 0 {
		cfg.RecoEfficiency = 1
	}
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &YieldScanner{xsec: xsec, cfg: cfg, logger: logger}
}

type missingSet struct {
	pdgs   map[int]bool
	events int
}

func (m *missingSet) add(pdg, events int) {
	if m.pdgs == nil {
		m.pdgs = make(map[int]bool)
	}
	m.pdgs[pdg] = true
	m.events += events
}

func (m *missingSet) list() string {
	out := make([]int, 0, len(m.pdgs))
	for p := range m.pdgs {
		out = append(out, p)
	}
	sort.Ints(out)
	parts := make([]string, len(out))
	for i, p := range out {
		parts[i] = strconv.Itoa(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Plan groups the rows and resolves cross-sections and branching ratios.
// A tau row without grandparent or a hard-QCD group without sigma_gen_pb is
// an error; species without BR or cross-section are dropped with a warning
// that counts the discarded events.
func (s *YieldScanner) Plan(in *YieldInput) (*YieldPlan, error) {
	if len(in.Records) != len(in.Traces) {
		return nil, fmt.Errorf("records/traces length mismatch: %d != %d", len(in.Records), len(in.Traces))
	}
	p := &YieldPlan{in: in, cfg: s.cfg}

	badTau, invalid, badLambda := 0, 0, 0
	byKey := make(map[particle.NormalizationKey][]int)
	for i, r := range in.Records {
		if r.ParentPDG <= 0 {
			invalid++
			continue
		}
		if r.ParentPDG == 15 && r.TauParentPDG <= 0 {
			badTau++
			continue
		}
		if in.Traces[i].HitsVolume && !decay.ValidLength(decay.Length(r.BetaGamma, in.Oracle.Ctau0M)) {
			badLambda++
		}
		byKey[r.Key()] = append(byKey[r.Key()], i)
	}
	if badTau > 0 {
		return nil, fmt.Errorf("%w: %d rows with parent 15 but no tau_parent_id; regenerate the fromTau sample",
			core.ErrMissingTauParent, badTau)
	}
	if invalid > 0 {
		p.warnings.Add(core.WarnInvalidRow, invalid, "m=%.2f: %d rows without a parent species ignored", in.MassGeV, invalid)
	}
	if badLambda > 0 {
		p.warnings.Add(core.WarnNonPositiveLambda, badLambda,
			"m=%.2f: %d/%d hitting particles have non-positive or non-finite decay length; probability set to 0",
			in.MassGeV, badLambda, len(in.Records))
	}

	keys := make([]particle.NormalizationKey, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	particle.SortKeys(keys)

	var missingBR, missingTauBR, missingXsec, noWeight missingSet
	for _, key := range keys {
		rows := byKey[key]
		var br float64
		switch key.Kind {
		case particle.KeyTauParent:
			brTau := in.Oracle.BRPerParent[15]
			if brTau <= 0 {
				missingBR.add(15, len(rows))
				continue
			}
			toTau := s.xsec.ParentToTauBR(key.PDG)
			if toTau <= 0 {
				missingTauBR.add(key.PDG, len(rows))
				continue
			}
			br = toTau * brTau
		default:
			br = in.Oracle.BRPerParent[key.PDG]
			if br <= 0 {
				missingBR.add(key.PDG, len(rows))
				continue
			}
		}

		for _, g := range splitByContext(in.Records, rows) {
			rec := in.Records[g[0]]
			sigma, err := s.xsec.ParentSigmaPB(key.PDG, rec.QCDMode, rec.SigmaGenPB)
			if err != nil {
				return nil, fmt.Errorf("parent %d: %w", key.PDG, err)
			}
			if sigma <= 0 {
				missingXsec.add(key.PDG, len(g))
				continue
			}
			w := make([]float64, len(g))
			for j, i := range g {
				w[j] = in.Records[i].Weight
			}
			if !(floats.Sum(w) > 0) {
				noWeight.add(key.PDG, len(g))
				continue
			}
			mode := rec.QCDMode
			if mode == "" {
				mode = particle.QCDAuto
			}
			p.groups = append(p.groups, yieldGroup{key: key, mode: mode, rows: g, weights: w, sigmaPB: sigma, brRef: br})
		}
	}

	if missingBR.events > 0 {
		p.warnings.Add(core.WarnMissingBR, missingBR.events,
			"m=%.2f: %d parent PDG(s) have no production BR: %s; discarding %d events",
			in.MassGeV, len(missingBR.pdgs), missingBR.list(), missingBR.events)
	}
	if missingTauBR.events > 0 {
		p.warnings.Add(core.WarnMissingTauBR, missingTauBR.events,
			"m=%.2f: %d tau-parent PDG(s) have no SM tau BR: %s; discarding %d events",
			in.MassGeV, len(missingTauBR.pdgs), missingTauBR.list(), missingTauBR.events)
	}
	if missingXsec.events > 0 {
		p.warnings.Add(core.WarnMissingXsec, missingXsec.events,
			"m=%.2f: %d parent PDG(s) have no cross-section: %s; discarding %d events",
			in.MassGeV, len(missingXsec.pdgs), missingXsec.list(), missingXsec.events)
	}
	if noWeight.events > 0 {
		p.warnings.Add(core.WarnInvalidRow, noWeight.events,
			"m=%.2f: %d parent PDG(s) have groups with non-positive total weight: %s; discarding %d events",
			in.MassGeV, len(noWeight.pdgs), noWeight.list(), noWeight.events)
	}
	if len(p.groups) == 0 && len(byKey) > 0 {
		p.warnings.Add(core.WarnNoContribution, len(in.Records),
			"m=%.2f: no species contributes; every event was discarded", in.MassGeV)
	}

	for _, w := range p.warnings.Items() {
		s.logger.Warn("%s", w.String())
	}
	return p, nil
}

// splitByContext buckets rows by (qcd_mode, sigma_gen_pb) in first-seen order
func splitByContext(records []particle.Record, rows []int) [][]int {
	index := make(map[string]int)
	var out [][]int
	for _, i := range rows {
		r := records[i]
		mode := r.QCDMode
		if mode == "" {
			mode = particle.QCDAuto
		}
		sigma := "nan"
		if !math.IsNaN(r.SigmaGenPB) && !math.IsInf(r.SigmaGenPB, 0) {
			sigma = strconv.FormatFloat(r.SigmaGenPB, 'g', 12, 64)
		}
		k := string(mode) + "|" + sigma
		j, ok := index[k]
		if !ok {
			j = len(out)
			index[k] = j
			out = append(out, nil)
		}
		out[j] = append(out[j], i)
	}
	return out
}

// Warnings returns the data-quality findings of the plan
func (p *YieldPlan) Warnings() []core.Warning {
	return p.warnings.Items()
}

// probabilities returns the per-row acceptance of one group at ctau
func (p *YieldPlan) probabilities(g yieldGroup, ctau float64) []float64 {
	probs := make([]float64, len(g.rows))
	for j, i := range g.rows {
		tr := p.in.Traces[i]
		if !tr.HitsVolume {
			continue
		}
		lambda := decay.Length(p.in.Records[i].BetaGamma, ctau)
		prob := decay.Probability(tr.EntryDistance, tr.PathLength, lambda)
		if prob > 0 && p.in.Separation != nil {
			prob *= p.in.Separation(i, lambda)
		}
		probs[j] = prob
	}
	return probs
}

// Expected returns the expected signal events at eps2:
// sum over groups of L * sigma * BR(eps2) * weighted-mean efficiency
func (p *YieldPlan) Expected(eps2 float64) float64 {
	ctau := p.in.Oracle.CtauAt(eps2)
	scale := p.in.Oracle.BRScale(eps2)
	total := 0.0
	for _, g := range p.groups {
		eff := stat.Mean(p.probabilities(g, ctau), g.weights)
		total += p.cfg.LumiFb * g.sigmaPB * pbToFb * g.brRef * scale * eff
	}
	if p.cfg.Dirac {
		total *= 2
	}
	return total * p.cfg.RecoEfficiency
}

// Summaries describes each group at eps2
func (p *YieldPlan) Summaries(eps2 float64) []scan.GroupSummary {
	ctau := p.in.Oracle.CtauAt(eps2)
	analyzer := profiling.NewDistributionAnalyzer()
	out := make([]scan.GroupSummary, 0, len(p.groups))
	for _, g := range p.groups {
		probs := p.probabilities(g, ctau)
		sum := scan.GroupSummary{
			Key:     g.key.String(),
			QCDMode: string(g.mode),
			Events:  len(g.rows),
			SigmaPB: g.sigmaPB,
			BR:      g.brRef * p.in.Oracle.BRScale(eps2),
			MeanEff: stat.Mean(probs, g.weights),
		}
		for _, i := range g.rows {
			if p.in.Traces[i].HitsVolume {
				sum.Hits++
			}
		}
		if d, err := analyzer.Summarize(probs); err == nil {
			sum.MaxEff = d.Max
			sum.P90Eff = d.P90
		}
		out = append(out, sum)
	}
	return out
}

// Scan evaluates the plan on every grid point
func (s *YieldScanner) Scan(ctx context.Context, in *YieldInput, grid []float64) ([]scan.Point, *YieldPlan, error) {
	plan, err := s.Plan(in)
	if err != nil {
		return nil, nil, err
	}
	points := make([]scan.Point, len(grid))
	for i, eps2 := range grid {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		points[i] = scan.Point{
			Eps2:           eps2,
			CtauM:          in.Oracle.CtauAt(eps2),
			ExpectedEvents: plan.Expected(eps2),
		}
	}
	return points, plan, nil
}
