package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
	"llpaccept/internal"
	apperrors "llpaccept/internal/errors"
	"llpaccept/ports"
)

// OverlapOptions configures the low-statistics guard
type OverlapOptions struct {
	MinEventsPerMass int  `json:"min_events_per_mass"`
	Strict           bool `json:"strict"`
}

// OverlapInput is one candidate sample with its per-key event counts
type OverlapInput struct {
	Info   particle.SampleInfo
	Counts map[particle.NormalizationKey]int
}

// Total is the number of events with a valid key
func (in OverlapInput) Total() int {
	n := 0
	for _, c := range in.Counts {
		n += c
	}
	return n
}

// ResolvedSample is a sample with the normalization keys it owns
type ResolvedSample struct {
	Info        particle.SampleInfo         `json:"info"`
	OwnedKeys   []particle.NormalizationKey `json:"owned_keys"`
	OwnedEvents int                         `json:"owned_events"`
	TotalEvents int                         `json:"total_events"`
}

// OverlapResolution is the ownership outcome at one mass point
type OverlapResolution struct {
	Samples          []ResolvedSample `json:"samples"`
	Warnings         []core.Warning   `json:"warnings"`
	TotalOwnedEvents int              `json:"total_owned_events"`
}

// Owner returns the sample that owns key, or false
func (r *OverlapResolution) Owner(key particle.NormalizationKey) (particle.SampleInfo, bool) {
	for _, s := range r.Samples {
		for _, k := range s.OwnedKeys {
			if k == key {
				return s.Info, true
			}
		}
	}
	return particle.SampleInfo{}, false
}

// contenderScore ranks samples competing for one key, compared field by field
type contenderScore struct {
	regimeMatch int
	keyEvents   int
	variant     particle.VariantPriority
	total       int
	path        string
}

func (a contenderScore) beats(b contenderScore) bool {
	switch {
	case a.regimeMatch != b.regimeMatch:
		return a.regimeMatch > b.regimeMatch
	case a.keyEvents != b.keyEvents:
		return a.keyEvents > b.keyEvents
	case a.variant.Compare(b.variant) != 0:
		return a.variant.Compare(b.variant) > 0
	case a.total != b.total:
		return a.total > b.total
	default:
		return a.path > b.path
	}
}

// ResolveOverlap assigns every normalization key to exactly one sample.
// label prefixes warning messages, e.g. "m=1.00 (muon)".
func ResolveOverlap(inputs []OverlapInput, label string, opts OverlapOptions) (*OverlapResolution, error) {
	res := &OverlapResolution{}
	if len(inputs) == 0 {
		return res, nil
	}
	prefix := ""
	if label != "" {
		prefix = " " + label
	}

	totals := make([]int, len(inputs))
	keySet := make(map[particle.NormalizationKey]bool)
	for i, in := range inputs {
		totals[i] = in.Total()
		for k, c := range in.Counts {
			if c > 0 {
				keySet[k] = true
			}
		}
	}
	keys := make([]particle.NormalizationKey, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	particle.SortKeys(keys)

	owner := make(map[particle.NormalizationKey]int, len(keys))
	for _, key := range keys {
		var contenders []int
		for i, in := range inputs {
			if in.Counts[key] > 0 {
				contenders = append(contenders, i)
			}
		}
		if len(contenders) == 1 {
			owner[key] = contenders[0]
			continue
		}

		sector := key.Sector()
		score := func(i int) contenderScore {
			return contenderScore{
				regimeMatch: particle.RegimeMatchScore(inputs[i].Info.Regime, sector),
				keyEvents:   inputs[i].Counts[key],
				variant:     inputs[i].Info.VariantPriority(),
				total:       totals[i],
				path:        inputs[i].Info.Path,
			}
		}
		winner := contenders[0]
		for _, c := range contenders[1:] {
			if score(c).beats(score(winner)) {
				winner = c
			}
		}
		owner[key] = winner

		byPath := append([]int(nil), contenders...)
		sort.Slice(byPath, func(a, b int) bool { return inputs[byPath[a]].Info.Path < inputs[byPath[b]].Info.Path })
		names := make([]string, len(byPath))
		for j, c := range byPath {
			names[j] = contenderName(inputs[c].Info)
		}
		w := inputs[winner].Info
		res.Warnings = append(res.Warnings, core.Warning{
			Code: core.WarnOverlap,
			Message: fmt.Sprintf("[OVERLAP]%s %s appears in %d files; keeping %s (owner regime=%s), dropping duplicates from: %s",
				prefix, key, len(contenders), filepath.Base(w.Path), w.Regime, strings.Join(names, ", ")),
			Count: inputs[winner].Counts[key],
		})
	}

	owned := make([][]particle.NormalizationKey, len(inputs))
	for _, key := range keys {
		owned[owner[key]] = append(owned[owner[key]], key)
	}
	for i, in := range inputs {
		if len(owned[i]) == 0 {
			continue
		}
		n := 0
		for _, k := range owned[i] {
			n += in.Counts[k]
		}
		res.TotalOwnedEvents += n
		res.Samples = append(res.Samples, ResolvedSample{
			Info:        in.Info,
			OwnedKeys:   owned[i],
			OwnedEvents: n,
			TotalEvents: totals[i],
		})
	}

	if opts.MinEventsPerMass > 0 && res.TotalOwnedEvents < opts.MinEventsPerMass {
		msg := fmt.Sprintf("[LOW-STAT]%s total owned events=%d < min_events_per_mass=%d after overlap resolution.",
			prefix, res.TotalOwnedEvents, opts.MinEventsPerMass)
		if opts.Strict {
			return nil, fmt.Errorf("%w: %s", core.ErrLowStatistics, msg)
		}
		res.Warnings = append(res.Warnings, core.Warning{Code: core.WarnLowStatistics, Message: msg, Count: res.TotalOwnedEvents})
	}
	return res, nil
}

func contenderName(info particle.SampleInfo) string {
	name := filepath.Base(info.Path) + "[" + string(info.Regime)
	if info.Mode != particle.ModeInclusive {
		name += "_" + string(info.Mode)
	}
	return name + "]"
}

// CheckPartition verifies that the owned keys, filtered back into the
// inputs, cover every key exactly once.
func CheckPartition(inputs []OverlapInput, res *OverlapResolution) error {
	owners := make(map[particle.NormalizationKey]int)
	for _, s := range res.Samples {
		for _, k := range s.OwnedKeys {
			owners[k]++
		}
	}
	for k, n := range owners {
		if n > 1 {
			return apperrors.DoubleCount("overlap partition", core.NewDoubleCountingError(k.String(), n))
		}
	}
	for _, in := range inputs {
		for k, c := range in.Counts {
			if c > 0 && owners[k] == 0 {
				return apperrors.DoubleCount("overlap partition", fmt.Errorf("%w: %s present in %s but owned by no sample",
					core.ErrDoubleCounting, k, filepath.Base(in.Info.Path)))
			}
		}
	}
	return nil
}

// SelectVariants keeps one file per (regime, mode) at a mass, preferring the
// higher VariantPriority; the first file wins ties. Dropping a variant is an
// error unless allowDrop is set, in which case it becomes a warning.
func SelectVariants(infos []particle.SampleInfo, label string, allowDrop bool) ([]particle.SampleInfo, []core.Warning, error) {
	type slot struct {
		regime particle.Regime
		mode   particle.ProductionMode
	}
	chosen := make(map[slot]particle.SampleInfo)
	candidates := make(map[slot][]particle.SampleInfo)
	var order []slot
	for _, info := range infos {
		k := slot{info.Regime, info.Mode}
		if _, ok := chosen[k]; !ok {
			chosen[k] = info
			order = append(order, k)
		} else if info.VariantPriority().Compare(chosen[k].VariantPriority()) > 0 {
			chosen[k] = info
		}
		candidates[k] = append(candidates[k], info)
	}

	var warnings []core.Warning
	for _, k := range order {
		kept := chosen[k]
		var dropped []string
		for _, c := range candidates[k] {
			if c.Path != kept.Path {
				dropped = append(dropped, c.Label())
			}
		}
		if len(dropped) == 0 {
			continue
		}
		msg := fmt.Sprintf("multiple variants for (%s, %s) at %s: keeping %s, dropping %s",
			k.regime, modeName(k.mode), label, kept.Label(), strings.Join(dropped, ", "))
		if !allowDrop {
			return nil, nil, fmt.Errorf("%w: %s (allow variant drop to override)", core.ErrInvalidConfig, msg)
		}
		warnings = append(warnings, core.Warning{Code: core.WarnOverlap, Message: msg, Count: len(dropped)})
	}

	out := make([]particle.SampleInfo, 0, len(order))
	for _, k := range order {
		out = append(out, chosen[k])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Regime.Order() != out[j].Regime.Order() {
			return out[i].Regime.Order() < out[j].Regime.Order()
		}
		return modeRank(out[i].Mode) < modeRank(out[j].Mode)
	})
	return out, warnings, nil
}

func modeName(m particle.ProductionMode) string {
	if m == particle.ModeInclusive {
		return "inclusive"
	}
	return string(m)
}

func modeRank(m particle.ProductionMode) int {
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

// OverlapService loads the samples of one mass point and resolves ownership
type OverlapService struct {
	reader ports.SampleReader
	logger *internal.Logger
}

// NewOverlapService creates an overlap service
func NewOverlapService(reader ports.SampleReader, logger *internal.Logger) *OverlapService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &OverlapService{reader: reader, logger: logger}
}

// MassSelection is the resolved input of one mass point
type MassSelection struct {
	MassGeV    float64
	Resolution *OverlapResolution
	Samples    map[string]*particle.Sample // by path, only owning samples
	Warnings   []core.Warning
}

// Resolve selects variants, loads them and assigns key ownership
func (s *OverlapService) Resolve(ctx context.Context, flavour particle.Flavour, mass float64, infos []particle.SampleInfo, allowVariantDrop bool, opts OverlapOptions) (*MassSelection, error) {
	label := fmt.Sprintf("m=%.2f (%s)", mass, flavour)
	selected, warnings, err := SelectVariants(infos, label, allowVariantDrop)
	if err != nil {
		return nil, err
	}

	loaded := make(map[string]*particle.Sample, len(selected))
	inputs := make([]OverlapInput, 0, len(selected))
	for _, info := range selected {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sample, err := s.reader.Read(ctx, info)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", filepath.Base(info.Path), err)
		}
		loaded[info.Path] = sample
		inputs = append(inputs, OverlapInput{Info: info, Counts: sample.KeyCounts()})
	}

	res, err := ResolveOverlap(inputs, label, opts)
	if err != nil {
		return nil, err
	}
	if err := CheckPartition(inputs, res); err != nil {
		return nil, err
	}

	sel := &MassSelection{MassGeV: mass, Resolution: res, Samples: make(map[string]*particle.Sample)}
	for _, r := range res.Samples {
		sel.Samples[r.Info.Path] = loaded[r.Info.Path]
	}
	for _, w := range warnings {
		s.logger.Warn("%s", w.String())
	}
	for _, w := range res.Warnings {
		s.logger.Warn("%s", w.String())
	}
	sel.Warnings = append(warnings, res.Warnings...)
	return sel, nil
}
