package ports

import (
	"context"

	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
)

// DecayLibrary selects the nearest-mass rest-frame decay catalog
type DecayLibrary interface {
	Select(ctx context.Context, flavour particle.Flavour, massGeV float64) (*decay.Catalog, error)
}

// DecaySampleCache persists per-particle decay samples so every coupling point reuses them
type DecaySampleCache interface {
	Load(ctx context.Context, key core.CacheKey) (samples []decay.AcceptanceSample, found bool, err error)
	Store(ctx context.Context, key core.CacheKey, samples []decay.AcceptanceSample) error
}

// CalibrationSource supplies the kappa surrogate efficiency for the calibrated decay mode
type CalibrationSource interface {
	Kappa(ctx context.Context, q KappaQuery) (float64, error)
}

// KappaQuery carries the live cuts that a calibration row must match
type KappaQuery struct {
	Flavour      particle.Flavour
	MassGeV      float64
	PMinGeV      float64
	SeparationMM float64
	GeometryTag  core.GeometryTag
}

// DecaySampler draws the coupling-independent decay state of the hitting rows of one group
type DecaySampler interface {
	Sample(groupKey string, records []particle.Record, traces []particle.Trace, catalog *decay.Catalog) ([]decay.AcceptanceSample, error)
}

// SeparationEvaluator applies the daughter separation cut at a decay vertex
type SeparationEvaluator interface {
	// PassAt evaluates the cut with the vertex placed for decay length lambda
	PassAt(origin, direction r3.Vec, trace particle.Trace, sample decay.AcceptanceSample, lambda float64) bool
	// StaticPasses evaluates the cut once per sample with the vertex at the segment midpoint
	StaticPasses(origin r3.Vec, records []particle.Record, traces []particle.Trace, samples []decay.AcceptanceSample) map[int]bool
}
