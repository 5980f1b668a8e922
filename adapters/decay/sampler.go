package decay

import (
	"fmt"
	"math"

	"go-hep.org/x/hep/fmom"
	"go-hep.org/x/hep/heppdt"
	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/ports"
)

// chargedSpecies covers charged codes absent from the particle data table
var chargedSpecies = map[int]bool{
	11: true, 13: true, 15: true, 24: true,
	211: true, 213: true, 321: true, 323: true,
	411: true, 413: true, 431: true, 433: true,
	521: true, 523: true, 541: true,
	2212: true, 2214: true, 2224: true,
	3112: true, 3222: true, 3312: true, 3334: true,
	4122: true, 4222: true, 4232: true,
}

// IsCharged reports whether a daughter species leaves a track. The particle
// data table decides for every species it lists.
func IsCharged(pdg int) bool {
	if p := heppdt.ParticleByID(heppdt.PID(pdg)); p != nil {
		return p.Charge != 0
	}
	if pdg < 0 {
		pdg = -pdg
	}
	return chargedSpecies[pdg]
}

// RotationFromZ returns the rotation taking +z onto target. The aligned and
// anti-aligned cases are handled without dividing by the cross product.
func RotationFromZ(target r3.Vec) func(r3.Vec) r3.Vec {
	n := r3.Norm(target)
	if !(n > 0) || math.IsInf(n, 0) {
		return func(v r3.Vec) r3.Vec { return v }
	}
	t := r3.Scale(1/n, target)
	z := r3.Vec{Z: 1}
	cos := math.Max(-1, math.Min(1, r3.Dot(z, t)))
	switch {
	case math.Abs(cos-1) <= 1e-12:
		return func(v r3.Vec) r3.Vec { return v }
	case math.Abs(cos+1) <= 1e-12:
		// half turn about x
		return func(v r3.Vec) r3.Vec { return r3.Vec{X: v.X, Y: -v.Y, Z: -v.Z} }
	}
	axis := r3.Unit(r3.Cross(z, t))
	rot := r3.NewRotation(math.Acos(cos), axis)
	return rot.Rotate
}

// Boost applies a pure boost with the given beta*gamma along the unit axis
func Boost(p fmom.PxPyPzE, betaGamma float64, axis r3.Vec) fmom.PxPyPzE {
	if !(betaGamma > 0) {
		return p
	}
	gamma := math.Sqrt(1 + betaGamma*betaGamma)
	mom := r3.Vec{X: p.Px(), Y: p.Py(), Z: p.Pz()}
	par := r3.Dot(mom, axis)
	perp := r3.Sub(mom, r3.Scale(par, axis))
	e := gamma*p.E() + betaGamma*par
	parPrime := gamma*par + betaGamma*p.E()
	out := r3.Add(perp, r3.Scale(parPrime, axis))
	return fmom.NewPxPyPzE(out.X, out.Y, out.Z, e)
}

// LabDirections rotates a rest-frame decay onto the flight direction, boosts
// it and returns the unit directions of charged daughters with lab momentum
// of at least pMinGeV. Fewer than two survivors yields nil.
func LabDirections(direction r3.Vec, betaGamma float64, event decay.Event, pMinGeV float64) []r3.Vec {
	n := r3.Norm(direction)
	if !(n > 0) || math.IsInf(n, 0) || math.IsNaN(n) {
		return nil
	}
	axis := r3.Scale(1/n, direction)
	rotate := RotationFromZ(axis)

	var dirs []r3.Vec
	for _, d := range event {
		if !IsCharged(d.PDG) {
			continue
		}
		rest := rotate(r3.Vec{X: d.Px, Y: d.Py, Z: d.Pz})
		lab := Boost(fmom.NewPxPyPzE(rest.X, rest.Y, rest.Z, d.E), betaGamma, axis)
		p := lab.P()
		if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 || p < pMinGeV {
			continue
		}
		dirs = append(dirs, r3.Vec{X: lab.Px() / p, Y: lab.Py() / p, Z: lab.Pz() / p})
	}
	if len(dirs) < 2 {
		return nil
	}
	return dirs
}

// Sampler draws one decay event and one decay-position uniform per hitting
// particle. Each particle's draws come from its own stream keyed by its row
// index, so results do not depend on processing order.
type Sampler struct {
	rng     ports.RNGPort
	seed    int64
	pMinGeV float64
}

// NewSampler creates a sampler for one run seed and momentum threshold
func NewSampler(rng ports.RNGPort, seed int64, pMinGeV float64) *Sampler {
	return &Sampler{rng: rng, seed: seed, pMinGeV: pMinGeV}
}

// Sample builds acceptance samples for the hitting rows of a group
func (s *Sampler) Sample(groupKey string, records []particle.Record, traces []particle.Trace, catalog *decay.Catalog) ([]decay.AcceptanceSample, error) {
	if len(records) != len(traces) {
		return nil, fmt.Errorf("records/traces length mismatch: %d != %d", len(records), len(traces))
	}
	if catalog == nil || len(catalog.Events) == 0 {
		return nil, fmt.Errorf("empty decay catalog for group %s", groupKey)
	}
	groupSeed := s.rng.GroupSeed(groupKey, s.seed)

	var out []decay.AcceptanceSample
	for i, tr := range traces {
		if !tr.HitsVolume {
			continue
		}
		stream := s.rng.ParticleStream(groupSeed, i)
		event := catalog.Events[stream.IntN(len(catalog.Events))]
		u := stream.Float64()

		sample := decay.AcceptanceSample{Row: i, DecayU: u}
		if dir, ok := records[i].Direction(); ok {
			sample.Directions = LabDirections(dir, records[i].BetaGamma, event, s.pMinGeV)
		}
		out = append(out, sample)
	}
	return out, nil
}
