package testkit

import (
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"

	"llpaccept/domain/particle"
)

// ParticleGeneratorConfig configures the synthetic production sample generator
type ParticleGeneratorConfig struct {
	Count        int     `json:"count"`
	Parents      []int   `json:"parents"`
	TauParentPDG int     `json:"tau_parent_pdg"` // grandparent used when a parent is 15
	MassGeV      float64 `json:"mass_gev"`
	EtaMin       float64 `json:"eta_min"`
	EtaMax       float64 `json:"eta_max"`
	PhiMin       float64 `json:"phi_min"`
	PhiMax       float64 `json:"phi_max"`
	MomentumGeV  float64 `json:"momentum_gev"`
	MomentumRMS  float64 `json:"momentum_rms"`
	Seed         int64   `json:"seed"`
}

// DefaultParticleConfig returns a central, forward-going D-meson sample
func DefaultParticleConfig() ParticleGeneratorConfig {
	return ParticleGeneratorConfig{
		Count:        200,
		Parents:      []int{421, 411},
		TauParentPDG: 431,
		MassGeV:      1.0,
		EtaMin:       -0.5,
		EtaMax:       0.5,
		PhiMin:       -0.3,
		PhiMax:       0.3,
		MomentumGeV:  20,
		MomentumRMS:  5,
		Seed:         42,
	}
}

// ParticleGenerator draws reproducible particle rows
type ParticleGenerator struct {
	config ParticleGeneratorConfig
	rng    *rand.Rand
}

// NewParticleGenerator creates a generator seeded from the config
func NewParticleGenerator(config ParticleGeneratorConfig) *ParticleGenerator {
	return &ParticleGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate returns Count records with parents cycled from the config
func (g *ParticleGenerator) Generate() []particle.Record {
	c := g.config
	parents := c.Parents
	if len(parents) == 0 {
		parents = []int{421}
	}
	out := make([]particle.Record, c.Count)
	for i := range out {
		p := c.MomentumGeV + g.rng.NormFloat64()*c.MomentumRMS
		if p < 0.1 {
			p = 0.1
		}
		rec := particle.Record{
			EventID:    int64(i),
			ParentPDG:  parents[i%len(parents)],
			Eta:        c.EtaMin + g.rng.Float64()*(c.EtaMax-c.EtaMin),
			Phi:        c.PhiMin + g.rng.Float64()*(c.PhiMax-c.PhiMin),
			Momentum:   p,
			Mass:       c.MassGeV,
			Weight:     1,
			BetaGamma:  particle.BetaGammaFrom(p, c.MassGeV),
			QCDMode:    particle.QCDAuto,
			SigmaGenPB: math.NaN(),
		}
		if rec.ParentPDG == 15 {
			rec.TauParentPDG = c.TauParentPDG
		}
		out[i] = rec
	}
	return out
}

// WriteCSV writes records in the production sample column layout
func WriteCSV(path string, records []particle.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"event", "weight", "parent_id", "tau_parent_id", "eta", "phi", "momentum", "mass", "beta_gamma", "qcd_mode", "sigma_gen_pb"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, r := range records {
		tau := ""
		if r.TauParentPDG > 0 {
			tau = strconv.Itoa(r.TauParentPDG)
		}
		sigma := ""
		if !math.IsNaN(r.SigmaGenPB) {
			sigma = ftoa(r.SigmaGenPB)
		}
		row := []string{
			strconv.FormatInt(r.EventID, 10),
			ftoa(r.Weight),
			strconv.Itoa(r.ParentPDG),
			tau,
			ftoa(r.Eta),
			ftoa(r.Phi),
			ftoa(r.Momentum),
			ftoa(r.Mass),
			ftoa(r.BetaGamma),
			string(r.QCDMode),
			sigma,
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func ftoa(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
