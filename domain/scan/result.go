package scan

import (
	"time"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
)

// DecayMode selects how the separation efficiency is obtained
type DecayMode string

const (
	DecayModeLibrary    DecayMode = "library"
	DecayModeCalibrated DecayMode = "brvis_kappa"
)

// SeparationPolicy decides which pairwise distances must fall in the window
type SeparationPolicy string

const (
	PolicyAllPairsMin   SeparationPolicy = "all-pairs-min"
	PolicyAnyPairWindow SeparationPolicy = "any-pair-window"
)

// Selection bundles the reconstruction cuts of a run.
//
// MaxSeparationM is the upper bound of the separation window in metres. Zero
// leaves the window open above; use HasMaxSeparation rather than comparing.
type Selection struct {
	SeparationM      float64          `json:"separation_m"`
	MaxSeparationM   float64          `json:"max_separation_m"`
	Policy           SeparationPolicy `json:"policy"`
	PMinGeV          float64          `json:"p_min_gev"`
	DecaySeed        int64            `json:"decay_seed"`
	Mode             DecayMode        `json:"decay_mode"`
	StaticSeparation bool             `json:"static_separation"`
	RecoEfficiency   float64          `json:"reco_efficiency"`
	Dirac            bool             `json:"dirac"`
}

// RunManifest describes one scan invocation
type RunManifest struct {
	RunID       core.RunID       `json:"run_id"`
	Flavour     particle.Flavour `json:"flavour"`
	GeometryTag core.GeometryTag `json:"geometry_tag"`
	Selection   Selection        `json:"selection"`
	LumiFb      float64          `json:"lumi_fb"`
	Threshold   float64          `json:"threshold"`
	StartedAt   time.Time        `json:"started_at"`
}

// MassResult is the scan outcome at one mass
type MassResult struct {
	MassGeV   float64          `json:"mass_gev"`
	Flavour   particle.Flavour `json:"flavour"`
	Points    []Point          `json:"points"`
	Exclusion *Exclusion       `json:"exclusion,omitempty"`
	Peak      float64          `json:"peak_events"`
	BRVisible float64          `json:"br_visible"`
	Kappa     float64          `json:"kappa"`
	Warnings  []core.Warning   `json:"warnings"`
	Groups    []GroupSummary   `json:"groups,omitempty"`
	Samples   []string         `json:"samples"`
	NHits     int              `json:"n_hits"`
	NRows     int              `json:"n_rows"`
	Duration  time.Duration    `json:"duration"`
}

// GroupSummary describes one (normalization key, qcd mode) contribution at
// the peak of the scan
type GroupSummary struct {
	Key     string  `json:"key"`
	QCDMode string  `json:"qcd_mode"`
	Events  int     `json:"events"`
	Hits    int     `json:"hits"`
	SigmaPB float64 `json:"sigma_pb"`
	BR      float64 `json:"br"`
	MeanEff float64 `json:"mean_eff"`
	MaxEff  float64 `json:"max_eff"`
	P90Eff  float64 `json:"p90_eff"`
}
