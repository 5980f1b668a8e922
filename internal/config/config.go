package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"llpaccept/domain/geometry"
	"llpaccept/domain/scan"
	"llpaccept/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	Paths     PathConfig      `validate:"required"`
	Geometry  GeometryConfig  `validate:"required"`
	Selection SelectionConfig `validate:"required"`
	Scan      ScanConfig      `validate:"required"`
	Overlap   OverlapConfig
	Runtime   RuntimeConfig `validate:"required"`
}

// PathConfig holds file system paths
type PathConfig struct {
	SampleDir        string `validate:"required"`
	CacheDir         string `validate:"required"`
	DecayLibraryDir  string
	ExternalDecayDir string
	OracleTable      string
	CalibrationTable string
	ResultsDB        string `validate:"required"`
}

// GeometryConfig holds the detector shape parameters
type GeometryConfig struct {
	Model              string  `validate:"oneof=tube profile"`
	TubeRadiusM        float64 `validate:"gte=0"`
	DetectorThicknessM float64 `validate:"gte=0"`
	InsetFloor         bool
	Segments           int `validate:"gte=0"`
}

// SelectionConfig holds the reconstruction cuts
type SelectionConfig struct {
	SeparationMM     float64 `validate:"gt=0"`
	MaxSeparationMM  float64 `validate:"gte=0"` // 0 disables the upper bound
	Policy           string  `validate:"oneof=all-pairs-min any-pair-window"`
	PMinGeV          float64 `validate:"gte=0"`
	DecaySeed        int64
	DecayMode        string `validate:"oneof=library brvis_kappa brvis-kappa"`
	StaticSeparation bool
	RecoEfficiency   float64 `validate:"gt=0,lte=1"`
	Dirac            bool
}

// ScanConfig holds the coupling grid and statistics settings
type ScanConfig struct {
	Eps2MinExp      float64 `validate:"ltfield=Eps2MaxExp"`
	Eps2MaxExp      float64
	Points          int     `validate:"gte=2"`
	LumiFb          float64 `validate:"gt=0"`
	ConfidenceLevel float64 `validate:"gt=0,lt=1"`
}

// OverlapConfig holds the sample aggregation settings
type OverlapConfig struct {
	MinEventsPerMass  int `validate:"gte=0"`
	Strict            bool
	AllowVariantDrop  bool
	AllowLegacyTau    bool
	IncludeHardSliced bool
}

// RuntimeConfig holds concurrency and logging settings
type RuntimeConfig struct {
	Workers      int    `validate:"gte=1"`
	RayBatchSize int    `validate:"gte=1"`
	LogLevel     string `validate:"oneof=error warn info debug trace"`
	LogFormat    string `validate:"oneof=console json"`
}

// Load reads an optional .env file, then configuration from environment
// variables, and validates it
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads configuration from environment variables only
func FromEnv() (*Config, error) {
	config := &Config{
		Paths:     *loadPathConfig(),
		Geometry:  *loadGeometryConfig(),
		Selection: *loadSelectionConfig(),
		Scan:      *loadScanConfig(),
		Overlap:   *loadOverlapConfig(),
		Runtime:   *loadRuntimeConfig(),
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "configuration validation failed")
	}
	return config, nil
}

func loadPathConfig() *PathConfig {
	return &PathConfig{
		SampleDir:        getEnvOrDefault("SAMPLE_DIR", "output/csv/simulation"),
		CacheDir:         getEnvOrDefault("CACHE_DIR", "output/cache"),
		DecayLibraryDir:  getEnvOrDefault("DECAY_LIBRARY_DIR", "output/decay/generated"),
		ExternalDecayDir: getEnvOrDefault("DECAY_EXTERNAL_DIR", "output/decay/external"),
		OracleTable:      getEnvOrDefault("ORACLE_TABLE", "output/oracle.json"),
		CalibrationTable: getEnvOrDefault("CALIBRATION_TABLE", ""),
		ResultsDB:        getEnvOrDefault("RESULTS_DB", "output/llpscan.db"),
	}
}

func loadGeometryConfig() *GeometryConfig {
	return &GeometryConfig{
		Model:              strings.ToLower(getEnvOrDefault("GEOMETRY_MODEL", string(geometry.ModelTube))),
		TubeRadiusM:        getEnvFloatOrDefault("TUBE_RADIUS_M", geometry.DefaultTubeRadiusM),
		DetectorThicknessM: getEnvFloatOrDefault("DETECTOR_THICKNESS_M", geometry.DefaultDetectorThicknessM),
		InsetFloor:         getEnvBoolOrDefault("INSET_FLOOR", false),
		Segments:           getEnvIntOrDefault("GEOMETRY_SEGMENTS", geometry.DefaultSegments),
	}
}

func loadSelectionConfig() *SelectionConfig {
	def := scan.DefaultSelection()
	return &SelectionConfig{
		SeparationMM:     getEnvFloatOrDefault("SEPARATION_MM", def.SeparationM*1e3),
		MaxSeparationMM:  getEnvFloatOrDefault("MAX_SEPARATION_MM", 0),
		Policy:           getEnvOrDefault("SEPARATION_POLICY", string(def.Policy)),
		PMinGeV:          getEnvFloatOrDefault("P_MIN_GEV", def.PMinGeV),
		DecaySeed:        int64(getEnvIntOrDefault("DECAY_SEED", int(def.DecaySeed))),
		DecayMode:        getEnvOrDefault("DECAY_MODE", string(def.Mode)),
		StaticSeparation: getEnvBoolOrDefault("STATIC_SEPARATION", false),
		RecoEfficiency:   getEnvFloatOrDefault("RECO_EFFICIENCY", def.RecoEfficiency),
		Dirac:            getEnvBoolOrDefault("DIRAC", false),
	}
}

func loadScanConfig() *ScanConfig {
	return &ScanConfig{
		Eps2MinExp:      getEnvFloatOrDefault("EPS2_MIN_EXP", -12),
		Eps2MaxExp:      getEnvFloatOrDefault("EPS2_MAX_EXP", -2),
		Points:          getEnvIntOrDefault("EPS2_POINTS", 100),
		LumiFb:          getEnvFloatOrDefault("LUMI_FB", 3000),
		ConfidenceLevel: getEnvFloatOrDefault("CONFIDENCE_LEVEL", 0.95),
	}
}

func loadOverlapConfig() *OverlapConfig {
	return &OverlapConfig{
		MinEventsPerMass:  getEnvIntOrDefault("MIN_EVENTS_PER_MASS", 0),
		Strict:            getEnvBoolOrDefault("OVERLAP_STRICT", false),
		AllowVariantDrop:  getEnvBoolOrDefault("ALLOW_VARIANT_DROP", false),
		AllowLegacyTau:    getEnvBoolOrDefault("ALLOW_LEGACY_TAU", false),
		IncludeHardSliced: getEnvBoolOrDefault("INCLUDE_HARD_SLICED", false),
	}
}

func loadRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Workers:      getEnvIntOrDefault("WORKERS", runtime.NumCPU()),
		RayBatchSize: getEnvIntOrDefault("RAY_BATCH_SIZE", 10000),
		LogLevel:     strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(getEnvOrDefault("LOG_FORMAT", "console")),
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct tags and the cut and geometry combinations
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.ConfigInvalid(describeValidation(err))
	}
	if err := geometry.Validate(c.GeometryModel()); err != nil {
		return errors.WithCode(errors.CodeGeometryInvalid, err)
	}
	sel, err := c.ScanSelection()
	if err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	if err := sel.Validate(); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, err)
	}
	return nil
}

func describeValidation(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return strings.Join(parts, "; ")
}

// GeometryModel returns the normalized detector geometry
func (c *Config) GeometryModel() geometry.Config {
	return geometry.Normalize(geometry.Config{
		Model:              geometry.Model(c.Geometry.Model),
		TubeRadiusM:        c.Geometry.TubeRadiusM,
		DetectorThicknessM: c.Geometry.DetectorThicknessM,
		InsetFloor:         c.Geometry.InsetFloor,
		Segments:           c.Geometry.Segments,
	})
}

// ScanSelection converts the selection section into run cuts in metres
func (c *Config) ScanSelection() (scan.Selection, error) {
	policy, err := scan.ParsePolicy(c.Selection.Policy)
	if err != nil {
		return scan.Selection{}, err
	}
	mode, err := scan.ParseDecayMode(c.Selection.DecayMode)
	if err != nil {
		return scan.Selection{}, err
	}
	return scan.Selection{
		SeparationM:      c.Selection.SeparationMM * 1e-3,
		MaxSeparationM:   c.Selection.MaxSeparationMM * 1e-3,
		Policy:           policy,
		PMinGeV:          c.Selection.PMinGeV,
		DecaySeed:        c.Selection.DecaySeed,
		Mode:             mode,
		StaticSeparation: c.Selection.StaticSeparation,
		RecoEfficiency:   c.Selection.RecoEfficiency,
		Dirac:            c.Selection.Dirac,
	}, nil
}

// Grid returns the log-spaced coupling grid
func (c *Config) Grid() []float64 {
	return scan.LogGrid(c.Scan.Eps2MinExp, c.Scan.Eps2MaxExp, c.Scan.Points)
}

// Threshold returns the zero-background event threshold at the configured CL
func (c *Config) Threshold() float64 {
	return scan.PoissonThreshold(c.Scan.ConfidenceLevel)
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
