package geometry

import (
	"fmt"
	"math"
	"strings"

	"llpaccept/domain/core"
)

// Model selects the detector cross-section shape
type Model string

const (
	ModelTube    Model = "tube"
	ModelProfile Model = "profile"
)

// Defaults for the drainage-gallery detector
const (
	DefaultTubeRadiusM        = 1.4 * 1.1
	DefaultDetectorThicknessM = 0.24
	DefaultSegments           = 32
	MinSegments               = 8
)

// ParseModel maps a user string onto a known model
func ParseModel(s string) (Model, error) {
	switch Model(strings.ToLower(strings.TrimSpace(s))) {
	case ModelTube, "":
		return ModelTube, nil
	case ModelProfile:
		return ModelProfile, nil
	default:
		return "", core.NewGeometryError("model", fmt.Sprintf("unknown model %q (use tube or profile)", s))
	}
}

// Config is the detector geometry parameter set.
//
// TubeRadiusM is the circular radius for the tube model and the outer
// half-width of the horseshoe for the profile model. DetectorThicknessM and
// InsetFloor only apply to the profile model.
type Config struct {
	Model              Model   `json:"model"`
	TubeRadiusM        float64 `json:"tube_radius_m"`
	DetectorThicknessM float64 `json:"detector_thickness_m"`
	InsetFloor         bool    `json:"inset_floor"`
	Segments           int     `json:"segments"`
}

// DefaultConfig returns the normalized default tube geometry
func DefaultConfig() Config {
	return Normalize(Config{Model: ModelTube})
}

// Normalize canonicalizes a config: unused fields are reset and zero
// values take the model defaults. Normalize(Normalize(c)) == Normalize(c).
func Normalize(c Config) Config {
	out := c
	if out.Model == "" {
		out.Model = ModelTube
	}
	if out.TubeRadiusM == 0 {
		out.TubeRadiusM = DefaultTubeRadiusM
	}
	if out.Segments == 0 {
		out.Segments = DefaultSegments
	}
	switch out.Model {
	case ModelTube:
		out.DetectorThicknessM = 0
		out.InsetFloor = false
	case ModelProfile:
		if out.DetectorThicknessM == 0 {
			out.DetectorThicknessM = DefaultDetectorThicknessM
		}
	}
	return out
}

// MaxInsetM is the largest thickness the profile can be inset by before the
// inner cross-section collapses onto itself.
func MaxInsetM(c Config) float64 {
	return c.TubeRadiusM
}

// Validate rejects configs that cannot produce a closed mesh
func Validate(c Config) error {
	switch c.Model {
	case ModelTube, ModelProfile:
	default:
		return core.NewGeometryError("model", fmt.Sprintf("unknown model %q", c.Model))
	}
	if !isPositiveFinite(c.TubeRadiusM) {
		return core.NewGeometryError("tube_radius_m", fmt.Sprintf("must be positive and finite, got %v", c.TubeRadiusM))
	}
	if c.Segments < MinSegments {
		return core.NewGeometryError("segments", fmt.Sprintf("must be >= %d, got %d", MinSegments, c.Segments))
	}
	if c.Model == ModelProfile {
		if !isPositiveFinite(c.DetectorThicknessM) {
			return core.NewGeometryError("detector_thickness_m", fmt.Sprintf("must be positive and finite, got %v", c.DetectorThicknessM))
		}
		if bound := MaxInsetM(c); c.DetectorThicknessM >= bound {
			return core.NewGeometryError("detector_thickness_m",
				fmt.Sprintf("%.4f m must be < %.4f m or the profile self-intersects", c.DetectorThicknessM, bound))
		}
	}
	return nil
}

// Tag returns the content hash of the normalized config, prefixed by model
func Tag(c Config) core.GeometryTag {
	n := Normalize(c)
	h := core.ComputeFieldsHash(map[string]interface{}{
		"model":       string(n.Model),
		"radius":      fmt.Sprintf("%.9g", n.TubeRadiusM),
		"thickness":   fmt.Sprintf("%.9g", n.DetectorThicknessM),
		"inset_floor": n.InsetFloor,
		"segments":    n.Segments,
	})
	return core.GeometryTag(fmt.Sprintf("%s_%s", n.Model, h.Short(8)))
}

// IsDefault reports whether c normalizes to the default geometry
func IsDefault(c Config) bool {
	return Normalize(c) == DefaultConfig()
}

func isPositiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
