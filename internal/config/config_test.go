package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llpaccept/domain/geometry"
	"llpaccept/domain/scan"
	"llpaccept/internal/errors"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "tube", cfg.Geometry.Model)
	assert.Equal(t, 3000.0, cfg.Scan.LumiFb)
	assert.Len(t, cfg.Grid(), 100)
	assert.InDelta(t, scan.DefaultThreshold, cfg.Threshold(), 1e-3)

	sel, err := cfg.ScanSelection()
	require.NoError(t, err)
	assert.InDelta(t, 1e-3, sel.SeparationM, 1e-15)
	assert.Equal(t, scan.DecayModeLibrary, sel.Mode)
	assert.Equal(t, geometry.DefaultConfig(), cfg.GeometryModel())
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GEOMETRY_MODEL", "Profile")
	t.Setenv("SEPARATION_MM", "0.5")
	t.Setenv("DECAY_MODE", "brvis-kappa")
	t.Setenv("LUMI_FB", "300")
	t.Setenv("EPS2_POINTS", "20")
	t.Setenv("DIRAC", "true")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, geometry.ModelProfile, cfg.GeometryModel().Model)
	assert.Len(t, cfg.Grid(), 20)
	sel, err := cfg.ScanSelection()
	require.NoError(t, err)
	assert.Equal(t, scan.DecayModeCalibrated, sel.Mode)
	assert.InDelta(t, 5e-4, sel.SeparationM, 1e-15)
	assert.True(t, sel.Dirac)
}

func TestFromEnvRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		code string
	}{
		{"unknown model", "GEOMETRY_MODEL", "sphere", errors.CodeConfigInvalid},
		{"negative lumi", "LUMI_FB", "-1", errors.CodeConfigInvalid},
		{"reco above one", "RECO_EFFICIENCY", "1.5", errors.CodeConfigInvalid},
		{"inverted grid", "EPS2_MIN_EXP", "0", errors.CodeConfigInvalid},
		{"bad log format", "LOG_FORMAT", "xml", errors.CodeConfigInvalid},
		{"too few segments", "GEOMETRY_SEGMENTS", "4", errors.CodeGeometryInvalid},
		{"max below min separation", "MAX_SEPARATION_MM", "0.5", errors.CodeConfigInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := FromEnv()
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}
