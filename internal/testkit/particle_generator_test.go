package testkit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParticleGeneratorDeterministic(t *testing.T) {
	cfg := DefaultParticleConfig()
	a := NewParticleGenerator(cfg).Generate()
	b := NewParticleGenerator(cfg).Generate()
	require.Len(t, a, cfg.Count)
	assert.Equal(t, a[17].Eta, b[17].Eta)
	assert.Equal(t, a[17].Momentum, b[17].Momentum)

	cfg.Seed = 7
	c := NewParticleGenerator(cfg).Generate()
	assert.NotEqual(t, a[17].Eta, c[17].Eta)
}

func TestParticleGeneratorRanges(t *testing.T) {
	cfg := DefaultParticleConfig()
	cfg.Parents = []int{421, 15}
	for _, r := range NewParticleGenerator(cfg).Generate() {
		assert.GreaterOrEqual(t, r.Eta, cfg.EtaMin)
		assert.LessOrEqual(t, r.Eta, cfg.EtaMax)
		assert.Greater(t, r.BetaGamma, 0.0)
		if r.ParentPDG == 15 {
			assert.Equal(t, cfg.TauParentPDG, r.TauParentPDG)
		} else {
			assert.Zero(t, r.TauParentPDG)
		}
	}
}

func TestWriteCSV(t *testing.T) {
	cfg := DefaultParticleConfig()
	cfg.Count = 3
	path := filepath.Join(t.TempDir(), "HNL_1p00GeV_muon_charm.csv")
	require.NoError(t, WriteCSV(path, NewParticleGenerator(cfg).Generate()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "event,weight,parent_id"))
	assert.Contains(t, lines[1], ",auto,")
}
