package decay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/internal"
)

const sampleCatalog = `format is E,px,py,pz,mass,pid
event 1
0.5,0.1,0.2,0.3,0.13957,211.0
0.5,-0.1,-0.2,-0.3,0.13957,-211

event 2
1,0,0,0.9,0.1,13
bad,row,x,1,2,3
0.3,0,0,0.2,0.1,16.5
`

func writeCatalogs(t *testing.T, root string, source string, flavour particle.Flavour, names ...string) {
	t.Helper()
	layout := layouts[flavour]
	dir := filepath.Join(root, source, layout.repo, layout.decayDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(sampleCatalog), 0o644))
	}
}

func newLibrary(root string, opts ...LibraryOption) *FileLibrary {
	opts = append([]LibraryOption{WithLibraryLogger(internal.NewNopLogger())}, opts...)
	return NewFileLibrary(filepath.Join(root, "generated"), filepath.Join(root, "external"), opts...)
}

func TestParseEvents(t *testing.T) {
	events, malformed, err := ParseEvents(strings.NewReader(sampleCatalog))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 2, malformed)
	assert.Len(t, events[0], 2)
	assert.Equal(t, 211, events[0][0].PDG)
	assert.Equal(t, -211, events[0][1].PDG)
	assert.Len(t, events[1], 1)
	assert.Equal(t, 13, events[1][0].PDG)
}

func TestParseEventsEmpty(t *testing.T) {
	_, _, err := ParseEvents(strings.NewReader("format is E,px,py,pz,mass,pid\n\n"))
	assert.True(t, errors.Is(err, core.ErrNoDecayCatalog))
}

func TestParsePID(t *testing.T) {
	tests := []struct {
		token   string
		want    int
		wantErr bool
	}{
		{"16", 16, false},
		{"16.0", 16, false},
		{"-211.0000001", -211, false},
		{"16.5", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parsePID(tt.token)
		if tt.wantErr {
			assert.Error(t, err, tt.token)
			continue
		}
		require.NoError(t, err, tt.token)
		assert.Equal(t, tt.want, got)
	}
}

func TestChooseFollowsMassRegimes(t *testing.T) {
	root := t.TempDir()
	writeCatalogs(t, root, "external", particle.FlavourMuon,
		"vN_Umu_inclD_1.0.txt",
		"vN_Umu_analytical2and3bodydecays_0.5.txt",
		"vN_Umu_lightfonly_1.2.txt",
		"vN_Umu_unlisted_1.05.txt",
	)
	writeCatalogs(t, root, "generated", particle.FlavourMuon, "vN_Umu_inclDs_6.0.txt")
	lib := newLibrary(root)

	tests := []struct {
		mass     float64
		wantName string
		wantSrc  decay.Source
	}{
		{0.5, "vN_Umu_analytical2and3bodydecays_0.5.txt", decay.SourceExternal},
		// unlisted category is skipped while a priority category exists
		{1.05, "vN_Umu_inclD_1.0.txt", decay.SourceExternal},
		{6.2, "vN_Umu_inclDs_6.0.txt", decay.SourceGenerated},
	}
	for _, tt := range tests {
		entry, warnings, err := lib.Choose(particle.FlavourMuon, tt.mass)
		require.NoError(t, err, "mass %v", tt.mass)
		assert.Equal(t, tt.wantName, filepath.Base(entry.Path), "mass %v", tt.mass)
		assert.Equal(t, tt.wantSrc, entry.Source, "mass %v", tt.mass)
		assert.Empty(t, warnings)
	}
}

func TestEntriesShadowExternalByGeneratedName(t *testing.T) {
	root := t.TempDir()
	writeCatalogs(t, root, "external", particle.FlavourMuon, "vN_Umu_inclD_1.0.txt")
	writeCatalogs(t, root, "generated", particle.FlavourMuon, "vN_Umu_inclD_1.0.txt", "readme.txt")
	entries, err := newLibrary(root).Entries(particle.FlavourMuon)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, decay.SourceGenerated, entries[0].Source)
	assert.Equal(t, decay.CategoryInclD, entries[0].Category)
}

func TestChooseMassMismatch(t *testing.T) {
	root := t.TempDir()
	writeCatalogs(t, root, "external", particle.FlavourMuon, "vN_Umu_inclD_1.0.txt")

	_, _, err := newLibrary(root).Choose(particle.FlavourMuon, 3.0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrDecayMassMismatch))

	entry, warnings, err := newLibrary(root, WithAllowMassMismatch(true)).Choose(particle.FlavourMuon, 3.0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, entry.MassGeV)
	require.Len(t, warnings, 1)
	assert.Equal(t, core.WarnDecayMassMismatch, warnings[0].Code)
}

func TestChooseFallsBackToGeneratedBelowSwitch(t *testing.T) {
	root := t.TempDir()
	writeCatalogs(t, root, "generated", particle.FlavourElectron, "vN_Ue_inclD_2.0.txt")
	entry, warnings, err := newLibrary(root).Choose(particle.FlavourElectron, 2.2)
	require.NoError(t, err)
	assert.Equal(t, decay.SourceGenerated, entry.Source)
	require.Len(t, warnings, 1)
	assert.Equal(t, core.WarnDecayFallback, warnings[0].Code)
}

func TestChooseRequiresGeneratedAboveSwitch(t *testing.T) {
	root := t.TempDir()
	writeCatalogs(t, root, "external", particle.FlavourTau, "vN_Utau_lightfonly_5.2.txt")
	_, _, err := newLibrary(root).Choose(particle.FlavourTau, 5.2)
	assert.True(t, errors.Is(err, core.ErrNoDecayCatalog))
}

func TestSelectParsesAndCaches(t *testing.T) {
	root := t.TempDir()
	writeCatalogs(t, root, "external", particle.FlavourMuon, "vN_Umu_inclD_1.0.txt")
	lib := newLibrary(root)

	cat, err := lib.Select(context.Background(), particle.FlavourMuon, 1.1)
	require.NoError(t, err)
	assert.Len(t, cat.Events, 2)
	assert.Equal(t, 2, cat.MalformedRows)
	require.Len(t, cat.Warnings, 1)
	assert.Equal(t, core.WarnMalformedDecayRows, cat.Warnings[0].Code)
	assert.Equal(t, 2, cat.Warnings[0].Count)

	again, err := lib.Select(context.Background(), particle.FlavourMuon, 1.1)
	require.NoError(t, err)
	assert.Len(t, again.Warnings, 1)
}

func TestSelectNoFiles(t *testing.T) {
	_, err := newLibrary(t.TempDir()).Select(context.Background(), particle.FlavourTau, 1.0)
	assert.True(t, errors.Is(err, core.ErrNoDecayCatalog))
}

func TestAllowMassMismatchFromEnv(t *testing.T) {
	t.Setenv("HNL_ALLOW_DECAY_MASS_MISMATCH", "Yes")
	assert.True(t, AllowMassMismatchFromEnv())
	t.Setenv("HNL_ALLOW_DECAY_MASS_MISMATCH", "0")
	assert.False(t, AllowMassMismatchFromEnv())
}
