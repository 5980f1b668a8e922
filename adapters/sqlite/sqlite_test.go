package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
	apperrors "llpaccept/internal/errors"
	"llpaccept/internal/metrics"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "llp.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchema(t *testing.T) {
	db := openTestDB(t)

	var tables []string
	require.NoError(t, db.Select(&tables, `SELECT name FROM sqlite_master WHERE type='table' ORDER BY name`))
	assert.Subset(t, tables, []string{"decay_cache_entries", "decay_samples", "runs", "mass_results", "schema_migrations"})
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llp.db")
	db1, err := Open(context.Background(), path)
	require.NoError(t, err)
	db1.Close()

	db2, err := Open(context.Background(), path)
	require.NoError(t, err)
	db2.Close()
}

func TestDecayCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := NewDecayCache(openTestDB(t))
	key := core.CacheKey("abc")

	_, found, err := cache.Load(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	samples := []decay.AcceptanceSample{
		{Row: 3, DecayU: 0.25, Directions: []r3.Vec{{X: 0, Y: 0, Z: 1}, {X: 1, Y: 0, Z: 0}}},
		{Row: 7, DecayU: 0.75},
	}
	require.NoError(t, cache.Store(ctx, key, samples))

	got, found, err := cache.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, samples, got)

	// replacing drops the previous rows
	require.NoError(t, cache.Store(ctx, key, samples[:1]))
	got, found, err = cache.Load(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got, 1)
}

func TestDecayCacheEmptyEntryIsHit(t *testing.T) {
	ctx := context.Background()
	cache := NewDecayCache(openTestDB(t))
	require.NoError(t, cache.Store(ctx, "empty", nil))

	got, found, err := cache.Load(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, got)
}

func TestDecayCacheRecordsEachLookupOnce(t *testing.T) {
	ctx := context.Background()
	cache := NewDecayCache(openTestDB(t))
	hits := metrics.CacheLookups.WithLabelValues("decay", "hit")
	misses := metrics.CacheLookups.WithLabelValues("decay", "miss")
	beforeHit, beforeMiss := testutil.ToFloat64(hits), testutil.ToFloat64(misses)

	_, _, err := cache.Load(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, cache.Store(ctx, "k", []decay.AcceptanceSample{{Row: 0, DecayU: 0.5}}))
	_, _, err = cache.Load(ctx, "k")
	require.NoError(t, err)

	assert.Equal(t, beforeHit+1, testutil.ToFloat64(hits))
	assert.Equal(t, beforeMiss+1, testutil.ToFloat64(misses))
}

func TestDecayCacheFailuresAreCacheErrors(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	cache := NewDecayCache(db)
	require.NoError(t, db.Close())

	_, _, err := cache.Load(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCacheError, apperrors.GetCode(err))

	err = cache.Store(ctx, "k", nil)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeCacheError, apperrors.GetCode(err))
}

func TestResultStore(t *testing.T) {
	ctx := context.Background()
	store := NewResultStore(openTestDB(t))

	run := scan.RunManifest{
		RunID:       core.NewRunID(),
		Flavour:     particle.FlavourMuon,
		GeometryTag: "tag",
		Selection:   scan.Selection{SeparationM: 0.001, PMinGeV: 0.6, Policy: scan.PolicyAllPairsMin, Mode: scan.DecayModeLibrary},
		LumiFb:      3000,
		Threshold:   scan.DefaultThreshold,
		StartedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, run, *got)

	heavy := scan.MassResult{MassGeV: 2.0, Flavour: particle.FlavourMuon, Peak: 10,
		Points:    []scan.Point{{Eps2: 1e-6, CtauM: 1, ExpectedEvents: 10}},
		Exclusion: &scan.Exclusion{Lo: 0, Hi: 0, Eps2Lo: 1e-6, Eps2Hi: 1e-6, Eps2Min: 1e-6, Eps2Max: 1e-6, Bounded: true}}
	light := scan.MassResult{MassGeV: 1.0, Flavour: particle.FlavourMuon,
		Warnings: []core.Warning{{Code: core.WarnMissingBR, Message: "no BR for 999", Count: 4}}}
	require.NoError(t, store.SaveMassResult(ctx, run.RunID, heavy))
	require.NoError(t, store.SaveMassResult(ctx, run.RunID, light))

	// upsert replaces
	light.Peak = 0.5
	require.NoError(t, store.SaveMassResult(ctx, run.RunID, light))

	results, err := store.ListMassResults(ctx, run.RunID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 1.0, results[0].MassGeV)
	assert.Equal(t, 0.5, results[0].Peak)
	assert.Equal(t, light.Warnings, results[0].Warnings)
	assert.Equal(t, heavy.Exclusion, results[1].Exclusion)
}

func TestGetRunMissing(t *testing.T) {
	_, err := NewResultStore(openTestDB(t)).GetRun(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.GetCode(err))
}
