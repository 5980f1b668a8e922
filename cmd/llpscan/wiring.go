package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"

	"llpaccept/adapters/cache"
	decayadapter "llpaccept/adapters/decay"
	"llpaccept/adapters/excel"
	"llpaccept/adapters/oracle"
	"llpaccept/adapters/raytrace"
	"llpaccept/adapters/rng"
	"llpaccept/adapters/samples"
	"llpaccept/adapters/sqlite"
	"llpaccept/app"
	"llpaccept/domain/geometry"
	"llpaccept/domain/scan"
	"llpaccept/internal"
	"llpaccept/internal/config"
)

// runtimeEnv holds the objects shared by every command
type runtimeEnv struct {
	cfg    *config.Config
	logger *internal.Logger
	mesh   *geometry.Mesh
	tracer *raytrace.Intersector
	db     *sqlx.DB
}

func newRuntimeEnv(cfg *config.Config) (*runtimeEnv, error) {
	logger := internal.NewLogger(internal.ParseLogLevel(cfg.Runtime.LogLevel), cfg.Runtime.LogFormat)
	mesh, err := geometry.Build(cfg.GeometryModel())
	if err != nil {
		return nil, err
	}
	tracer := raytrace.New(mesh,
		raytrace.WithBatchSize(cfg.Runtime.RayBatchSize),
		raytrace.WithWorkers(cfg.Runtime.Workers),
		raytrace.WithLogger(logger),
	)
	return &runtimeEnv{cfg: cfg, logger: logger, mesh: mesh, tracer: tracer}, nil
}

func (e *runtimeEnv) close() {
	if e.db != nil {
		_ = e.db.Close()
	}
	_ = e.logger.Sync()
}

func (e *runtimeEnv) catalog() *samples.DirCatalog {
	return samples.NewDirCatalog(e.cfg.Paths.SampleDir,
		samples.WithAllowLegacyTau(e.cfg.Overlap.AllowLegacyTau),
		samples.WithHardSliced(e.cfg.Overlap.IncludeHardSliced),
		samples.WithCatalogLogger(e.logger),
	)
}

func (e *runtimeEnv) reader() *samples.CSVReader {
	return samples.NewCSVReader(0, e.logger)
}

func (e *runtimeEnv) traceCache() (*cache.TraceCache, error) {
	return cache.NewTraceCache(filepath.Join(e.cfg.Paths.CacheDir, "geometry"), e.logger)
}

func (e *runtimeEnv) openDB(ctx context.Context) (*sqlx.DB, error) {
	if e.db != nil {
		return e.db, nil
	}
	if dir := filepath.Dir(e.cfg.Paths.ResultsDB); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create results dir: %w", err)
		}
	}
	db, err := sqlite.Open(ctx, e.cfg.Paths.ResultsDB)
	if err != nil {
		return nil, err
	}
	e.db = db
	return db, nil
}

// scanService wires every adapter the selection's decay mode needs
func (e *runtimeEnv) scanService(ctx context.Context, sel scan.Selection) (*app.ScanService, error) {
	table, err := oracle.LoadTable(e.cfg.Paths.OracleTable)
	if err != nil {
		return nil, fmt.Errorf("load oracle table: %w", err)
	}
	traces, err := e.traceCache()
	if err != nil {
		return nil, err
	}
	db, err := e.openDB(ctx)
	if err != nil {
		return nil, err
	}

	deps := app.ScanDeps{
		Catalog:    e.catalog(),
		Reader:     e.reader(),
		Tracer:     e.tracer,
		TraceCache: traces,
		Oracle:     table,
		Xsec:       oracle.NewStandardCrossSections(),
		Store:      sqlite.NewResultStore(db),
		Logger:     e.logger,
	}
	switch sel.Mode {
	case scan.DecayModeCalibrated:
		if e.cfg.Paths.CalibrationTable == "" {
			return nil, fmt.Errorf("the brvis-kappa decay mode needs CALIBRATION_TABLE")
		}
		deps.Calibration = excel.NewKappaCache(e.logger).Source(e.cfg.Paths.CalibrationTable)
	default:
		deps.Library = decayadapter.NewFileLibrary(e.cfg.Paths.DecayLibraryDir, e.cfg.Paths.ExternalDecayDir,
			decayadapter.WithAllowMassMismatch(decayadapter.AllowMassMismatchFromEnv()),
			decayadapter.WithLibraryLogger(e.logger),
		)
		deps.DecayCache = sqlite.NewDecayCache(db)
		deps.Sampler = decayadapter.NewSampler(rng.NewPCG(), sel.DecaySeed, sel.PMinGeV)
		deps.Evaluator = decayadapter.NewEvaluator(e.tracer, sel)
	}
	return app.NewScanService(deps), nil
}
