package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"llpaccept/domain/core"
	"llpaccept/domain/particle"
	"llpaccept/domain/scan"
	apperrors "llpaccept/internal/errors"
	"llpaccept/ports"
)

// resultStore implements ports.ResultStore
type resultStore struct {
	db *sqlx.DB
}

// NewResultStore creates a results store on db
func NewResultStore(db *sqlx.DB) ports.ResultStore {
	return &resultStore{db: db}
}

// SaveRun inserts or replaces a run manifest
func (s *resultStore) SaveRun(ctx context.Context, run scan.RunManifest) error {
	selectionJSON, err := json.Marshal(run.Selection)
	if err != nil {
		return fmt.Errorf("failed to marshal selection: %w", err)
	}

	query := `INSERT INTO runs (
		run_id, flavour, geometry_tag, selection_json, lumi_fb, threshold, started_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(run_id) DO UPDATE SET
		flavour = excluded.flavour,
		geometry_tag = excluded.geometry_tag,
		selection_json = excluded.selection_json,
		lumi_fb = excluded.lumi_fb,
		threshold = excluded.threshold,
		started_at = excluded.started_at`

	_, err = s.db.ExecContext(ctx, query,
		run.RunID.String(), string(run.Flavour), run.GeometryTag.String(), string(selectionJSON),
		run.LumiFb, run.Threshold, run.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun retrieves a run manifest by id
func (s *resultStore) GetRun(ctx context.Context, runID core.RunID) (*scan.RunManifest, error) {
	var row struct {
		RunID         string  `db:"run_id"`
		Flavour       string  `db:"flavour"`
		GeometryTag   string  `db:"geometry_tag"`
		SelectionJSON string  `db:"selection_json"`
		LumiFb        float64 `db:"lumi_fb"`
		Threshold     float64 `db:"threshold"`
		StartedAt     int64   `db:"started_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT run_id, flavour, geometry_tag, selection_json, lumi_fb, threshold, started_at
		FROM runs WHERE run_id = ?`, runID.String())
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFound(fmt.Sprintf("run %s", runID))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	run := &scan.RunManifest{
		RunID:     core.RunID(row.RunID),
		LumiFb:    row.LumiFb,
		Threshold: row.Threshold,
		StartedAt: time.Unix(0, row.StartedAt).UTC(),
	}
	run.Flavour = particle.Flavour(row.Flavour)
	run.GeometryTag = core.GeometryTag(row.GeometryTag)
	if err := json.Unmarshal([]byte(row.SelectionJSON), &run.Selection); err != nil {
		return nil, fmt.Errorf("failed to unmarshal selection: %w", err)
	}
	return run, nil
}

// SaveMassResult inserts or replaces the result at one mass
func (s *resultStore) SaveMassResult(ctx context.Context, runID core.RunID, result scan.MassResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal mass result: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO mass_results (run_id, mass_gev, peak_events, is_excluded, result_json)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, mass_gev) DO UPDATE SET
			peak_events = excluded.peak_events,
			is_excluded = excluded.is_excluded,
			result_json = excluded.result_json`,
		runID.String(), result.MassGeV, result.Peak, result.Exclusion != nil, string(payload))
	if err != nil {
		return fmt.Errorf("failed to save mass result at %.3f GeV: %w", result.MassGeV, err)
	}
	return nil
}

// ListMassResults returns the results of a run ordered by mass
func (s *resultStore) ListMassResults(ctx context.Context, runID core.RunID) ([]scan.MassResult, error) {
	var payloads []string
	err := s.db.SelectContext(ctx, &payloads,
		`SELECT result_json FROM mass_results WHERE run_id = ? ORDER BY mass_gev`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query mass results: %w", err)
	}

	out := make([]scan.MassResult, 0, len(payloads))
	for _, p := range payloads {
		var r scan.MassResult
		if err := json.Unmarshal([]byte(p), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal mass result: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}
