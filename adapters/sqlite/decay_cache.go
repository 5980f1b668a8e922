package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"gonum.org/v1/gonum/spatial/r3"

	"llpaccept/domain/core"
	"llpaccept/domain/decay"
	apperrors "llpaccept/internal/errors"
	"llpaccept/internal/metrics"
	"llpaccept/ports"
)

// decayCache implements ports.DecaySampleCache
type decayCache struct {
	db *sqlx.DB
}

// NewDecayCache creates a decay-sample cache on db
func NewDecayCache(db *sqlx.DB) ports.DecaySampleCache {
	return &decayCache{db: db}
}

type sampleRow struct {
	RowIdx         int     `db:"row_idx"`
	DecayU         float64 `db:"decay_u"`
	DirectionsJSON string  `db:"directions_json"`
}

// Load returns the samples stored under key. An entry stored with zero
// samples is a hit.
func (c *decayCache) Load(ctx context.Context, key core.CacheKey) ([]decay.AcceptanceSample, bool, error) {
	var n int
	err := c.db.GetContext(ctx, &n, `SELECT n_samples FROM decay_cache_entries WHERE cache_key = ?`, key.String())
	if err == sql.ErrNoRows {
		metrics.RecordCache("decay", false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.CacheError("failed to query decay cache", err)
	}

	var rows []sampleRow
	err = c.db.SelectContext(ctx, &rows,
		`SELECT row_idx, decay_u, directions_json FROM decay_samples WHERE cache_key = ? ORDER BY row_idx`, key.String())
	if err != nil {
		return nil, false, apperrors.CacheError("failed to load decay samples", err)
	}
	if len(rows) != n {
		// partial entry from an interrupted writer
		metrics.RecordCache("decay", false)
		return nil, false, nil
	}

	out := make([]decay.AcceptanceSample, len(rows))
	for i, row := range rows {
		var dirs [][3]float64
		if err := json.Unmarshal([]byte(row.DirectionsJSON), &dirs); err != nil {
			return nil, false, apperrors.CacheError(fmt.Sprintf("failed to decode directions for row %d", row.RowIdx), err)
		}
		s := decay.AcceptanceSample{Row: row.RowIdx, DecayU: row.DecayU}
		if len(dirs) > 0 {
			s.Directions = make([]r3.Vec, len(dirs))
			for j, d := range dirs {
				s.Directions[j] = r3.Vec{X: d[0], Y: d[1], Z: d[2]}
			}
		}
		out[i] = s
	}
	metrics.RecordCache("decay", true)
	return out, true, nil
}

// Store replaces the samples under key in one transaction
func (c *decayCache) Store(ctx context.Context, key core.CacheKey, samples []decay.AcceptanceSample) error {
	if err := c.store(ctx, key, samples); err != nil {
		return apperrors.CacheError("failed to store decay samples", err)
	}
	return nil
}

func (c *decayCache) store(ctx context.Context, key core.CacheKey, samples []decay.AcceptanceSample) error {
	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM decay_samples WHERE cache_key = ?`, key.String()); err != nil {
		return fmt.Errorf("failed to clear decay samples: %w", err)
	}

	stmt, err := tx.PreparexContext(ctx,
		`INSERT INTO decay_samples (cache_key, row_idx, decay_u, directions_json) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range samples {
		dirs := make([][3]float64, len(s.Directions))
		for j, d := range s.Directions {
			dirs[j] = [3]float64{d.X, d.Y, d.Z}
		}
		payload, err := json.Marshal(dirs)
		if err != nil {
			return fmt.Errorf("failed to encode directions: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, key.String(), s.Row, s.DecayU, string(payload)); err != nil {
			return fmt.Errorf("failed to insert decay sample %d: %w", s.Row, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO decay_cache_entries (cache_key, n_samples, created_at) VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET n_samples = excluded.n_samples, created_at = excluded.created_at`,
		key.String(), len(samples), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to record decay cache entry: %w", err)
	}
	return tx.Commit()
}
