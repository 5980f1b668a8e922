package ports

import (
	"context"

	"llpaccept/domain/core"
	"llpaccept/domain/scan"
)

// ResultStore persists run manifests and per-mass scan results
type ResultStore interface {
	SaveRun(ctx context.Context, run scan.RunManifest) error
	GetRun(ctx context.Context, runID core.RunID) (*scan.RunManifest, error)
	SaveMassResult(ctx context.Context, runID core.RunID, result scan.MassResult) error
	ListMassResults(ctx context.Context, runID core.RunID) ([]scan.MassResult, error)
}
