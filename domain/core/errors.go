package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Configuration errors
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrInvalidGeometry     = fmt.Errorf("%w: geometry", ErrInvalidConfig)
	ErrInvalidSelection    = fmt.Errorf("%w: selection", ErrInvalidConfig)
	ErrCalibrationMismatch = fmt.Errorf("%w: calibration table does not match run cuts", ErrInvalidConfig)
	ErrMissingSigmaGen     = fmt.Errorf("%w: hard-QCD sample without sigma_gen_pb", ErrInvalidConfig)

	// Data errors
	ErrMalformedSample   = errors.New("malformed production sample")
	ErrMissingTauParent  = fmt.Errorf("%w: tau-parent rows without grandparent", ErrMalformedSample)
	ErrNoDecayCatalog    = errors.New("no decay catalog available")
	ErrDecayMassMismatch = errors.New("decay catalog mass mismatch")
	ErrOutOfRange        = errors.New("value outside tabulated range")
	ErrOracleUnavailable = errors.New("physics oracle has no entry")

	// Invariant errors
	ErrDoubleCounting = errors.New("normalization key owned by more than one sample")
	ErrLowStatistics  = errors.New("owned event count below floor")

	// Transient geometry errors
	ErrRetryableIntersection = errors.New("retryable intersection failure")
)

// Error constructors with context
func NewGeometryError(field string, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidGeometry, field, reason)
}

func NewSelectionError(field string, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidSelection, field, reason)
}

func NewDoubleCountingError(key string, owners int) error {
	return fmt.Errorf("%w: %s has %d owners", ErrDoubleCounting, key, owners)
}

// Error checking helpers
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}

func IsInvariantError(err error) bool {
	return errors.Is(err, ErrDoubleCounting)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrRetryableIntersection)
}
