package plant

import (
	"errors"
	"fmt"
)

// Configuration errors.
var (
	// ErrMissingModel indicates the plant model matrices were not supplied.
	ErrMissingModel = errors.New("plant: plant model not set")

	// ErrMissingDisturbance indicates the disturbance input map was not supplied.
	ErrMissingDisturbance = errors.New("plant: disturbance model not set")

	// ErrMissingCost indicates the cost matrices were not supplied.
	ErrMissingCost = errors.New("plant: cost model not set")

	// ErrDimensionMismatch indicates matrices with inconsistent shapes.
	ErrDimensionMismatch = errors.New("plant: dimension mismatch")

	// ErrNoFeedbackLaw indicates the feedback laws are absent and no
	// synthesizer was provided to compute them.
	ErrNoFeedbackLaw = errors.New("plant: feedback law not computed and no synthesizer available")

	// ErrNonFinite indicates a matrix containing NaN or Inf entries.
	ErrNonFinite = errors.New("plant: matrix contains NaN or Inf")
)

// DimensionError reports which matrix had the wrong shape.
type DimensionError struct {
	Matrix     string
	Rows, Cols int
	WantRows   int
	WantCols   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("plant: %s is %dx%d, want %dx%d", e.Matrix, e.Rows, e.Cols, e.WantRows, e.WantCols)
}

func (e *DimensionError) Unwrap() error {
	return ErrDimensionMismatch
}
