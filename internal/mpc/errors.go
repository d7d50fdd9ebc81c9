package mpc

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidHorizon indicates a horizon below one step.
	ErrInvalidHorizon = errors.New("mpc: horizon must be at least 1")

	// ErrReferenceRequired indicates Solve was called on a tracking controller.
	ErrReferenceRequired = errors.New("mpc: tracking controller requires a reference trajectory")

	// ErrTrackingDisabled indicates SolveTracking was called on a controller
	// generated without a reference model.
	ErrTrackingDisabled = errors.New("mpc: controller was generated without a reference model")

	// ErrStateDimension indicates an initial state of the wrong length.
	ErrStateDimension = errors.New("mpc: initial state has wrong dimension")
)

// SolveError wraps a failure of the numeric solver.
type SolveError struct {
	X0  []float64
	Err error
}

func (e *SolveError) Error() string {
	return fmt.Sprintf("mpc: solve from %v: %v", e.X0, e.Err)
}

func (e *SolveError) Unwrap() error {
	return e.Err
}
