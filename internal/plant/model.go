// Package plant describes the linear, disturbance-affected plant a tube
// controller is generated for:
//
//	x[k+1] = A x[k] + B u[k] + Br r[k] + Bw w[k]
//	y[k]   = C x[k] + D u[k] + Dr r[k]
//
// together with its cost weights, constraint set and the feedback laws
// produced by an external [Synthesizer].
//
// A [Config] can only be obtained through [NewConfig], which requires the
// plant, disturbance and cost models and validates every dimension once.
package plant

import (
	"gonum.org/v1/gonum/mat"
)

// DefaultSlackWeight is the slack penalty used by soft constraint sets that
// leave SlackWeight unset.
const DefaultSlackWeight = 1e3

// Model holds the nominal state-space matrices.
type Model struct {
	// State transition A (nx x nx).
	A *mat.Dense
	// Control input map B (nx x nu).
	B *mat.Dense
	// Output-state map C (ny x nx).
	C *mat.Dense
	// Output-control map D (ny x nu).
	D *mat.Dense
}

// Disturbance holds the disturbance input map Bw (nx x nw).
type Disturbance struct {
	Bw *mat.Dense
}

// Reference holds the reference input maps. A configuration with a
// reference model generates a tracking controller.
type Reference struct {
	// Reference-input map Br (nx x nr).
	Br *mat.Dense
	// Output-reference map Dr (ny x nr).
	Dr *mat.Dense
}

// Cost holds the weights handed to gain synthesis.
type Cost struct {
	Q *mat.Dense
	R *mat.Dense
}

// Primary is the stabilizing feedback law applied to the plant,
// u = -K x - Kr r + v, with the companion cost matrices used by the
// horizon objective.
type Primary struct {
	K *mat.Dense
	// Kr is the reference feedforward gain; nil when not tracking.
	Kr *mat.Dense
	// P weights the first predicted state.
	P *mat.Dense
	// R weights the perturbation inputs.
	R *mat.Dense
}

// Auxiliary is the gain used only to model disturbance decay.
type Auxiliary struct {
	K *mat.Dense
}

// ConstraintSet is the polytope F x + G u + Offset <= 0, one row per
// constraint.
type ConstraintSet struct {
	F      *mat.Dense
	G      *mat.Dense
	Offset *mat.VecDense
	// Soft relaxes each row with a nonnegative slack penalised in the
	// objective.
	Soft        bool
	SlackWeight float64
}

// Rows returns the number of constraint rows.
func (cs *ConstraintSet) Rows() int {
	r, _ := cs.F.Dims()
	return r
}

// Weight returns the slack penalty, falling back to DefaultSlackWeight.
func (cs *ConstraintSet) Weight() float64 {
	if cs.SlackWeight <= 0 {
		return DefaultSlackWeight
	}
	return cs.SlackWeight
}

// Dims collects the dimensions shared by every matrix of a configuration.
type Dims struct {
	X int // states
	U int // control inputs
	R int // reference inputs, 0 when not tracking
	W int // disturbance inputs
	Y int // outputs
	C int // constraint rows, 0 when unconstrained
}
