// Package tube computes the robust tightening of a tube controller: how a
// bounded, state-dependent disturbance entering at one step propagates to
// later outputs and constraint rows over a finite horizon.
//
// Indices are zero-based throughout: step 0 is the current (initial) step.
package tube

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/linalg"
	"github.com/san-kum/tubempc/internal/plant"
)

// Evaluator computes the transition decay sequence
//
//	Decay(i) = ‖(C - D·K) (A - B·Kaux)^i Bw‖₂
//
// with K the primary gain and Kaux the auxiliary gain.
type Evaluator struct {
	out     *mat.Dense
	bw      *mat.Dense
	acl     *mat.Dense
	pow     *linalg.PowerTable
	horizon int
}

// NewEvaluator precomputes the auxiliary closed-loop powers needed for a
// horizon.
func NewEvaluator(m plant.Model, w plant.Disturbance, p plant.Primary, a plant.Auxiliary, horizon int) *Evaluator {
	out := linalg.ClosedLoop(m.C, m.D, p.K)
	acl := linalg.ClosedLoop(m.A, m.B, a.K)
	return &Evaluator{
		out:     out,
		bw:      w.Bw,
		acl:     acl,
		pow:     linalg.NewPowerTable(acl, horizon-2),
		horizon: horizon,
	}
}

// Decay returns the decay value at offset i. Offsets beyond the precomputed
// table are computed on demand.
func (e *Evaluator) Decay(i int) float64 {
	var ai mat.Matrix
	if i < e.pow.Len() {
		ai = e.pow.At(i)
	} else {
		var p mat.Dense
		p.Pow(e.acl, i)
		ai = &p
	}
	var m mat.Dense
	m.Product(e.out, ai, e.bw)
	return linalg.Norm2(&m)
}

// Sequence returns Decay(0) .. Decay(horizon-2). It is empty for horizon 1.
func (e *Evaluator) Sequence() []float64 {
	if e.horizon < 2 {
		return []float64{}
	}
	seq := make([]float64, e.horizon-1)
	for i := range seq {
		seq[i] = e.Decay(i)
	}
	return seq
}
