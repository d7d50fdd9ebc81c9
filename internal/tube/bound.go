package tube

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/expr"
	"github.com/san-kum/tubempc/internal/linalg"
	"github.com/san-kum/tubempc/internal/plant"
)

// Trajectory exposes the symbolic predicted trajectory of a horizon problem.
type Trajectory interface {
	// State returns x_k for k in [0, horizon].
	State(k int) expr.Vec
	// Input returns the perturbation v_k for k in [0, horizon).
	Input(k int) expr.Vec
	// Reference returns r_k, or nil when not tracking.
	Reference(k int) expr.Vec
}

// Sensitivity returns one norm per step,
//
//	Phi(k) = ‖(C - D·K) x_k + D v_k + (Dr - D·Kr) r_k‖₂
//
// the reference term present only when ref is non-nil.
func Sensitivity(m plant.Model, p plant.Primary, ref *plant.Reference, tr Trajectory, horizon int) []*expr.Norm {
	out := linalg.ClosedLoop(m.C, m.D, p.K)
	var outRef *mat.Dense
	if ref != nil {
		outRef = linalg.ClosedLoop(ref.Dr, m.D, p.Kr)
	}

	phi := make([]*expr.Norm, horizon)
	for k := range phi {
		arg := expr.AddVec(expr.MulVec(out, tr.State(k)), expr.MulVec(m.D, tr.Input(k)))
		if outRef != nil {
			arg = expr.AddVec(arg, expr.MulVec(outRef, tr.Reference(k)))
		}
		phi[k] = expr.NewNorm(arg)
	}
	return phi
}

// Aggregate returns PhiBar(k) = Σ_{i<=k} Coeff(k, i)·Phi(i).
func Aggregate(phi []*expr.Norm, coeff mat.Triangular) []expr.Convex {
	bar := make([]expr.Convex, len(phi))
	for k := range phi {
		var c expr.Convex
		for i := 0; i <= k; i++ {
			c = c.AddNorm(coeff.At(k, i), phi[i])
		}
		bar[k] = c
	}
	return bar
}

// Tighten returns CapPhi, indexed [row][step]:
//
//	CapPhi(c, k) = Σ_{j<k} Factor(k, j, c)·PhiBar(j)
//
// Each entry stays a nonnegative combination of the Phi norms, so it is
// convex in the trajectory.
func Tighten(bar []expr.Convex, t Tensor) [][]expr.Convex {
	out := make([][]expr.Convex, t.Rows())
	for c := range out {
		row := make([]expr.Convex, len(bar))
		for k := range bar {
			var sum expr.Convex
			for j := 0; j < k; j++ {
				if f := t.Factor(k, j, c); f != 0 {
					sum = sum.Add(bar[j].Scale(f))
				}
			}
			row[k] = sum
		}
		out[c] = row
	}
	return out
}

// Analysis is the numeric part of the tightening: everything that does not
// depend on the predicted trajectory.
type Analysis struct {
	Horizon      int
	Decay        []float64
	Coefficients *mat.TriDense
	Tensor       Tensor
}

// Analyze runs the decay evaluator, coefficient builder and tensor builder
// for a horizon. cs may be nil.
func Analyze(m plant.Model, w plant.Disturbance, p plant.Primary, a plant.Auxiliary, cs *plant.ConstraintSet, horizon int) *Analysis {
	decay := NewEvaluator(m, w, p, a, horizon).Sequence()
	return &Analysis{
		Horizon:      horizon,
		Decay:        decay,
		Coefficients: Coefficients(decay, horizon),
		Tensor:       NewTensor(m, w, p, cs, horizon),
	}
}

// Bound assembles CapPhi over a symbolic trajectory. It also returns the
// per-step Phi norms.
func (an *Analysis) Bound(m plant.Model, p plant.Primary, ref *plant.Reference, tr Trajectory) ([]*expr.Norm, [][]expr.Convex) {
	phi := Sensitivity(m, p, ref, tr, an.Horizon)
	return phi, Tighten(Aggregate(phi, an.Coefficients), an.Tensor)
}
