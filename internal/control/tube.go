package control

import (
	"context"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/mpc"
	"github.com/san-kum/tubempc/internal/sim"
)

// Tube re-solves a compiled controller at every sample. For tracking
// controllers the constant reference is repeated over the whole horizon.
type Tube struct {
	ctrl *mpc.Controller
	ref  *mat.Dense
}

func NewTube(ctrl *mpc.Controller, ref []float64) *Tube {
	t := &Tube{ctrl: ctrl}
	if ctrl.Tracking {
		nr := ctrl.Dims().R
		t.ref = mat.NewDense(nr, ctrl.Horizon, nil)
		for k := 0; k < ctrl.Horizon; k++ {
			for i := 0; i < nr && i < len(ref); i++ {
				t.ref.Set(i, k, ref[i])
			}
		}
	}
	return t
}

func (t *Tube) Compute(ctx context.Context, x sim.State, k int) (sim.Control, error) {
	if t.ref != nil {
		u, err := t.ctrl.SolveTracking(ctx, x, t.ref)
		return sim.Control(u), err
	}
	u, err := t.ctrl.Solve(ctx, x)
	return sim.Control(u), err
}
