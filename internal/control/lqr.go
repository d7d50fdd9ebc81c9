package control

import (
	"context"

	"github.com/san-kum/tubempc/internal/plant"
	"github.com/san-kum/tubempc/internal/sim"
)

// LQR applies the primary feedback law without any horizon optimisation.
type LQR struct {
	law plant.Primary
	ref []float64
}

func NewLQR(law plant.Primary, ref []float64) *LQR {
	return &LQR{law: law, ref: ref}
}

func (l *LQR) Compute(ctx context.Context, x sim.State, k int) (sim.Control, error) {
	return sim.Control(l.law.Control(x, l.ref, nil)), nil
}
