package sim

import (
	"math"
	"math/rand"
)

// NoDisturbance applies no disturbance.
type NoDisturbance struct{}

func (NoDisturbance) Sample(*rand.Rand, Plant, State, Control, []float64, int) []float64 {
	return nil
}

// Bounded draws w with ‖w‖ <= Scale·‖y‖, y = C x + D u + Dr r, in a uniformly
// random direction. Scale <= 1 keeps the disturbance inside the set the tube
// controller is robust against. With Extreme set every draw sits on the
// boundary.
type Bounded struct {
	Scale   float64
	Extreme bool
}

func (b Bounded) Sample(rng *rand.Rand, p Plant, x State, u Control, r []float64, k int) []float64 {
	nw := p.Dims().W
	w := make([]float64, nw)
	var norm float64
	for i := range w {
		w[i] = rng.NormFloat64()
		norm += w[i] * w[i]
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return w
	}

	radius := b.Scale * State(p.Output(x, u, r)).Norm()
	if !b.Extreme {
		radius *= rng.Float64()
	}
	for i := range w {
		w[i] *= radius / norm
	}
	return w
}
