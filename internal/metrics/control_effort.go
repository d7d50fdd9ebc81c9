package metrics

import (
	"gonum.org/v1/gonum/floats"

	"github.com/san-kum/tubempc/internal/sim"
)

// ControlEffort is the mean Euclidean norm of the applied control.
type ControlEffort struct {
	sum     float64
	peak    float64
	samples int
}

func NewControlEffort() *ControlEffort {
	return &ControlEffort{}
}

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(_ sim.State, u sim.Control, _ []float64, _ int) {
	n := floats.Norm(u, 2)
	c.sum += n
	if n > c.peak {
		c.peak = n
	}
	c.samples++
}

func (c *ControlEffort) Value() float64 {
	if c.samples == 0 {
		return 0
	}
	return c.sum / float64(c.samples)
}

// Peak is the largest control norm seen since the last Reset.
func (c *ControlEffort) Peak() float64 { return c.peak }

func (c *ControlEffort) Reset() {
	*c = ControlEffort{}
}
