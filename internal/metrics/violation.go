package metrics

import (
	"math"

	"github.com/san-kum/tubempc/internal/sim"
)

// ViolationRate is the fraction of samples at which any constraint row
// exceeds tolerance.
type ViolationRate struct {
	name       string
	tolerance  float64
	violations int
	samples    int
}

func NewViolationRate(tolerance float64) *ViolationRate {
	return &ViolationRate{
		name:      "violation_rate",
		tolerance: tolerance,
	}
}

func (v *ViolationRate) Name() string {
	return v.name
}

func (v *ViolationRate) Observe(x sim.State, u sim.Control, g []float64, k int) {
	v.samples++
	for _, val := range g {
		if val > v.tolerance {
			v.violations++
			break
		}
	}
}

func (v *ViolationRate) Value() float64 {
	if v.samples == 0 {
		return 0
	}
	return float64(v.violations) / float64(v.samples)
}

func (v *ViolationRate) Reset() {
	v.violations = 0
	v.samples = 0
}

// PeakConstraint is the largest constraint value seen. Nonpositive means
// every constraint held throughout.
type PeakConstraint struct {
	name string
	peak float64
}

func NewPeakConstraint() *PeakConstraint {
	return &PeakConstraint{name: "peak_constraint", peak: math.Inf(-1)}
}

func (p *PeakConstraint) Name() string { return p.name }

func (p *PeakConstraint) Observe(x sim.State, u sim.Control, g []float64, k int) {
	for _, val := range g {
		p.peak = math.Max(p.peak, val)
	}
}

func (p *PeakConstraint) Value() float64 {
	if math.IsInf(p.peak, -1) {
		return 0
	}
	return p.peak
}

func (p *PeakConstraint) Reset() { p.peak = math.Inf(-1) }
