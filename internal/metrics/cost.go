package metrics

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/sim"
)

// StageCost is the mean of xᵀQx + uᵀRu over a run.
type StageCost struct {
	name    string
	q, r    *mat.Dense
	total   float64
	samples int
}

func NewStageCost(q, r *mat.Dense) *StageCost {
	return &StageCost{name: "stage_cost", q: q, r: r}
}

func (s *StageCost) Name() string { return s.name }

func (s *StageCost) Observe(x sim.State, u sim.Control, g []float64, k int) {
	xv := mat.NewVecDense(len(x), x.Clone())
	s.total += mat.Inner(xv, s.q, xv)
	if len(u) > 0 {
		uv := mat.NewVecDense(len(u), append([]float64(nil), u...))
		s.total += mat.Inner(uv, s.r, uv)
	}
	s.samples++
}

func (s *StageCost) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return s.total / float64(s.samples)
}

func (s *StageCost) Reset() {
	s.total = 0
	s.samples = 0
}

// Default returns the metrics recorded by every closed-loop run.
func Default(q, r *mat.Dense) []sim.Metric {
	return []sim.Metric{
		NewControlEffort(),
		NewViolationRate(1e-9),
		NewPeakConstraint(),
		NewStageCost(q, r),
	}
}
