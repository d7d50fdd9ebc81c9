package metrics

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/sim"
)

func TestControlEffort(t *testing.T) {
	m := NewControlEffort()
	m.Observe(nil, sim.Control{3, -4}, nil, 0)
	m.Observe(nil, sim.Control{-1}, nil, 1)
	if got := m.Value(); got != 3 {
		t.Errorf("Value() = %v, want 3", got)
	}
	if got := m.Peak(); got != 5 {
		t.Errorf("Peak() = %v, want 5", got)
	}
	m.Reset()
	if got, peak := m.Value(), m.Peak(); got != 0 || peak != 0 {
		t.Errorf("after Reset Value() = %v, Peak() = %v, want 0, 0", got, peak)
	}
}

func TestViolationRate(t *testing.T) {
	tests := []struct {
		name string
		g    [][]float64
		want float64
	}{
		{"none", [][]float64{{-1, -2}, {0, -1}}, 0},
		{"half", [][]float64{{0.5, -1}, {-1, -1}}, 0.5},
		{"unconstrained", [][]float64{nil, nil}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewViolationRate(1e-9)
			for k, g := range tt.g {
				m.Observe(nil, nil, g, k)
			}
			if got := m.Value(); got != tt.want {
				t.Errorf("Value() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeakConstraint(t *testing.T) {
	m := NewPeakConstraint()
	if got := m.Value(); got != 0 {
		t.Errorf("Value() with no samples = %v, want 0", got)
	}
	m.Observe(nil, nil, []float64{-3, -1.5}, 0)
	m.Observe(nil, nil, []float64{-2}, 1)
	if got := m.Value(); got != -1.5 {
		t.Errorf("Value() = %v, want -1.5", got)
	}
}

func TestStageCost(t *testing.T) {
	q := mat.NewDense(2, 2, []float64{1, 0, 0, 2})
	r := mat.NewDense(1, 1, []float64{3})
	m := NewStageCost(q, r)
	m.Observe(sim.State{1, 1}, sim.Control{1}, nil, 0)
	if got := m.Value(); math.Abs(got-6) > 1e-12 {
		t.Errorf("Value() = %v, want 6", got)
	}
	if n := len(Default(q, r)); n != 4 {
		t.Errorf("len(Default()) = %d, want 4", n)
	}
}
