package linalg

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNorm2(t *testing.T) {
	tests := []struct {
		name string
		m    mat.Matrix
		want float64
	}{
		{"row", mat.NewDense(1, 2, []float64{3, 4}), 5},
		{"column", mat.NewDense(2, 1, []float64{3, 4}), 5},
		{"diagonal", mat.NewDense(2, 2, []float64{2, 0, 0, -7}), 7},
		{"zero", mat.NewDense(2, 2, nil), 0},
		{"rank one", mat.NewDense(2, 2, []float64{1, 1, 1, 1}), 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Norm2(tt.m); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Norm2() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	if Clamp(1e-11) != 0 || Clamp(-1e-11) != 0 {
		t.Error("sub-epsilon values should clamp to zero")
	}
	if Clamp(1e-9) != 1e-9 {
		t.Error("values above epsilon should pass through")
	}
}

func TestPowerTable(t *testing.T) {
	a := mat.NewDense(2, 2, []float64{0, 1, 0, 0})
	pt := NewPowerTable(a, 3)

	if pt.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", pt.Len())
	}
	if !mat.Equal(pt.At(0), Eye(2)) {
		t.Error("a^0 should be the identity")
	}
	if !mat.Equal(pt.At(1), a) {
		t.Error("a^1 should equal a")
	}
	if mat.Norm(pt.At(2), 2) != 0 {
		t.Error("nilpotent matrix squared should vanish")
	}
}

func TestClosedLoop(t *testing.T) {
	a := mat.NewDense(1, 1, []float64{0.5})
	b := mat.NewDense(1, 1, []float64{1})
	k := mat.NewDense(1, 1, []float64{0.5})

	if got := ClosedLoop(a, b, k).At(0, 0); got != 0 {
		t.Errorf("ClosedLoop = %v, want 0", got)
	}
}

func TestHasNaNOrInf(t *testing.T) {
	if HasNaNOrInf(mat.NewDense(1, 2, []float64{1, 2})) {
		t.Error("finite matrix flagged")
	}
	if !HasNaNOrInf(mat.NewDense(1, 2, []float64{1, math.NaN()})) {
		t.Error("NaN not detected")
	}
	if !HasNaNOrInf(mat.NewDense(1, 2, []float64{math.Inf(-1), 0})) {
		t.Error("Inf not detected")
	}
}
