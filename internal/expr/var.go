package expr

import "fmt"

// Var is a matrix-shaped block of scalar slots, stored column-major.
type Var struct {
	Name string
	Kind Kind
	Rows int
	Cols int

	base int
}

// Size returns Rows·Cols.
func (v *Var) Size() int { return v.Rows * v.Cols }

// Index returns the global slot of entry (i, j) within the variable's kind.
func (v *Var) Index(i, j int) int {
	if i < 0 || i >= v.Rows || j < 0 || j >= v.Cols {
		panic(fmt.Sprintf("expr: index (%d, %d) out of range for %s (%dx%d)", i, j, v.Name, v.Rows, v.Cols))
	}
	return v.base + j*v.Rows + i
}

// At returns entry (i, j) as an affine expression.
func (v *Var) At(i, j int) Affine {
	return Affine{Terms: []Term{{Kind: v.Kind, Index: v.Index(i, j), Coef: 1}}}
}

// Col returns column j.
func (v *Var) Col(j int) Vec {
	out := make(Vec, v.Rows)
	for i := range out {
		out[i] = v.At(i, j)
	}
	return out
}

// Value extracts column j of v from a flat slot vector.
func (v *Var) Value(j int, slots []float64) []float64 {
	out := make([]float64, v.Rows)
	for i := range out {
		out[i] = slots[v.Index(i, j)]
	}
	return out
}

func (v *Var) String() string {
	return fmt.Sprintf("%s %s[%dx%d]", v.Kind, v.Name, v.Rows, v.Cols)
}
