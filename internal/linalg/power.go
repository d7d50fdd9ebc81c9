package linalg

import "gonum.org/v1/gonum/mat"

// PowerTable holds the precomputed powers a^0 .. a^n of a square matrix.
type PowerTable struct {
	pow []*mat.Dense
}

// NewPowerTable computes a^0 through a^n by repeated multiplication.
func NewPowerTable(a mat.Matrix, n int) *PowerTable {
	r, c := a.Dims()
	if r != c {
		panic(mat.ErrShape)
	}
	if n < 0 {
		n = 0
	}
	t := &PowerTable{pow: make([]*mat.Dense, n+1)}
	t.pow[0] = Eye(r)
	for i := 1; i <= n; i++ {
		next := mat.NewDense(r, r, nil)
		next.Mul(t.pow[i-1], a)
		t.pow[i] = next
	}
	return t
}

// At returns a^i. The returned matrix must not be modified.
func (t *PowerTable) At(i int) *mat.Dense {
	return t.pow[i]
}

// Len returns the number of stored powers.
func (t *PowerTable) Len() int {
	return len(t.pow)
}
