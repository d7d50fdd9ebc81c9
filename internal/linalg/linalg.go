// Package linalg holds the small gonum helpers shared by the controller
// packages: identity construction, induced norms, noise clamping and
// precomputed matrix powers.
package linalg

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Epsilon is the magnitude below which generated coefficients are treated
// as numerical noise and replaced by an exact zero.
const Epsilon = 1e-10

// Eye returns the n by n identity matrix.
func Eye(n int) *mat.Dense {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Norm2 returns the induced 2-norm (largest singular value) of m. For a row
// or column vector this is the Euclidean length.
func Norm2(m mat.Matrix) float64 {
	r, c := m.Dims()
	if r == 1 || c == 1 {
		return mat.Norm(m, 2)
	}
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDNone) {
		// Frobenius bounds the spectral norm from above.
		return mat.Norm(m, 2)
	}
	return svd.Values(nil)[0]
}

// Clamp returns v, or exactly zero when |v| < Epsilon.
func Clamp(v float64) float64 {
	if math.Abs(v) < Epsilon {
		return 0
	}
	return v
}

// ClosedLoop returns a - b*k.
func ClosedLoop(a, b, k mat.Matrix) *mat.Dense {
	var bk mat.Dense
	bk.Mul(b, k)
	var out mat.Dense
	out.Sub(a, &bk)
	return &out
}

// HasNaNOrInf reports whether any entry of m is NaN or infinite.
func HasNaNOrInf(m mat.Matrix) bool {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}
