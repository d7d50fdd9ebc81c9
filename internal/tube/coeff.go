package tube

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/linalg"
)

// Coefficients builds the lower-triangular propagation matrix
//
//	Coeff(k, i) = Σ_{j=0}^{k-i-1} Decay(j) · Coeff(k-j-1, i),  i < k
//
// with a unit diagonal, in a single forward pass over k. Entries smaller than
// linalg.Epsilon in magnitude are set to exactly zero.
func Coefficients(decay []float64, horizon int) *mat.TriDense {
	if horizon < 1 {
		panic(fmt.Sprintf("tube: horizon %d < 1", horizon))
	}
	if len(decay) < horizon-1 {
		panic(fmt.Sprintf("tube: %d decay values for horizon %d", len(decay), horizon))
	}

	coeff := mat.NewTriDense(horizon, mat.Lower, nil)
	for k := 0; k < horizon; k++ {
		coeff.SetTri(k, k, 1)
	}
	for k := 1; k < horizon; k++ {
		for i := 0; i < k; i++ {
			var sum float64
			for j := 0; j <= k-i-1; j++ {
				sum += decay[j] * coeff.At(k-j-1, i)
			}
			coeff.SetTri(k, i, sum)
		}
	}

	for k := 1; k < horizon; k++ {
		for i := 0; i < k; i++ {
			coeff.SetTri(k, i, linalg.Clamp(coeff.At(k, i)))
		}
	}
	return coeff
}
