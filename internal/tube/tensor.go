package tube

import (
	"gonum.org/v1/gonum/mat"

	"github.com/san-kum/tubempc/internal/linalg"
	"github.com/san-kum/tubempc/internal/plant"
)

// Tensor holds one strictly lower-triangular horizon×horizon matrix per
// constraint row:
//
//	Factor(k, j, c) = ‖row_c(F - G·K) (A - B·K)^(k-j-1) Bw‖₂,  j < k
type Tensor []*mat.TriDense

// NewTensor builds the tightening tensor for the primary closed loop. It
// returns an empty tensor when cs is nil.
func NewTensor(m plant.Model, w plant.Disturbance, p plant.Primary, cs *plant.ConstraintSet, horizon int) Tensor {
	if cs == nil {
		return Tensor{}
	}
	nc := cs.Rows()
	fcl := linalg.ClosedLoop(cs.F, cs.G, p.K)
	acl := linalg.ClosedLoop(m.A, m.B, p.K)
	pow := linalg.NewPowerTable(acl, horizon-2)

	// gaps[g] = (F - G·K) Acl^g Bw, shared by every (k, j) with k-j-1 = g.
	gaps := make([]*mat.Dense, horizon-1)
	for g := range gaps {
		var mg mat.Dense
		mg.Product(fcl, pow.At(g), w.Bw)
		gaps[g] = &mg
	}

	t := make(Tensor, nc)
	for c := 0; c < nc; c++ {
		tri := mat.NewTriDense(horizon, mat.Lower, nil)
		for k := 1; k < horizon; k++ {
			for j := 0; j < k; j++ {
				tri.SetTri(k, j, linalg.Clamp(linalg.Norm2(gaps[k-j-1].RowView(c))))
			}
		}
		t[c] = tri
	}
	return t
}

// Rows returns the number of constraint rows.
func (t Tensor) Rows() int { return len(t) }

// Factor returns Factor(k, j, c), zero for j >= k.
func (t Tensor) Factor(k, j, c int) float64 {
	return t[c].At(k, j)
}
